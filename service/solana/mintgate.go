package solana

import (
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var (
	configSeedPrefix  = []byte("cfg")
	counterSeedPrefix = []byte("ctr")
)

// payAndValidateDiscriminator is the Anchor instruction selector:
// the first 8 bytes of sha256("global:pay_and_validate").
var payAndValidateDiscriminator = bin.Sighash(bin.SIGHASH_GLOBAL_NAMESPACE, "pay_and_validate")

// DeriveConfigPDA returns the collection config account: ["cfg", collectionSeed].
func DeriveConfigPDA(collectionSeed, programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{configSeedPrefix, collectionSeed[:]}, programID)
}

// DeriveCounterPDA returns the per-wallet mint counter: ["ctr", collectionSeed, buyer].
func DeriveCounterPDA(collectionSeed, buyer, programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{counterSeedPrefix, collectionSeed[:], buyer[:]}, programID)
}

// MintGateAccounts are the accounts the pay_and_validate instruction touches.
type MintGateAccounts struct {
	ProgramID      solana.PublicKey
	CollectionSeed solana.PublicKey
	Buyer          solana.PublicKey
	Creator        solana.PublicKey
	Platform       solana.PublicKey
}

// NewPayAndValidateInstruction builds the mint gate call that charges the buyer
// the collection price (split between creator and platform on chain) and bumps
// the buyer's mint counter. The instruction takes no arguments.
func NewPayAndValidateInstruction(a MintGateAccounts) (solana.Instruction, solana.PublicKey, solana.PublicKey, error) {
	configPDA, _, err := DeriveConfigPDA(a.CollectionSeed, a.ProgramID)
	if err != nil {
		return nil, solana.PublicKey{}, solana.PublicKey{}, err
	}
	counterPDA, _, err := DeriveCounterPDA(a.CollectionSeed, a.Buyer, a.ProgramID)
	if err != nil {
		return nil, solana.PublicKey{}, solana.PublicKey{}, err
	}

	accounts := solana.AccountMetaSlice{
		solana.Meta(a.Buyer).WRITE().SIGNER(),
		solana.Meta(a.Creator).WRITE(),
		solana.Meta(a.Platform).WRITE(),
		solana.Meta(configPDA),
		solana.Meta(counterPDA).WRITE(),
		solana.Meta(a.CollectionSeed),
		solana.Meta(solana.SystemProgramID),
	}

	data := make([]byte, len(payAndValidateDiscriminator))
	copy(data, payAndValidateDiscriminator)

	return solana.NewInstruction(a.ProgramID, accounts, data), configPDA, counterPDA, nil
}
