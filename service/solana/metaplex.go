package solana

import (
	"bytes"
	"encoding/binary"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Token Metadata program instruction discriminators.
const (
	metaplexCreateMetadataAccountV3 = uint8(33)
	metaplexCreateMasterEditionV3   = uint8(17)
)

// Limits enforced by the Token Metadata program.
const (
	MaxNameLength   = 32
	MaxSymbolLength = 10
	MaxURILength    = 200
)

// NFTMetadata is the on-chain metadata written for a freshly minted NFT.
type NFTMetadata struct {
	Name                 string
	Symbol               string
	URI                  string
	SellerFeeBasisPoints uint16
}

func (m NFTMetadata) validate() error {
	switch {
	case m.Name == "" || len(m.Name) > MaxNameLength:
		return inputError("name must be 1-%d bytes", MaxNameLength)
	case len(m.Symbol) > MaxSymbolLength:
		return inputError("symbol must be at most %d bytes", MaxSymbolLength)
	case m.URI == "" || len(m.URI) > MaxURILength:
		return inputError("metadata uri must be 1-%d bytes", MaxURILength)
	case m.SellerFeeBasisPoints > 10_000:
		return inputError("seller fee basis points must be at most 10000")
	}
	return nil
}

// FindMasterEditionAddress derives ["metadata", program, mint, "edition"].
func FindMasterEditionAddress(mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{
		[]byte("metadata"),
		solana.TokenMetadataProgramID[:],
		mint[:],
		[]byte("edition"),
	}, solana.TokenMetadataProgramID)
}

// newCreateMetadataV3Instruction encodes CreateMetadataAccountV3 with no
// creators, collection or uses, and mutable metadata.
func newCreateMetadataV3Instruction(
	metadataPDA, mint, mintAuthority, payer, updateAuthority solana.PublicKey,
	md NFTMetadata,
) (solana.Instruction, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)

	steps := []func() error{
		func() error { return enc.WriteUint8(metaplexCreateMetadataAccountV3) },
		// DataV2
		func() error { return enc.WriteString(md.Name) },
		func() error { return enc.WriteString(md.Symbol) },
		func() error { return enc.WriteString(md.URI) },
		func() error { return enc.WriteUint16(md.SellerFeeBasisPoints, binary.LittleEndian) },
		func() error { return enc.WriteOption(false) }, // creators
		func() error { return enc.WriteOption(false) }, // collection
		func() error { return enc.WriteOption(false) }, // uses
		// is_mutable
		func() error { return enc.WriteBool(true) },
		// collection_details
		func() error { return enc.WriteOption(false) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	accounts := solana.AccountMetaSlice{
		solana.Meta(metadataPDA).WRITE(),
		solana.Meta(mint),
		solana.Meta(mintAuthority).SIGNER(),
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(updateAuthority).SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}
	return solana.NewInstruction(solana.TokenMetadataProgramID, accounts, buf.Bytes()), nil
}

// newCreateMasterEditionV3Instruction encodes CreateMasterEditionV3 with
// max_supply = Some(0), making the NFT a one of one.
func newCreateMasterEditionV3Instruction(
	editionPDA, mint, updateAuthority, mintAuthority, payer, metadataPDA solana.PublicKey,
) (solana.Instruction, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteUint8(metaplexCreateMasterEditionV3); err != nil {
		return nil, err
	}
	if err := enc.WriteOption(true); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(0, binary.LittleEndian); err != nil {
		return nil, err
	}

	accounts := solana.AccountMetaSlice{
		solana.Meta(editionPDA).WRITE(),
		solana.Meta(mint).WRITE(),
		solana.Meta(updateAuthority).SIGNER(),
		solana.Meta(mintAuthority).SIGNER(),
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(metadataPDA).WRITE(),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(solana.SystemProgramID),
	}
	return solana.NewInstruction(solana.TokenMetadataProgramID, accounts, buf.Bytes()), nil
}
