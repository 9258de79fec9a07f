package solana

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/mintpay/service/metrics"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// Builder composes unsigned transactions for wallets to sign.
// It only reads from RPC (blockhash, rent minimum); nothing touches chain
// state until the wallet broadcasts the signed transaction.
type Builder struct {
	client  *Client
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewBuilder(client *Client, m *metrics.Metrics, logger *slog.Logger) *Builder {
	return &Builder{
		client:  client,
		metrics: m,
		logger:  logger,
	}
}

// TransferParams describes a single SOL payment.
type TransferParams struct {
	Payer    solana.PublicKey
	Treasury solana.PublicKey
	Lamports uint64
	Memo     string // optional correlation string, e.g. "nftgen:<reference>"
}

// BuildTransfer composes payer -> treasury plus an optional memo, with payer as
// fee payer. The payer's signature slot is left zeroed for the wallet to fill.
func (b *Builder) BuildTransfer(ctx context.Context, p TransferParams) (out *UnsignedTransaction, err error) {
	defer func() { b.metrics.RecordTransactionBuilt("transfer", err) }()

	if p.Treasury.IsZero() {
		return nil, configError("treasury address is not set")
	}
	if p.Payer.IsZero() {
		return nil, inputError("payer address is required")
	}
	if p.Lamports == 0 {
		return nil, inputError("lamports must be positive")
	}

	instructions := []solana.Instruction{
		system.NewTransferInstruction(p.Lamports, p.Payer, p.Treasury).Build(),
	}
	if p.Memo != "" {
		instructions = append(instructions, NewMemoInstruction(p.Memo, p.Payer))
	}

	blockhash, err := b.client.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := solana.NewTransaction(instructions, blockhash.Blockhash, solana.TransactionPayer(p.Payer))
	if err != nil {
		return nil, fmt.Errorf("failed to compile transfer: %w", err)
	}

	encoded, err := tx.ToBase64()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transfer: %w", err)
	}

	b.logger.DebugContext(ctx, "built transfer transaction",
		"payer", p.Payer.String(),
		"treasury", p.Treasury.String(),
		"lamports", p.Lamports,
		"has_memo", p.Memo != "",
	)

	return &UnsignedTransaction{
		TxBase64:             encoded,
		Blockhash:            blockhash.Blockhash.String(),
		LastValidBlockHeight: blockhash.LastValidBlockHeight,
	}, nil
}

// NewMemoInstruction writes text verbatim as SPL Memo data, signed by signer.
// The memo program package length-prefixes the message, which would change
// the on-chain memo, so the instruction is assembled directly.
func NewMemoInstruction(text string, signer solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		solana.MemoProgramID,
		solana.AccountMetaSlice{solana.Meta(signer).SIGNER()},
		[]byte(text),
	)
}

// MintParams describes a gated one-of-one NFT mint paid by the buyer.
type MintParams struct {
	Gate     MintGateAccounts
	Metadata NFTMetadata

	// MintKey is the ephemeral mint keypair. A random one is generated when nil.
	MintKey *solana.PrivateKey
}

// MintTransaction is an unsigned mint transaction plus the addresses it creates.
type MintTransaction struct {
	UnsignedTransaction
	MintAddress  solana.PublicKey
	TokenAccount solana.PublicKey
	ConfigPDA    solana.PublicKey
	CounterPDA   solana.PublicKey
	MetadataPDA  solana.PublicKey
	EditionPDA   solana.PublicKey
}

// BuildMint composes pay_and_validate followed by the NFT creation
// instructions: create mint account, initialize mint, create the buyer's
// associated token account, mint one token, create metadata, create master
// edition. Only the ephemeral mint key signs here; the buyer signs as fee payer.
func (b *Builder) BuildMint(ctx context.Context, p MintParams) (out *MintTransaction, err error) {
	defer func() { b.metrics.RecordTransactionBuilt("mint", err) }()

	g := p.Gate
	switch {
	case g.ProgramID.IsZero():
		return nil, configError("mint gate program id is not set")
	case g.CollectionSeed.IsZero():
		return nil, configError("collection seed is not set")
	case g.Platform.IsZero():
		return nil, configError("treasury address is not set")
	case g.Creator.IsZero():
		return nil, configError("creator address is not set")
	case g.Buyer.IsZero():
		return nil, inputError("buyer wallet is required")
	}
	if err := p.Metadata.validate(); err != nil {
		return nil, err
	}

	mintKey := p.MintKey
	if mintKey == nil {
		k, err := solana.NewRandomPrivateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate mint keypair: %w", err)
		}
		mintKey = &k
	}
	mint := mintKey.PublicKey()
	buyer := g.Buyer

	gateIx, configPDA, counterPDA, err := NewPayAndValidateInstruction(g)
	if err != nil {
		return nil, fmt.Errorf("failed to derive mint gate addresses: %w", err)
	}

	tokenAccount, _, err := solana.FindAssociatedTokenAddress(buyer, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive token account: %w", err)
	}
	metadataPDA, _, err := solana.FindTokenMetadataAddress(mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive metadata address: %w", err)
	}
	editionPDA, _, err := FindMasterEditionAddress(mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive edition address: %w", err)
	}

	rent, err := b.client.RentExemptMinimum(ctx, token.MINT_SIZE)
	if err != nil {
		return nil, err
	}

	createMint, err := system.NewCreateAccountInstruction(rent, token.MINT_SIZE, solana.TokenProgramID, buyer, mint).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build create account: %w", err)
	}
	initMint, err := token.NewInitializeMint2Instruction(0, buyer, buyer, mint).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build initialize mint: %w", err)
	}
	createATA, err := associatedtokenaccount.NewCreateInstruction(buyer, buyer, mint).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build token account: %w", err)
	}
	mintTo, err := token.NewMintToInstruction(1, mint, tokenAccount, buyer, nil).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build mint to: %w", err)
	}
	metadataIx, err := newCreateMetadataV3Instruction(metadataPDA, mint, buyer, buyer, buyer, p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata: %w", err)
	}
	editionIx, err := newCreateMasterEditionV3Instruction(editionPDA, mint, buyer, buyer, buyer, metadataPDA)
	if err != nil {
		return nil, fmt.Errorf("failed to build master edition: %w", err)
	}

	blockhash, err := b.client.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{gateIx, createMint, initMint, createATA, mintTo, metadataIx, editionIx},
		blockhash.Blockhash,
		solana.TransactionPayer(buyer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compile mint transaction: %w", err)
	}

	if _, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(mint) {
			return mintKey
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to sign with mint key: %w", err)
	}

	encoded, err := tx.ToBase64()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize mint transaction: %w", err)
	}

	b.logger.InfoContext(ctx, "built mint transaction",
		"buyer", buyer.String(),
		"mint", mint.String(),
		"config_pda", configPDA.String(),
	)

	return &MintTransaction{
		UnsignedTransaction: UnsignedTransaction{
			TxBase64:             encoded,
			Blockhash:            blockhash.Blockhash.String(),
			LastValidBlockHeight: blockhash.LastValidBlockHeight,
		},
		MintAddress:  mint,
		TokenAccount: tokenAccount,
		ConfigPDA:    configPDA,
		CounterPDA:   counterPDA,
		MetadataPDA:  metadataPDA,
		EditionPDA:   editionPDA,
	}, nil
}
