package payment

import (
	"context"
	"errors"
	"time"

	"github.com/brojonat/mintpay/service/db"
	"github.com/brojonat/mintpay/service/nats"
	"github.com/brojonat/mintpay/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// StartMintRequest asks for a gated one-of-one mint transaction.
type StartMintRequest struct {
	Wallet               string
	MetadataURI          string
	Name                 string
	Symbol               string
	SellerFeeBasisPoints uint16
	CollectionID         string
}

// StartMintResult is the partially signed mint transaction for the wallet.
type StartMintResult struct {
	TxBase64             string `json:"txBase64"`
	RecentBlockhash      string `json:"recentBlockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	MintAddress          string `json:"mintAddress"`
	TokenAccount         string `json:"tokenAccount"`
	ConfigPDA            string `json:"configPda"`
	CounterPDA           string `json:"counterPda"`
}

// StartMint composes the mint transaction. Payment for the mint happens on
// chain inside pay_and_validate when the wallet submits it.
func (s *Service) StartMint(ctx context.Context, req StartMintRequest) (*StartMintResult, error) {
	buyer, err := solanago.PublicKeyFromBase58(req.Wallet)
	if err != nil {
		return nil, newError(CodeInvalidWallet, err, "wallet is not a valid address")
	}

	gate := s.cfg.MintGate
	gate.Buyer = buyer

	tx, err := s.builder.BuildMint(ctx, solana.MintParams{
		Gate: gate,
		Metadata: solana.NFTMetadata{
			Name:                 req.Name,
			Symbol:               req.Symbol,
			URI:                  req.MetadataURI,
			SellerFeeBasisPoints: req.SellerFeeBasisPoints,
		},
	})
	switch {
	case errors.Is(err, solana.ErrInvalidInput):
		return nil, newError(CodeInvalidMetadata, err, "invalid mint request")
	case errors.Is(err, solana.ErrConfiguration):
		s.logger.ErrorContext(ctx, "mint gate is misconfigured", "error", err)
		return nil, fromChainError(err)
	case err != nil:
		return nil, fromChainError(err)
	}

	record := db.RecordMintParams{
		MinterWallet: req.Wallet,
		MintAddress:  tx.MintAddress.String(),
		MetadataURI:  req.MetadataURI,
		Name:         req.Name,
		Symbol:       req.Symbol,
	}
	if req.CollectionID != "" {
		record.CollectionID = &req.CollectionID
	}
	if _, err := s.store.RecordMint(ctx, record); err != nil {
		s.logger.ErrorContext(ctx, "failed to record mint", "mint", record.MintAddress, "error", err)
	}
	if req.CollectionID != "" {
		if err := s.store.SetCollectionMint(ctx, req.CollectionID, record.MintAddress); err != nil {
			s.logger.ErrorContext(ctx, "failed to set collection mint",
				"collection_id", req.CollectionID,
				"mint", record.MintAddress,
				"error", err,
			)
		}
	}

	if s.publisher != nil {
		err := s.publisher.PublishMint(ctx, &nats.MintEvent{
			MintAddress:  record.MintAddress,
			MinterWallet: record.MinterWallet,
			CollectionID: record.CollectionID,
			MetadataURI:  record.MetadataURI,
			PublishedAt:  time.Now().UTC(),
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to publish mint event", "mint", record.MintAddress, "error", err)
		}
	}

	s.logger.InfoContext(ctx, "mint transaction composed",
		"wallet", req.Wallet,
		"mint", record.MintAddress,
		"collection_id", req.CollectionID,
	)

	return &StartMintResult{
		TxBase64:             tx.TxBase64,
		RecentBlockhash:      tx.Blockhash,
		LastValidBlockHeight: tx.LastValidBlockHeight,
		MintAddress:          record.MintAddress,
		TokenAccount:         tx.TokenAccount.String(),
		ConfigPDA:            tx.ConfigPDA.String(),
		CounterPDA:           tx.CounterPDA.String(),
	}, nil
}

// ListMints returns the mints composed for wallet, newest first.
func (s *Service) ListMints(ctx context.Context, wallet string, limit int32) ([]*db.Mint, error) {
	if _, err := solanago.PublicKeyFromBase58(wallet); err != nil {
		return nil, newError(CodeInvalidWallet, err, "wallet is not a valid address")
	}
	mints, err := s.store.ListMintsByWallet(ctx, wallet, limit)
	if err != nil {
		return nil, newError(CodeInternal, err, "failed to list mints")
	}
	return mints, nil
}
