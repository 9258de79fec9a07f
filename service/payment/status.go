package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/brojonat/mintpay/service/db"
	"github.com/brojonat/mintpay/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// Chain status values reported by Status.
const (
	ChainPending   = "pending"
	ChainConfirmed = "confirmed"
	ChainFinalized = "finalized"
	ChainErr       = "err"
)

// StatusResult is a single status lookup for a signature.
type StatusResult struct {
	Signature     string  `json:"signature"`
	Status        string  `json:"status"`
	ExplorerURL   string  `json:"explorerUrl"`
	Slot          uint64  `json:"slot,omitempty"`
	Confirmations *uint64 `json:"confirmations,omitempty"`
	Err           any     `json:"err,omitempty"`
	PaymentID     string  `json:"paymentId,omitempty"`
	PaymentStatus string  `json:"paymentStatus,omitempty"`
}

// Status performs one status lookup. It never waits; clients poll it after a
// pending confirmation instead of resubmitting the transaction.
func (s *Service) Status(ctx context.Context, signature string) (*StatusResult, error) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return nil, newError(CodeMissingSignature, nil, "sig is required")
	}
	sig, err := solanago.SignatureFromBase58(signature)
	if err != nil {
		return nil, newError(CodeTxNotFound, err, "signature is not a valid transaction signature")
	}

	status, err := s.chain.SignatureStatus(ctx, sig)
	if err != nil {
		return nil, fromChainError(err)
	}

	result := &StatusResult{
		Signature:   sig.String(),
		Status:      chainStatus(status),
		ExplorerURL: s.cfg.ExplorerURL(sig.String()),
	}
	if status != nil {
		result.Slot = status.Slot
		result.Confirmations = status.Confirmations
		result.Err = status.Err
	}

	p, err := s.store.GetPaymentBySignature(ctx, sig.String())
	switch {
	case err == nil:
		result.PaymentID = p.ID.String()
		result.PaymentStatus = p.Status
	case !errors.Is(err, db.ErrNotFound):
		s.logger.WarnContext(ctx, "failed to look up payment by signature", "signature", sig.String(), "error", err)
	}

	return result, nil
}

func chainStatus(status *solana.SignatureStatus) string {
	switch {
	case status == nil:
		return ChainPending
	case status.Err != nil:
		return ChainErr
	case status.ConfirmationStatus == solana.CommitmentFinalized:
		return ChainFinalized
	case status.ConfirmationStatus == solana.CommitmentConfirmed:
		return ChainConfirmed
	}
	return ChainPending
}
