package payment

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/brojonat/mintpay/service/db"
	"github.com/brojonat/mintpay/service/pricing"
	"github.com/brojonat/mintpay/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// referenceBytes of entropy encode to a 12 or 13 character base58 reference.
const referenceBytes = 9

// CreateIntentRequest asks for a new payment intent.
type CreateIntentRequest struct {
	Wallet       string
	Count        int
	Model        string
	CollectionID string

	// QuotedLamports is the amount the client displayed, if any. It must be
	// within the configured tolerance of the server quote.
	QuotedLamports int64
}

// Intent is a created payment intent plus everything a wallet needs to pay it.
type Intent struct {
	PaymentID  uuid.UUID       `json:"paymentId"`
	Lamports   int64           `json:"lamports"`
	SOL        decimal.Decimal `json:"sol"`
	Treasury   string          `json:"treasury"`
	Reference  string          `json:"reference"`
	Memo       string          `json:"memo"`
	Model      string          `json:"model"`
	Count      int             `json:"count"`
	PaymentURL string          `json:"paymentUrl"`
	QRCode     string          `json:"qrCode,omitempty"`
}

// CreateIntent prices the request and stores a pending intent. The server
// quote is authoritative; the treasury is never defaulted.
func (s *Service) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	if s.cfg.Treasury.IsZero() {
		return nil, newError(CodeServerMisconfigured, nil, "treasury wallet is not configured")
	}
	if _, err := solanago.PublicKeyFromBase58(req.Wallet); err != nil {
		return nil, newError(CodeInvalidWallet, err, "wallet is not a valid address")
	}
	if req.Count < pricing.MinCount || req.Count > pricing.MaxCount {
		return nil, newError(CodeInvalidCount, nil, "count must be between %d and %d", pricing.MinCount, pricing.MaxCount)
	}

	quote := s.Quote(req.Count, req.Model)
	if req.QuotedLamports != 0 && !pricing.WithinTolerance(req.QuotedLamports, quote.Lamports, s.cfg.QuoteToleranceBps) {
		err := newError(CodeQuoteMismatch, nil, "quoted %d lamports but current price is %d", req.QuotedLamports, quote.Lamports)
		err.Detail = map[string]any{"lamports": quote.Lamports}
		return nil, err
	}

	reference, err := newReference()
	if err != nil {
		return nil, newError(CodeInternal, err, "failed to generate reference")
	}
	memo := s.cfg.MemoPrefix + reference

	params := db.CreatePaymentParams{
		Wallet:    req.Wallet,
		Lamports:  quote.Lamports,
		Count:     int32(quote.Count),
		Model:     quote.Model,
		Reference: reference,
		Memo:      memo,
	}
	if req.CollectionID != "" {
		params.CollectionID = &req.CollectionID
	}

	p, err := s.store.CreatePayment(ctx, params)
	if err != nil {
		return nil, newError(CodeInternal, err, "failed to store payment intent")
	}
	s.metrics.RecordIntentCreated(p.Model)

	treasury := s.cfg.Treasury.String()
	payURL := buildSolanaPayURL(treasury, p.Lamports, memo)
	qr, err := generateQRCode(payURL)
	if err != nil {
		// QR code is optional
		s.logger.WarnContext(ctx, "failed to render payment QR code", "error", err)
	}

	s.logger.InfoContext(ctx, "payment intent created",
		"payment_id", p.ID.String(),
		"wallet", p.Wallet,
		"lamports", p.Lamports,
		"model", p.Model,
		"count", p.Count,
	)

	return &Intent{
		PaymentID:  p.ID,
		Lamports:   p.Lamports,
		SOL:        quote.SOL,
		Treasury:   treasury,
		Reference:  reference,
		Memo:       memo,
		Model:      p.Model,
		Count:      quote.Count,
		PaymentURL: payURL,
		QRCode:     qr,
	}, nil
}

// GetPayment loads one intent.
func (s *Service) GetPayment(ctx context.Context, id string) (*db.Payment, error) {
	paymentID, err := uuid.Parse(id)
	if err != nil {
		return nil, newError(CodePaymentNotFound, err, "payment %q not found", id)
	}
	p, err := s.store.GetPayment(ctx, paymentID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, newError(CodePaymentNotFound, err, "payment %q not found", id)
	}
	if err != nil {
		return nil, newError(CodeInternal, err, "failed to load payment")
	}
	return p, nil
}

// ListPayments lists intents, newest first.
func (s *Service) ListPayments(ctx context.Context, params db.ListPaymentsParams) ([]*db.Payment, error) {
	switch params.Status {
	case "", db.StatusPending, db.StatusConfirmed, db.StatusFailed:
	default:
		return nil, newError(CodeInvalidRequest, nil, "unknown status %q", params.Status)
	}
	payments, err := s.store.ListPayments(ctx, params)
	if err != nil {
		return nil, newError(CodeInternal, err, "failed to list payments")
	}
	return payments, nil
}

// BuildTransferRequest asks for an unsigned payment transaction. With a
// PaymentID the stored intent supplies wallet, amount and memo.
type BuildTransferRequest struct {
	PaymentID string
	Wallet    string
	Lamports  uint64
	Memo      string
}

// BuildTransfer composes the unsigned transfer a wallet signs and submits.
func (s *Service) BuildTransfer(ctx context.Context, req BuildTransferRequest) (*solana.UnsignedTransaction, error) {
	if req.PaymentID != "" {
		p, err := s.GetPayment(ctx, req.PaymentID)
		if err != nil {
			return nil, err
		}
		if p.Status != db.StatusPending {
			return nil, newError(CodePaymentConflict, nil, "payment is already %s", p.Status)
		}
		req.Wallet, req.Lamports, req.Memo = p.Wallet, uint64(p.Lamports), p.Memo
	}

	payer, err := solanago.PublicKeyFromBase58(req.Wallet)
	if err != nil {
		return nil, newError(CodeInvalidWallet, err, "wallet is not a valid address")
	}
	if req.Lamports == 0 {
		return nil, newError(CodeInvalidAmount, nil, "lamports must be positive")
	}

	tx, err := s.builder.BuildTransfer(ctx, solana.TransferParams{
		Payer:    payer,
		Treasury: s.cfg.Treasury,
		Lamports: req.Lamports,
		Memo:     req.Memo,
	})
	if err != nil {
		return nil, fromChainError(err)
	}
	return tx, nil
}

func newReference() (string, error) {
	b := make([]byte, referenceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base58.Encode(b), nil
}
