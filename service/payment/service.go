// Package payment orchestrates payment intents: quoting, transaction
// composition, on-chain confirmation, validation and settlement.
package payment

import (
	"context"
	"log/slog"

	"github.com/brojonat/mintpay/service/db"
	"github.com/brojonat/mintpay/service/metrics"
	"github.com/brojonat/mintpay/service/nats"
	"github.com/brojonat/mintpay/service/pricing"
	"github.com/brojonat/mintpay/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// Store is the persistence the payment flow needs. *db.Store implements it.
type Store interface {
	CreatePayment(ctx context.Context, params db.CreatePaymentParams) (*db.Payment, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*db.Payment, error)
	GetPaymentBySignature(ctx context.Context, signature string) (*db.Payment, error)
	ListPayments(ctx context.Context, params db.ListPaymentsParams) ([]*db.Payment, error)
	AttachSignature(ctx context.Context, id uuid.UUID, signature string) (bool, error)
	ConfirmPaymentIfPending(ctx context.Context, id uuid.UUID, signature string) (*db.Payment, bool, error)
	FailPaymentIfPending(ctx context.Context, id uuid.UUID, signature, reason string) (bool, error)
	MarkCollectionPaid(ctx context.Context, collectionID, signature string) error
	RecordMint(ctx context.Context, params db.RecordMintParams) (*db.Mint, error)
	SetCollectionMint(ctx context.Context, collectionID, mintAddress string) error
	ListMintsByWallet(ctx context.Context, wallet string, limit int32) ([]*db.Mint, error)
}

// Chain reads signature status and parsed transactions. *solana.Client implements it.
type Chain interface {
	SignatureStatus(ctx context.Context, signature solanago.Signature) (*solana.SignatureStatus, error)
	FetchTransaction(ctx context.Context, signature solanago.Signature) (*solana.ParsedTransaction, error)
}

// Confirmer waits for a signature to settle. *solana.Poller implements it.
type Confirmer interface {
	Await(ctx context.Context, signature solanago.Signature, caller string) solana.ConfirmationResult
}

// TxBuilder composes unsigned transactions. *solana.Builder implements it.
type TxBuilder interface {
	BuildTransfer(ctx context.Context, p solana.TransferParams) (*solana.UnsignedTransaction, error)
	BuildMint(ctx context.Context, p solana.MintParams) (*solana.MintTransaction, error)
}

// WorkflowStarter hands a still-pending confirmation to the background worker.
type WorkflowStarter interface {
	StartConfirmPayment(ctx context.Context, paymentID uuid.UUID, signature string) error
}

// Config holds the settlement rules.
type Config struct {
	Treasury          solanago.PublicKey
	ToleranceLamports uint64
	RequireMemo       bool
	MemoPrefix        string
	QuoteToleranceBps int

	// Mint gate accounts; Buyer is filled per request.
	MintGate solana.MintGateAccounts

	// ExplorerURL renders a block explorer link for a signature.
	ExplorerURL func(signature string) string
}

// Service implements the payment operations behind the HTTP API and the
// background confirmation workflow.
type Service struct {
	cfg       Config
	store     Store
	chain     Chain
	confirmer Confirmer
	builder   TxBuilder
	pricer    *pricing.Pricer
	publisher nats.Publisher
	workflows WorkflowStarter
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Deps are the collaborators of a Service. Workflows and Publisher may be nil.
type Deps struct {
	Store     Store
	Chain     Chain
	Confirmer Confirmer
	Builder   TxBuilder
	Pricer    *pricing.Pricer
	Publisher nats.Publisher
	Workflows WorkflowStarter
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// NewService creates a Service. The Confirmer should be bounded by the
// per-request budget; background confirmation uses its own poller.
func NewService(cfg Config, deps Deps) *Service {
	if cfg.ExplorerURL == nil {
		cfg.ExplorerURL = func(sig string) string { return "https://explorer.solana.com/tx/" + sig }
	}
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		chain:     deps.Chain,
		confirmer: deps.Confirmer,
		builder:   deps.Builder,
		pricer:    deps.Pricer,
		publisher: deps.Publisher,
		workflows: deps.Workflows,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}
}

// Quote prices count images of model.
func (s *Service) Quote(count int, model string) pricing.Quote {
	q := s.pricer.Quote(count, model)
	s.metrics.RecordQuote(q.Model)
	return q
}

// DefaultModel is the model used when a request names none.
func (s *Service) DefaultModel() string {
	return s.pricer.DefaultModel()
}

// Treasury returns the configured treasury address.
func (s *Service) Treasury() solanago.PublicKey {
	return s.cfg.Treasury
}
