package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/mintpay/service/db"
	"github.com/brojonat/mintpay/service/metrics"
	"github.com/brojonat/mintpay/service/payment"
	"github.com/brojonat/mintpay/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

// AwaitConfirmationInput contains parameters for the AwaitConfirmation activity.
type AwaitConfirmationInput struct {
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// AwaitConfirmationResult contains the terminal poller state for a signature.
type AwaitConfirmationResult struct {
	State   string        `json:"state"`
	Ticks   int           `json:"ticks"`
	Elapsed time.Duration `json:"elapsed"`
}

// FinalizePaymentInput contains parameters for the FinalizePayment activity.
type FinalizePaymentInput struct {
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
	State     string `json:"state"`
}

// FinalizePaymentResult is the settled outcome. Code is set when the payment
// was rejected (wrong amount, failed transaction, conflict).
type FinalizePaymentResult struct {
	Pending         bool   `json:"pending"`
	PaymentStatus   string `json:"payment_status,omitempty"`
	TotalToTreasury uint64 `json:"total_to_treasury,omitempty"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// ResumePendingInput contains parameters for the ResumePending activity.
type ResumePendingInput struct {
	// OlderThan skips intents whose signature was attached recently; those
	// are still covered by their first workflow.
	OlderThan time.Duration `json:"older_than"`
	// MaxAge stops resuming intents created longer ago than this. Zero
	// resumes every age.
	MaxAge time.Duration `json:"max_age"`
	Limit  int32         `json:"limit"`
}

// ResumePendingResult contains the number of confirmation workflows started.
type ResumePendingResult struct {
	Considered int `json:"considered"`
	Started    int `json:"started"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	ListPendingWithSignature(ctx context.Context, olderThan, maxAge time.Duration, limit int32) ([]*db.Payment, error)
}

// FinalizerInterface settles a payment once its signature reached a terminal
// state. *payment.Service implements it.
type FinalizerInterface interface {
	Finalize(ctx context.Context, paymentID uuid.UUID, signature string, state solana.ConfirmationState) (*payment.ConfirmResult, error)
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	store     StoreInterface
	confirmer payment.Confirmer
	finalizer FinalizerInterface
	starter   payment.WorkflowStarter
	metrics   *metrics.Metrics
	logger    *slog.Logger

	heartbeatEvery time.Duration
}

// NewActivities creates a new Activities instance with explicit dependencies.
// confirmer should carry the long confirmation budget. If metrics is nil, no
// metrics will be recorded.
func NewActivities(store StoreInterface, confirmer payment.Confirmer, finalizer FinalizerInterface, starter payment.WorkflowStarter, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:          store,
		confirmer:      confirmer,
		finalizer:      finalizer,
		starter:        starter,
		metrics:        m,
		logger:         logger,
		heartbeatEvery: 10 * time.Second,
	}
}

// AwaitConfirmation polls the signature until it reaches a terminal state,
// heartbeating while it waits.
func (a *Activities) AwaitConfirmation(ctx context.Context, input AwaitConfirmationInput) (*AwaitConfirmationResult, error) {
	sig, err := solanago.SignatureFromBase58(input.Signature)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid signature %q", input.Signature), string(payment.CodeTxNotFound), err)
	}

	a.logger.InfoContext(ctx, "awaiting confirmation",
		"payment_id", input.PaymentID,
		"signature", input.Signature,
	)

	// Send heartbeats while waiting so Temporal knows the activity is alive.
	heartbeatCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(a.heartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx, input.Signature)
			}
		}
	}()

	res := a.confirmer.Await(ctx, sig, payment.CallerWorkflow)
	if res.State == solana.StateTimedOut && ctx.Err() != nil {
		return nil, fmt.Errorf("confirmation wait cancelled: %w", ctx.Err())
	}

	a.logger.InfoContext(ctx, "confirmation wait finished",
		"payment_id", input.PaymentID,
		"signature", input.Signature,
		"state", res.State,
		"ticks", res.Ticks,
		"elapsed", res.Elapsed,
	)

	return &AwaitConfirmationResult{
		State:   string(res.State),
		Ticks:   res.Ticks,
		Elapsed: res.Elapsed,
	}, nil
}

// FinalizePayment validates and settles the payment. Rejections are returned
// as results; only infrastructure failures are returned as errors so that
// Temporal retries them.
func (a *Activities) FinalizePayment(ctx context.Context, input FinalizePaymentInput) (*FinalizePaymentResult, error) {
	paymentID, err := uuid.Parse(input.PaymentID)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid payment id %q", input.PaymentID), string(payment.CodePaymentNotFound), err)
	}

	res, err := a.finalizer.Finalize(ctx, paymentID, input.Signature, solana.ConfirmationState(input.State))
	if err != nil {
		code := payment.CodeOf(err)
		switch code {
		case payment.CodeInternal, payment.CodeRPCUnavailable, payment.CodeServerMisconfigured:
			a.logger.ErrorContext(ctx, "failed to finalize payment",
				"payment_id", input.PaymentID,
				"signature", input.Signature,
				"code", code,
				"error", err,
			)
			return nil, fmt.Errorf("failed to finalize payment: %w", err)
		}
		a.logger.WarnContext(ctx, "payment rejected",
			"payment_id", input.PaymentID,
			"signature", input.Signature,
			"code", code,
			"error", err,
		)
		return &FinalizePaymentResult{Code: string(code), Message: err.Error()}, nil
	}

	return &FinalizePaymentResult{
		Pending:         res.Pending,
		PaymentStatus:   res.PaymentStatus,
		TotalToTreasury: res.TotalToTreasury,
	}, nil
}

// ResumePending restarts confirmation workflows for intents left pending with
// a signature, for example after a worker restart. Workflow IDs are derived
// from the payment ID, so a workflow that is still running is not duplicated.
func (a *Activities) ResumePending(ctx context.Context, input ResumePendingInput) (*ResumePendingResult, error) {
	if input.Limit <= 0 {
		input.Limit = 100
	}

	payments, err := a.store.ListPendingWithSignature(ctx, input.OlderThan, input.MaxAge, input.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending payments: %w", err)
	}

	result := &ResumePendingResult{Considered: len(payments)}
	for _, p := range payments {
		if p.TxSignature == nil {
			continue
		}
		err := a.starter.StartConfirmPayment(ctx, p.ID, *p.TxSignature)
		a.metrics.RecordWorkflowStarted(err)
		if err != nil {
			a.logger.ErrorContext(ctx, "failed to resume confirmation",
				"payment_id", p.ID.String(),
				"signature", *p.TxSignature,
				"error", err,
			)
			continue
		}
		result.Started++
	}

	a.logger.InfoContext(ctx, "resumed pending confirmations",
		"considered", result.Considered,
		"started", result.Started,
	)
	return result, nil
}
