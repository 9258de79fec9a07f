package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/brojonat/mintpay/service/db"
	"github.com/brojonat/mintpay/service/nats"
	"github.com/brojonat/mintpay/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// Callers label metrics and decide whether a pending result is handed off.
const (
	CallerHTTP     = "http"
	CallerWorkflow = "workflow"
)

// ConfirmRequest asks whether signature pays an intent (PaymentID) or a bare
// amount (ExpectedLamports) into the treasury.
type ConfirmRequest struct {
	Signature        string
	ExpectedLamports uint64
	Treasury         string
	PaymentID        string
	Wallet           string
	// CollectionID must match the intent's collection when set. It never
	// marks a collection paid on its own.
	CollectionID string
}

// ConfirmResult is a successful or still-pending confirmation.
type ConfirmResult struct {
	Pending             bool   `json:"pending"`
	Signature           string `json:"signature"`
	ExplorerURL         string `json:"explorerUrl"`
	FinalStatus         string `json:"finalStatus,omitempty"`
	TotalToTreasury     uint64 `json:"totalToTreasury,omitempty"`
	UsedBalanceFallback bool   `json:"usedBalanceFallback,omitempty"`
	PaymentID           string `json:"paymentId,omitempty"`
	PaymentStatus       string `json:"paymentStatus,omitempty"`
	WorkflowStarted     bool   `json:"workflowStarted,omitempty"`
}

// settlement is one resolved confirmation attempt.
type settlement struct {
	caller       string
	signature    solanago.Signature
	payment      *db.Payment // nil for a bare signature
	expected     uint64
	payer        *solanago.PublicKey
	memo         string
	collectionID string
}

func (st *settlement) sig() string { return st.signature.String() }

// Confirm waits up to the request budget for signature, then validates the
// transfer and settles the intent. A signature that has not settled within the
// budget yields a pending result, never an error; for intents the wait then
// continues in the background.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	st, err := s.resolve(ctx, req, CallerHTTP)
	if err != nil {
		return nil, err
	}

	res := s.confirmer.Await(ctx, st.signature, CallerHTTP)
	switch res.State {
	case solana.StateFailed:
		var chainErr any
		if res.Status != nil {
			chainErr = res.Status.Err
		}
		return nil, s.fail(ctx, st, chainErr)
	case solana.StateTimedOut, solana.StatePending, solana.StateUnknown:
		if ctx.Err() != nil {
			return nil, newError(CodeTimeout, res.LastErr, "confirmation wait was cancelled")
		}
		return s.pending(ctx, st)
	}
	return s.settle(ctx, st, res.State)
}

// Finalize completes a confirmation the background workflow waited on.
// state is the poller's terminal state for signature.
func (s *Service) Finalize(ctx context.Context, paymentID uuid.UUID, signature string, state solana.ConfirmationState) (*ConfirmResult, error) {
	st, err := s.resolve(ctx, ConfirmRequest{PaymentID: paymentID.String(), Signature: signature}, CallerWorkflow)
	if err != nil {
		return nil, err
	}

	switch state {
	case solana.StateConfirmed, solana.StateFinalized:
		return s.settle(ctx, st, state)
	case solana.StateFailed:
		return nil, s.fail(ctx, st, nil)
	}
	return s.pending(ctx, st)
}

func (s *Service) resolve(ctx context.Context, req ConfirmRequest, caller string) (*settlement, error) {
	if strings.TrimSpace(req.Signature) == "" {
		return nil, newError(CodeMissingSignature, nil, "signature is required")
	}
	if s.cfg.Treasury.IsZero() {
		s.logger.ErrorContext(ctx, "treasury wallet is not configured")
		return nil, newError(CodeServerMisconfigured, nil, "treasury wallet is not configured")
	}
	if req.Treasury != "" {
		treasury, err := solanago.PublicKeyFromBase58(req.Treasury)
		if err != nil || !treasury.Equals(s.cfg.Treasury) {
			return nil, newError(CodeInvalidTreasury, err, "treasury %q is not the platform treasury", req.Treasury)
		}
	}

	// A string that is not a signature can never be found on chain.
	sig, err := solanago.SignatureFromBase58(strings.TrimSpace(req.Signature))
	if err != nil {
		return nil, newError(CodeTxNotFound, err, "signature is not a valid transaction signature")
	}

	st := &settlement{
		caller:    caller,
		signature: sig,
		expected:  req.ExpectedLamports,
	}

	if req.PaymentID != "" {
		p, err := s.GetPayment(ctx, req.PaymentID)
		if err != nil {
			return nil, err
		}
		switch {
		case p.Status == db.StatusFailed:
			return nil, newError(CodePaymentConflict, nil, "payment already failed")
		case p.Status == db.StatusConfirmed && (p.TxSignature == nil || *p.TxSignature != sig.String()):
			return nil, newError(CodePaymentConflict, nil, "payment was settled by another transaction")
		}
		// The stored intent is authoritative for amount, memo and payer.
		st.payment = p
		st.expected = uint64(p.Lamports)
		st.memo = p.Memo
		if req.Wallet == "" {
			req.Wallet = p.Wallet
		}
		if p.CollectionID != nil {
			st.collectionID = *p.CollectionID
		}
	}

	// Only an intent can pay for a collection, and only the one it was
	// created for.
	if req.CollectionID != "" && req.CollectionID != st.collectionID {
		return nil, newError(CodeInvalidRequest, nil, "collectionId %q does not match the payment intent", req.CollectionID)
	}

	if st.expected == 0 {
		return nil, newError(CodeInvalidAmount, nil, "expectedLamports must be positive")
	}
	if req.Wallet != "" {
		payer, err := solanago.PublicKeyFromBase58(req.Wallet)
		if err != nil {
			return nil, newError(CodeInvalidWallet, err, "wallet is not a valid address")
		}
		st.payer = &payer
	}
	return st, nil
}

// settle fetches the confirmed transaction, validates it and applies the
// conditional pending -> confirmed update.
func (s *Service) settle(ctx context.Context, st *settlement, state solana.ConfirmationState) (*ConfirmResult, error) {
	tx, err := s.chain.FetchTransaction(ctx, st.signature)
	if errors.Is(err, solana.ErrRPC) {
		s.logger.WarnContext(ctx, "transaction fetch failed after confirmation, reporting pending",
			"signature", st.sig(),
			"error", err,
		)
		return s.pending(ctx, st)
	}
	if err != nil {
		return nil, fromChainError(err)
	}

	v, err := solana.ValidatePayment(tx, solana.ValidationRequest{
		Treasury:          s.cfg.Treasury,
		ExpectedLamports:  st.expected,
		ToleranceLamports: s.cfg.ToleranceLamports,
		Payer:             st.payer,
		ExpectedMemo:      st.memo,
		RequireMemo:       s.cfg.RequireMemo,
	})
	s.metrics.RecordValidation(string(validationOutcome(err)))
	if errors.Is(err, solana.ErrTxFailed) {
		return nil, s.fail(ctx, st, tx.Err)
	}
	if err != nil {
		perr := fromChainError(err)
		perr.Detail = map[string]any{"expectedLamports": st.expected}
		if v != nil {
			perr.Detail["totalToTreasury"] = v.TotalToTreasury
		}
		s.logger.WarnContext(ctx, "payment validation failed",
			"signature", st.sig(),
			"code", perr.Code,
			"expected", st.expected,
			"error", err,
		)
		return nil, perr
	}

	result := &ConfirmResult{
		Signature:           st.sig(),
		ExplorerURL:         s.cfg.ExplorerURL(st.sig()),
		FinalStatus:         string(state),
		TotalToTreasury:     v.TotalToTreasury,
		UsedBalanceFallback: v.UsedBalanceFallback,
	}

	if st.payment != nil {
		p, applied, err := s.store.ConfirmPaymentIfPending(ctx, st.payment.ID, st.sig())
		switch {
		case errors.Is(err, db.ErrSignatureInUse):
			return nil, newError(CodePaymentConflict, err, "signature already settles another payment")
		case err != nil:
			return nil, newError(CodeInternal, err, "failed to update payment")
		case !applied && (p.Status != db.StatusConfirmed || p.TxSignature == nil || *p.TxSignature != st.sig()):
			return nil, newError(CodePaymentConflict, nil, "payment is %s", p.Status)
		}
		result.PaymentID = p.ID.String()
		result.PaymentStatus = p.Status

		if applied {
			s.logger.InfoContext(ctx, "payment confirmed",
				"payment_id", p.ID.String(),
				"signature", st.sig(),
				"total_to_treasury", v.TotalToTreasury,
				"caller", st.caller,
			)
			s.publishPayment(ctx, nats.EventPaymentConfirmed, p, func(e *nats.PaymentEvent) {
				e.TotalToTreasury = v.TotalToTreasury
				e.FinalStatus = string(state)
			})
		}
	}

	// Upsert, so a retry repairs a flag that failed to write the first time.
	if st.payment != nil && st.collectionID != "" {
		if err := s.store.MarkCollectionPaid(ctx, st.collectionID, st.sig()); err != nil {
			s.logger.ErrorContext(ctx, "failed to mark collection paid",
				"collection_id", st.collectionID,
				"signature", st.sig(),
				"error", err,
			)
		}
	}

	return result, nil
}

// fail reports an on-chain failure. The intent is only marked failed when its
// own wallet signed the failed transaction, so a stranger's failed transaction
// cannot fail somebody else's intent.
func (s *Service) fail(ctx context.Context, st *settlement, chainErr any) error {
	perr := newError(CodeTxErr, solana.ErrTxFailed, "transaction failed on chain")
	perr.Detail = map[string]any{"txErr": chainErr}

	if st.payment == nil || st.payer == nil {
		return perr
	}

	tx, err := s.chain.FetchTransaction(ctx, st.signature)
	if err != nil || !tx.IsSigner(*st.payer) {
		return perr
	}
	if chainErr == nil {
		perr.Detail["txErr"] = tx.Err
	}

	applied, err := s.store.FailPaymentIfPending(ctx, st.payment.ID, st.sig(), string(CodeTxErr))
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to mark payment failed",
			"payment_id", st.payment.ID.String(),
			"error", err,
		)
		return perr
	}
	if applied {
		failed := *st.payment
		failed.Status = db.StatusFailed
		reason := string(CodeTxErr)
		failed.FailureReason = &reason
		sig := st.sig()
		failed.TxSignature = &sig
		s.publishPayment(ctx, nats.EventPaymentFailed, &failed, nil)
	}
	return perr
}

// pending records the signature on the intent and, for HTTP callers, hands the
// wait to the background workflow.
func (s *Service) pending(ctx context.Context, st *settlement) (*ConfirmResult, error) {
	result := &ConfirmResult{
		Pending:     true,
		Signature:   st.sig(),
		ExplorerURL: s.cfg.ExplorerURL(st.sig()),
	}
	if st.payment == nil {
		return result, nil
	}
	result.PaymentID = st.payment.ID.String()
	result.PaymentStatus = st.payment.Status

	attached, err := s.store.AttachSignature(ctx, st.payment.ID, st.sig())
	switch {
	case errors.Is(err, db.ErrSignatureInUse):
		return nil, newError(CodePaymentConflict, err, "signature already belongs to another payment")
	case err != nil:
		s.logger.WarnContext(ctx, "failed to attach signature to payment",
			"payment_id", result.PaymentID,
			"error", err,
		)
	case !attached:
		// The intent moved on or is waiting on another signature.
		p, err := s.store.GetPayment(ctx, st.payment.ID)
		if err != nil {
			return nil, newError(CodeInternal, err, "failed to load payment")
		}
		if p.TxSignature == nil || *p.TxSignature != st.sig() {
			return nil, newError(CodePaymentConflict, nil, "payment is awaiting another signature")
		}
		result.PaymentStatus = p.Status
	}

	if st.caller != CallerHTTP || s.workflows == nil {
		return result, nil
	}
	err = s.workflows.StartConfirmPayment(ctx, st.payment.ID, st.sig())
	s.metrics.RecordWorkflowStarted(err)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to start background confirmation",
			"payment_id", result.PaymentID,
			"signature", st.sig(),
			"error", err,
		)
		return result, nil
	}
	result.WorkflowStarted = true
	return result, nil
}

func (s *Service) publishPayment(ctx context.Context, eventType string, p *db.Payment, decorate func(*nats.PaymentEvent)) {
	if s.publisher == nil {
		return
	}
	event := nats.FromPayment(eventType, p)
	if decorate != nil {
		decorate(event)
	}
	if err := s.publisher.PublishPayment(ctx, event); err != nil {
		// Settlement already happened; the event is best effort.
		s.logger.ErrorContext(ctx, "failed to publish payment event",
			"payment_id", event.PaymentID,
			"type", eventType,
			"error", err,
		)
	}
}

func validationOutcome(err error) Code {
	if err == nil {
		return "ok"
	}
	return fromChainError(err).Code
}
