package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// Workflow outcome values reported in ConfirmPaymentResult.Status.
const (
	OutcomeConfirmed = "confirmed"
	OutcomePending   = "pending"
	OutcomeRejected  = "rejected"
)

// DefaultAwaitTimeout bounds the background confirmation wait when the input
// does not set one.
const DefaultAwaitTimeout = 90 * time.Second

// ConfirmPaymentInput contains the input for ConfirmPaymentWorkflow.
type ConfirmPaymentInput struct {
	PaymentID    string        `json:"payment_id"`
	Signature    string        `json:"signature"`
	AwaitTimeout time.Duration `json:"await_timeout"`
}

// ConfirmPaymentResult contains the outcome of a background confirmation.
type ConfirmPaymentResult struct {
	PaymentID       string  `json:"payment_id"`
	Signature       string  `json:"signature"`
	ChainState      string  `json:"chain_state"`
	Status          string  `json:"status"`
	PaymentStatus   string  `json:"payment_status,omitempty"`
	TotalToTreasury uint64  `json:"total_to_treasury,omitempty"`
	Code            string  `json:"code,omitempty"`
	Error           *string `json:"error,omitempty"`
}

// ConfirmPaymentWorkflow continues a confirmation that outlived the HTTP
// request budget.
//
// The workflow performs these steps:
// 1. Poll the signature with the long budget (AwaitConfirmation activity)
// 2. Validate and settle the intent (FinalizePayment activity)
func ConfirmPaymentWorkflow(ctx workflow.Context, input ConfirmPaymentInput) (*ConfirmPaymentResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ConfirmPaymentWorkflow started",
		"payment_id", input.PaymentID,
		"signature", input.Signature,
	)

	result := &ConfirmPaymentResult{
		PaymentID: input.PaymentID,
		Signature: input.Signature,
	}

	awaitTimeout := input.AwaitTimeout
	if awaitTimeout <= 0 {
		awaitTimeout = DefaultAwaitTimeout
	}

	awaitCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: awaitTimeout + 30*time.Second,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	// Step 1: Wait for the signature to settle
	var awaitResult *AwaitConfirmationResult
	err := workflow.ExecuteActivity(awaitCtx, a.AwaitConfirmation, AwaitConfirmationInput{
		PaymentID: input.PaymentID,
		Signature: input.Signature,
	}).Get(ctx, &awaitResult)
	if err != nil {
		errMsg := fmt.Sprintf("confirmation wait failed: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("confirmation wait failed: %w", err)
	}
	result.ChainState = awaitResult.State

	// Step 2: Settle, even when still pending, so the signature stays attached
	finalizeCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    10,
		},
	})

	var finalizeResult *FinalizePaymentResult
	err = workflow.ExecuteActivity(finalizeCtx, a.FinalizePayment, FinalizePaymentInput{
		PaymentID: input.PaymentID,
		Signature: input.Signature,
		State:     awaitResult.State,
	}).Get(ctx, &finalizeResult)
	if err != nil {
		errMsg := fmt.Sprintf("failed to finalize payment: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to finalize payment: %w", err)
	}

	result.PaymentStatus = finalizeResult.PaymentStatus
	result.TotalToTreasury = finalizeResult.TotalToTreasury
	switch {
	case finalizeResult.Code != "":
		result.Status = OutcomeRejected
		result.Code = finalizeResult.Code
		result.Error = &finalizeResult.Message
	case finalizeResult.Pending:
		result.Status = OutcomePending
	default:
		result.Status = OutcomeConfirmed
	}

	logger.Info("ConfirmPaymentWorkflow completed",
		"payment_id", input.PaymentID,
		"chain_state", result.ChainState,
		"status", result.Status,
		"code", result.Code,
	)

	return result, nil
}

// ResumePendingWorkflow is triggered by a Temporal schedule and restarts
// confirmation workflows for intents that are still pending with a signature.
func ResumePendingWorkflow(ctx workflow.Context, input ResumePendingInput) (*ResumePendingResult, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	var result *ResumePendingResult
	if err := workflow.ExecuteActivity(ctx, a.ResumePending, input).Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to resume pending payments: %w", err)
	}
	return result, nil
}
