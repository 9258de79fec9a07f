package temporal

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ResumeScheduleID is the Temporal schedule that triggers ResumePendingWorkflow.
const ResumeScheduleID = "resume-pending-payments"

// Scheduler manages the schedule that resumes stuck confirmations.
type Scheduler interface {
	// UpsertResumeSchedule creates the schedule or updates its interval.
	UpsertResumeSchedule(ctx context.Context, interval time.Duration, input ResumePendingInput) error

	// DeleteResumeSchedule stops resuming confirmations.
	DeleteResumeSchedule(ctx context.Context) error
}

// ConfigureResume installs the resume schedule, or removes it when interval is zero.
func ConfigureResume(ctx context.Context, s Scheduler, interval time.Duration, input ResumePendingInput) error {
	if interval <= 0 {
		return s.DeleteResumeSchedule(ctx)
	}
	return s.UpsertResumeSchedule(ctx, interval, input)
}

// ConfirmWorkflowID returns the workflow ID for a payment's background confirmation.
func ConfirmWorkflowID(paymentID uuid.UUID) string {
	return "confirm-payment-" + paymentID.String()
}
