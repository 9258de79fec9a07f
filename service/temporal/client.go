package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler and of the payment
// service's WorkflowStarter that talks to Temporal.
type Client struct {
	client       client.Client
	taskQueue    string
	awaitTimeout time.Duration
	logger       *slog.Logger
}

// NewClient creates a new Temporal client. awaitTimeout is the confirmation
// budget handed to every ConfirmPaymentWorkflow it starts.
func NewClient(host, namespace, taskQueue string, awaitTimeout time.Duration, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:       c,
		taskQueue:    taskQueue,
		awaitTimeout: awaitTimeout,
		logger:       logger,
	}, nil
}

// StartConfirmPayment starts the background confirmation for a payment. The
// workflow ID is derived from the payment ID, so starting it while a run is
// still open returns that run instead of a second one.
func (c *Client) StartConfirmPayment(ctx context.Context, paymentID uuid.UUID, signature string) error {
	id := ConfirmWorkflowID(paymentID)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       id,
		TaskQueue:                c.taskQueue,
		WorkflowExecutionTimeout: 2*c.awaitTimeout + 5*time.Minute,
	}, ConfirmPaymentWorkflow, ConfirmPaymentInput{
		PaymentID:    paymentID.String(),
		Signature:    signature,
		AwaitTimeout: c.awaitTimeout,
	})
	if err != nil {
		c.logger.Error("failed to start confirmation workflow",
			"payment_id", paymentID.String(),
			"workflow_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to start workflow %q: %w", id, err)
	}

	c.logger.Info("confirmation workflow started",
		"payment_id", paymentID.String(),
		"signature", signature,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return nil
}

// CreateResumeSchedule creates the schedule that triggers ResumePendingWorkflow.
func (c *Client) CreateResumeSchedule(ctx context.Context, interval time.Duration, input ResumePendingInput) error {
	c.logger.Debug("creating resume schedule",
		"schedule_id", ResumeScheduleID,
		"interval", interval,
	)

	workflowAction := client.ScheduleWorkflowAction{
		ID:        "resume-pending-payments",
		Workflow:  ResumePendingWorkflow,
		TaskQueue: c.taskQueue,
		Args:      []interface{}{input},
	}

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: ResumeScheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{
				{Every: interval},
			},
		},
		Action: &workflowAction,
		Memo: map[string]interface{}{
			"created_by": "mintpay",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule",
			"schedule_id", ResumeScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", ResumeScheduleID, err)
	}

	c.logger.Info("resume schedule created",
		"schedule_id", ResumeScheduleID,
		"interval", interval,
	)
	return nil
}

// UpsertResumeSchedule creates the resume schedule or updates its interval
// if it already exists.
func (c *Client) UpsertResumeSchedule(ctx context.Context, interval time.Duration, input ResumePendingInput) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, ResumeScheduleID)
	if _, err := handle.Describe(ctx); err != nil {
		// Schedule doesn't exist or error getting it - create new one
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", ResumeScheduleID,
			"error", err,
		)
		return c.CreateResumeSchedule(ctx, interval, input)
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(in client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			in.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			if action, ok := in.Description.Schedule.Action.(*client.ScheduleWorkflowAction); ok {
				action.Args = []interface{}{input}
			}
			return &client.ScheduleUpdate{
				Schedule: &in.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule",
			"schedule_id", ResumeScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", ResumeScheduleID, err)
	}

	c.logger.Info("resume schedule updated",
		"schedule_id", ResumeScheduleID,
		"interval", interval,
	)
	return nil
}

// DeleteResumeSchedule deletes the resume schedule.
func (c *Client) DeleteResumeSchedule(ctx context.Context) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, ResumeScheduleID)
	if err := handle.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete schedule %q: %w", ResumeScheduleID, err)
	}
	c.logger.Info("resume schedule deleted", "schedule_id", ResumeScheduleID)
	return nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
