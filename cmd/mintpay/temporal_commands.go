package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/mintpay/service/temporal"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

func resumeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "resume-schedule",
		Usage: "Create or update the schedule that resumes stuck confirmations",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "interval", Value: 5 * time.Minute, Usage: "How often to sweep; zero deletes the schedule"},
			&cli.DurationFlag{Name: "older-than", Value: 4 * time.Minute, Usage: "Skip intents whose signature was attached more recently"},
			&cli.DurationFlag{Name: "max-age", Value: 24 * time.Hour, Usage: "Skip intents created longer ago than this"},
			&cli.IntFlag{Name: "limit", Value: 100, Usage: "Maximum intents resumed per sweep"},
		},
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			input := temporal.ResumePendingInput{
				OlderThan: c.Duration("older-than"),
				MaxAge:    c.Duration("max-age"),
				Limit:     int32(c.Int("limit")),
			}
			interval := c.Duration("interval")
			if err := temporal.ConfigureResume(c.Context, tc, interval, input); err != nil {
				return err
			}

			if interval <= 0 {
				fmt.Fprintf(c.App.Writer, "✓ Schedule %s deleted\n", temporal.ResumeScheduleID)
				return nil
			}
			fmt.Fprintf(c.App.Writer, "✓ Schedule %s runs every %s\n", temporal.ResumeScheduleID, interval)
			return nil
		},
	}
}

func deleteResumeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete-resume-schedule",
		Usage: "Stop resuming stuck confirmations",
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.DeleteResumeSchedule(c.Context); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "✓ Schedule %s deleted\n", temporal.ResumeScheduleID)
			return nil
		},
	}
}

func startConfirmCommand() *cli.Command {
	return &cli.Command{
		Name:      "start-confirm",
		Usage:     "Start the background confirmation for an intent by hand",
		ArgsUsage: "<payment-id> <signature>",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "await-timeout", Value: 90 * time.Second, Usage: "How long the workflow polls the chain"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires exactly two arguments: payment id and signature")
			}
			id, err := uuid.Parse(c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("invalid payment id: %w", err)
			}

			tc, err := getTemporalClientWithTimeout(c, c.Duration("await-timeout"))
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.StartConfirmPayment(c.Context, id, c.Args().Get(1)); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "✓ Started %s\n", temporal.ConfirmWorkflowID(id))
			return nil
		},
	}
}

func describeConfirmCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe-confirm",
		Usage:     "Describe the confirmation workflow of an intent",
		Aliases:   []string{"desc"},
		ArgsUsage: "<payment-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: payment id")
			}
			id, err := uuid.Parse(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid payment id: %w", err)
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			workflowID := temporal.ConfirmWorkflowID(id)
			desc, err := tc.SDKClient().DescribeWorkflowExecution(c.Context, workflowID, "")
			if err != nil {
				return fmt.Errorf("failed to describe workflow: %w", err)
			}
			info := desc.GetWorkflowExecutionInfo()

			if wantsJSON(c) {
				out := map[string]any{
					"workflowId": workflowID,
					"runId":      info.GetExecution().GetRunId(),
					"status":     info.GetStatus().String(),
					"startTime":  info.GetStartTime().AsTime(),
					"taskQueue":  info.GetTaskQueue(),
				}
				if ct := info.GetCloseTime(); ct != nil {
					out["closeTime"] = ct.AsTime()
				}
				return outputJSON(c, out)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Workflow ID: %s\n", workflowID)
			fmt.Fprintf(w, "Run ID:      %s\n", info.GetExecution().GetRunId())
			fmt.Fprintf(w, "Status:      %s\n", info.GetStatus())
			fmt.Fprintf(w, "Task Queue:  %s\n", info.GetTaskQueue())
			fmt.Fprintf(w, "Started:     %s\n", info.GetStartTime().AsTime().Format(time.RFC3339))
			if ct := info.GetCloseTime(); ct != nil {
				fmt.Fprintf(w, "Closed:      %s\n", ct.AsTime().Format(time.RFC3339))
			}
			return nil
		},
	}
}

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	return getTemporalClientWithTimeout(c, temporal.DefaultAwaitTimeout)
}

// getTemporalClientWithTimeout dials Temporal using the global flags.
func getTemporalClientWithTimeout(c *cli.Context, awaitTimeout time.Duration) (*temporal.Client, error) {
	var logger *slog.Logger
	if c.Bool("debug") {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}

	tc, err := temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		awaitTimeout,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}
	return tc, nil
}
