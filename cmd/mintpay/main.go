package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "mintpay",
		Usage: "SOL payment and mint service CLI",
		Description: `A command-line tool for the mintpay service.

Use it to quote and pay for generations through the HTTP API, inspect stored
payment intents, manage the background confirmation schedule, and watch
payment events on NATS.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// HTTP API commands
			quoteCommand(),
			intentCommand(),
			buildTxCommand(),
			confirmCommand(),
			statusCommand(),
			awaitCommand(),
			paymentsCommands(),
			mintCommand(),
			mintsCommand(),
			// Database inspection commands
			{
				Name:  "db",
				Usage: "Database inspection commands",
				Subcommands: []*cli.Command{
					migrateCommand(),
					listPendingCommand(),
					getPaymentCommand(),
				},
			},
			// Temporal management commands
			{
				Name:  "temporal",
				Usage: "Temporal inspection and management commands",
				Subcommands: []*cli.Command{
					resumeScheduleCommand(),
					deleteResumeScheduleCommand(),
					startConfirmCommand(),
					describeConfirmCommand(),
				},
			},
			// NATS event commands
			{
				Name:  "nats",
				Usage: "NATS payment event commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Aliases: []string{"s"},
				Usage:   "mintpay HTTP server URL",
				EnvVars: []string{"MINTPAY_SERVER_URL", "SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue of the confirmation worker",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "mintpay-confirmations",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq expression applied to the JSON output (implies --json)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log HTTP client activity to stderr",
			},
		},
	}
}
