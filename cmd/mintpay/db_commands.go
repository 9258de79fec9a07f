package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/mintpay/service/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the database schema",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.Migrate(c.Context); err != nil {
				return fmt.Errorf("failed to apply schema: %w", err)
			}
			fmt.Fprintln(c.App.Writer, "✓ Schema applied")
			return nil
		},
	}
}

func listPendingCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-pending",
		Usage:   "List pending intents that already carry a signature",
		Aliases: []string{"pending"},
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "older-than",
				Usage: "Only intents whose signature was attached before this long ago",
			},
			&cli.DurationFlag{
				Name:  "max-age",
				Usage: "Skip intents created longer ago than this (0 for no bound)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of intents",
				Value:   100,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			payments, err := store.ListPendingWithSignature(c.Context, c.Duration("older-than"), c.Duration("max-age"), int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list pending payments: %w", err)
			}

			if wantsJSON(c) {
				return outputJSON(c, payments)
			}

			printStoredPayments(c.App.Writer, payments)
			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d pending payments\n", len(payments))
			return nil
		},
	}
}

func getPaymentCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-payment",
		Usage:     "Get a payment intent straight from the database",
		Aliases:   []string{"get"},
		ArgsUsage: "<payment-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: payment id")
			}
			id, err := uuid.Parse(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid payment id: %w", err)
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			p, err := store.GetPayment(c.Context, id)
			if err != nil {
				return fmt.Errorf("failed to get payment: %w", err)
			}

			if wantsJSON(c) {
				return outputJSON(c, p)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "ID:         %s\n", p.ID)
			fmt.Fprintf(w, "Wallet:     %s\n", p.Wallet)
			fmt.Fprintf(w, "Amount:     %d lamports\n", p.Lamports)
			fmt.Fprintf(w, "Model:      %s x %d\n", p.Model, p.Count)
			fmt.Fprintf(w, "Memo:       %s\n", p.Memo)
			fmt.Fprintf(w, "Collection: %s\n", optional(p.CollectionID))
			fmt.Fprintf(w, "Status:     %s\n", p.Status)
			fmt.Fprintf(w, "Signature:  %s\n", optional(p.TxSignature))
			if p.FailureReason != nil {
				fmt.Fprintf(w, "Failure:    %s\n", *p.FailureReason)
			}
			fmt.Fprintf(w, "Created:    %s\n", p.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(w, "Updated:    %s\n", p.UpdatedAt.Format(time.RFC3339))
			if p.ConfirmedAt != nil {
				fmt.Fprintf(w, "Confirmed:  %s\n", p.ConfirmedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func printStoredPayments(out io.Writer, payments []*db.Payment) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWALLET\tLAMPORTS\tSIGNATURE\tUPDATED")
	for _, p := range payments {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			p.ID,
			p.Wallet,
			p.Lamports,
			optional(p.TxSignature),
			p.UpdatedAt.Format(time.RFC3339),
		)
	}
	w.Flush()
}

// getStore connects to the database named by the global flags.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db.NewStore(pool, nil), pool.Close, nil
}

func optional(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "-"
}
