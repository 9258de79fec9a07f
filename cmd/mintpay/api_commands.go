package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/mintpay/client"
	"github.com/urfave/cli/v2"
)

// newClient builds an API client from the global flags.
func newClient(c *cli.Context) *client.Client {
	var logger *slog.Logger
	if c.Bool("debug") {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return client.NewClient(c.String("server-url"), nil, logger)
}

func quoteCommand() *cli.Command {
	return &cli.Command{
		Name:  "quote",
		Usage: "Price a generation request",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 1, Usage: "Number of images"},
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "Model (server default when empty)"},
		},
		Action: func(c *cli.Context) error {
			q, err := newClient(c).Quote(c.Context, c.Int("count"), c.String("model"))
			if err != nil {
				return err
			}
			if wantsJSON(c) {
				return outputJSON(c, q)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Model:    %s\n", q.Model)
			fmt.Fprintf(w, "Count:    %d\n", q.Count)
			fmt.Fprintf(w, "Credits:  %s\n", q.Credits)
			fmt.Fprintf(w, "EUR:      %s\n", q.EUR)
			fmt.Fprintf(w, "USD:      %s\n", q.USD)
			fmt.Fprintf(w, "SOL:      %s\n", q.SOL)
			fmt.Fprintf(w, "Lamports: %d\n", q.Lamports)
			return nil
		},
	}
}

func intentCommand() *cli.Command {
	return &cli.Command{
		Name:  "intent",
		Usage: "Create a payment intent",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "wallet", Aliases: []string{"w"}, Required: true, Usage: "Paying wallet address"},
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 1, Usage: "Number of images"},
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "Model (server default when empty)"},
			&cli.StringFlag{Name: "collection", Usage: "Collection id the payment unlocks"},
			&cli.Int64Flag{Name: "lamports", Usage: "Amount shown to the user; rejected if the price moved"},
		},
		Action: func(c *cli.Context) error {
			intent, err := newClient(c).CreateIntent(c.Context, client.IntentRequest{
				Wallet:       c.String("wallet"),
				Count:        c.Int("count"),
				Model:        c.String("model"),
				CollectionID: c.String("collection"),
				Lamports:     c.Int64("lamports"),
			})
			if err != nil {
				return err
			}
			if wantsJSON(c) {
				return outputJSON(c, intent)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Payment ID: %s\n", intent.PaymentID)
			fmt.Fprintf(w, "Amount:     %s SOL (%d lamports)\n", intent.SOL, intent.Lamports)
			fmt.Fprintf(w, "Treasury:   %s\n", intent.Treasury)
			fmt.Fprintf(w, "Memo:       %s\n", intent.Memo)
			fmt.Fprintf(w, "Pay URL:    %s\n", intent.PaymentURL)
			return nil
		},
	}
}

func buildTxCommand() *cli.Command {
	return &cli.Command{
		Name:  "build-tx",
		Usage: "Fetch the unsigned transfer for an intent or a bare amount",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "payment-id", Aliases: []string{"p"}, Usage: "Payment intent id"},
			&cli.StringFlag{Name: "wallet", Aliases: []string{"w"}, Usage: "Paying wallet (without --payment-id)"},
			&cli.Uint64Flag{Name: "lamports", Usage: "Amount (without --payment-id)"},
			&cli.StringFlag{Name: "memo", Usage: "Memo (without --payment-id)"},
		},
		Action: func(c *cli.Context) error {
			if c.String("payment-id") == "" && c.String("wallet") == "" {
				return fmt.Errorf("either --payment-id or --wallet is required")
			}
			tx, err := newClient(c).BuildTransfer(c.Context, client.TransferRequest{
				PaymentID: c.String("payment-id"),
				Wallet:    c.String("wallet"),
				Lamports:  c.Uint64("lamports"),
				Memo:      c.String("memo"),
			})
			if err != nil {
				return err
			}
			if wantsJSON(c) {
				return outputJSON(c, tx)
			}
			fmt.Fprintln(c.App.Writer, tx.Tx)
			return nil
		},
	}
}

func confirmCommand() *cli.Command {
	return &cli.Command{
		Name:      "confirm",
		Usage:     "Confirm a submitted payment transaction",
		ArgsUsage: "SIGNATURE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "payment-id", Aliases: []string{"p"}, Usage: "Payment intent id"},
			&cli.Uint64Flag{Name: "expected-lamports", Usage: "Expected amount for a bare confirmation"},
			&cli.StringFlag{Name: "treasury", Usage: "Treasury the client paid (checked against the server's)"},
			&cli.StringFlag{Name: "wallet", Aliases: []string{"w"}, Usage: "Wallet that must have signed"},
			&cli.StringFlag{Name: "collection", Usage: "Collection id to mark paid"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction signature")
			}
			res, err := newClient(c).Confirm(c.Context, client.ConfirmRequest{
				Signature:        c.Args().First(),
				ExpectedLamports: c.Uint64("expected-lamports"),
				Treasury:         c.String("treasury"),
				PaymentID:        c.String("payment-id"),
				Wallet:           c.String("wallet"),
				CollectionID:     c.String("collection"),
			})
			if err != nil {
				return err
			}
			if wantsJSON(c) {
				return outputJSON(c, res)
			}

			w := c.App.Writer
			if res.Pending {
				fmt.Fprintf(w, "⏳ Still pending: %s\n", res.Signature)
				fmt.Fprintf(w, "   Poll with: mintpay await %s\n", res.Signature)
			} else {
				fmt.Fprintf(w, "✓ Confirmed (%s): %d lamports to treasury\n", res.FinalStatus, res.TotalToTreasury)
			}
			if res.PaymentID != "" {
				fmt.Fprintf(w, "  Payment:  %s (%s)\n", res.PaymentID, res.PaymentStatus)
			}
			fmt.Fprintf(w, "  Explorer: %s\n", res.ExplorerURL)
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Look up a transaction signature once",
		ArgsUsage: "SIGNATURE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction signature")
			}
			st, err := newClient(c).Status(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			if wantsJSON(c) {
				return outputJSON(c, st)
			}
			printStatus(c.App.Writer, st)
			return nil
		},
	}
}

func awaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Poll a signature until it settles",
		ArgsUsage: "SIGNATURE",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "interval", Aliases: []string{"i"}, Value: time.Second, Usage: "Polling interval"},
			&cli.DurationFlag{Name: "timeout", Aliases: []string{"t"}, Value: 2 * time.Minute, Usage: "How long to wait"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction signature")
			}
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			st, err := newClient(c).AwaitConfirmation(ctx, c.Args().First(), c.Duration("interval"))
			if err != nil {
				return err
			}
			if wantsJSON(c) {
				return outputJSON(c, st)
			}
			printStatus(c.App.Writer, st)
			return nil
		},
	}
}

func printStatus(w io.Writer, st *client.Status) {
	fmt.Fprintf(w, "Signature: %s\n", st.Signature)
	fmt.Fprintf(w, "Status:    %s\n", st.Status)
	if st.Slot != 0 {
		fmt.Fprintf(w, "Slot:      %d\n", st.Slot)
	}
	if st.Err != nil {
		fmt.Fprintf(w, "Error:     %v\n", st.Err)
	}
	if st.PaymentID != "" {
		fmt.Fprintf(w, "Payment:   %s (%s)\n", st.PaymentID, st.PaymentStatus)
	}
	fmt.Fprintf(w, "Explorer:  %s\n", st.ExplorerURL)
}

func paymentsCommands() *cli.Command {
	return &cli.Command{
		Name:  "payments",
		Usage: "Payment intent commands",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Get one payment intent",
				ArgsUsage: "PAYMENT_ID",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: payment id")
					}
					p, err := newClient(c).GetPayment(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					if wantsJSON(c) {
						return outputJSON(c, p)
					}
					printPayments(c.App.Writer, []*client.Payment{p})
					return nil
				},
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List payment intents, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "wallet", Aliases: []string{"w"}, Usage: "Filter by wallet"},
					&cli.StringFlag{Name: "status", Usage: "Filter by status (pending, confirmed, failed)"},
					&cli.IntFlag{Name: "limit", Value: 50, Usage: "Maximum number of payments"},
					&cli.IntFlag{Name: "offset", Usage: "Number of payments to skip"},
					&cli.StringSliceFlag{
						Name:  "where",
						Usage: "jq predicate each payment must satisfy (repeatable), e.g. '.lamports > 10000000'",
					},
				},
				Action: func(c *cli.Context) error {
					payments, err := newClient(c).ListPayments(c.Context, client.ListOptions{
						Wallet: c.String("wallet"),
						Status: c.String("status"),
						Limit:  c.Int("limit"),
						Offset: c.Int("offset"),
					})
					if err != nil {
						return err
					}
					payments, err = filterPayments(payments, c.StringSlice("where"))
					if err != nil {
						return err
					}
					if wantsJSON(c) {
						return outputJSON(c, payments)
					}
					printPayments(c.App.Writer, payments)
					fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d payments\n", len(payments))
					return nil
				},
			},
		},
	}
}

// filterPayments keeps the payments every predicate holds for.
func filterPayments(payments []*client.Payment, predicates []string) ([]*client.Payment, error) {
	for _, filter := range predicates {
		code, err := compileJQ(filter)
		if err != nil {
			return nil, err
		}
		var kept []*client.Payment
		for _, p := range payments {
			if matchesJQ(code, p) {
				kept = append(kept, p)
			}
		}
		payments = kept
	}
	return payments, nil
}

func printPayments(out io.Writer, payments []*client.Payment) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWALLET\tLAMPORTS\tMODEL\tCOUNT\tSTATUS\tSIGNATURE\tCREATED")
	for _, p := range payments {
		sig := "-"
		if p.TxSignature != nil {
			sig = *p.TxSignature
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\t%s\t%s\n",
			p.ID,
			p.Wallet,
			p.Lamports,
			p.Model,
			p.Count,
			p.Status,
			sig,
			p.CreatedAt.Format(time.RFC3339),
		)
	}
	w.Flush()
}

func mintCommand() *cli.Command {
	return &cli.Command{
		Name:  "mint",
		Usage: "Fetch the gated mint transaction for a wallet",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "wallet", Aliases: []string{"w"}, Required: true, Usage: "Minting wallet"},
			&cli.StringFlag{Name: "metadata-uri", Required: true, Usage: "Off-chain metadata JSON URI"},
			&cli.StringFlag{Name: "name", Required: true, Usage: "NFT name"},
			&cli.StringFlag{Name: "symbol", Usage: "NFT symbol"},
			&cli.UintFlag{Name: "seller-fee-bps", Usage: "Royalty in basis points"},
			&cli.StringFlag{Name: "collection", Usage: "Collection id"},
		},
		Action: func(c *cli.Context) error {
			bps := c.Uint("seller-fee-bps")
			if bps > 10_000 {
				return fmt.Errorf("seller-fee-bps must be at most 10000")
			}
			tx, err := newClient(c).StartMint(c.Context, client.MintRequest{
				Wallet:               c.String("wallet"),
				MetadataURI:          c.String("metadata-uri"),
				Name:                 c.String("name"),
				Symbol:               c.String("symbol"),
				SellerFeeBasisPoints: uint16(bps),
				CollectionID:         c.String("collection"),
			})
			if err != nil {
				return err
			}
			if wantsJSON(c) {
				return outputJSON(c, tx)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Mint:          %s\n", tx.MintAddress)
			fmt.Fprintf(w, "Token account: %s\n", tx.TokenAccount)
			fmt.Fprintf(w, "Transaction:   %s\n", tx.TxBase64)
			return nil
		},
	}
}

func mintsCommand() *cli.Command {
	return &cli.Command{
		Name:  "mints",
		Usage: "List the mints composed for a wallet",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "wallet", Aliases: []string{"w"}, Required: true, Usage: "Minting wallet"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Maximum number of mints"},
		},
		Action: func(c *cli.Context) error {
			mints, err := newClient(c).ListMints(c.Context, c.String("wallet"), c.Int("limit"))
			if err != nil {
				return err
			}
			if wantsJSON(c) {
				return outputJSON(c, mints)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MINT\tNAME\tCOLLECTION\tCREATED")
			for _, m := range mints {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.MintAddress, m.Name, optional(m.CollectionID), m.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}
