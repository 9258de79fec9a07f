package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/mintpay/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand streams payment events from JetStream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Stream payment events",
		ArgsUsage: "[confirmed|failed|mint]",
		Description: `Subscribe to payment events published to NATS JetStream.

Without an argument every event on payments.> is streamed. With an event
type only that type is streamed, e.g. payments.confirmed.*

Example:
  mintpay nats subscribe confirmed --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "mintpay-cli",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Stop after this long (zero streams until interrupted)",
			},
		},
		Action: func(c *cli.Context) error {
			subject := natspkg.StreamSubjects
			if c.NArg() > 0 {
				switch t := c.Args().First(); t {
				case natspkg.EventPaymentConfirmed, natspkg.EventPaymentFailed, natspkg.EventMintComposed:
					subject = fmt.Sprintf("payments.%s.*", t)
				default:
					return fmt.Errorf("unknown event type %q", t)
				}
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if d := c.Duration("timeout"); d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			return streamEvents(ctx, c, subject)
		},
	}
}

// streamEvents prints events on subject until ctx is done.
func streamEvents(ctx context.Context, c *cli.Context, subject string) error {
	nc, err := nats.Connect(c.String("nats-url"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}
	if c.Bool("durable") {
		consumerConfig.Durable = c.String("consumer-name")
		consumerConfig.Name = c.String("consumer-name")
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	jsonOutput := wantsJSON(c)
	w := c.App.Writer
	if !jsonOutput {
		fmt.Fprintf(w, "📡 Subscribing to: %s\n", subject)
		fmt.Fprintf(w, "\nWaiting for events... (Ctrl-C to exit)\n\n")
	}

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			count++
			if err := printEvent(c, msg, jsonOutput); err != nil {
				fmt.Fprintf(c.App.ErrWriter, "Error parsing event on %s: %v\n", msg.Subject(), err)
			}
			msg.Ack()

		case <-ctx.Done():
			if !jsonOutput {
				fmt.Fprintf(w, "\n✅ Received %d events\n", count)
			}
			return nil
		}
	}
}

func printEvent(c *cli.Context, msg jetstream.Msg, jsonOutput bool) error {
	var raw map[string]any
	if err := json.Unmarshal(msg.Data(), &raw); err != nil {
		return err
	}
	if jsonOutput {
		return outputJSON(c, raw)
	}

	w := c.App.Writer
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "%s\n", msg.Subject())
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")

	if _, isPayment := raw["payment_id"]; isPayment {
		var event natspkg.PaymentEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			return err
		}
		fmt.Fprintf(w, "Payment:      %s (%s)\n", event.PaymentID, event.Type)
		fmt.Fprintf(w, "Wallet:       %s\n", event.Wallet)
		fmt.Fprintf(w, "Amount:       %d lamports\n", event.Lamports)
		if event.Signature != "" {
			fmt.Fprintf(w, "Signature:    %s\n", event.Signature)
		}
		if event.FailureReason != "" {
			fmt.Fprintf(w, "Failure:      %s\n", event.FailureReason)
		}
		fmt.Fprintf(w, "Published:    %s\n\n", event.PublishedAt.Format(time.RFC3339))
		return nil
	}

	var event natspkg.MintEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		return err
	}
	fmt.Fprintf(w, "Mint:         %s\n", event.MintAddress)
	fmt.Fprintf(w, "Minter:       %s\n", event.MinterWallet)
	fmt.Fprintf(w, "Metadata:     %s\n", event.MetadataURI)
	fmt.Fprintf(w, "Published:    %s\n\n", event.PublishedAt.Format(time.RFC3339))
	return nil
}
