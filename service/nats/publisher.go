package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/mintpay/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing payment events to NATS.
type Publisher interface {
	// PublishPayment publishes a settled payment to "payments.{type}.{payment_id}".
	// Re-publishing the same settlement is deduplicated by JetStream.
	PublishPayment(ctx context.Context, event *PaymentEvent) error

	// PublishMint publishes a composed mint to "payments.mint.{mint_address}".
	PublishMint(ctx context.Context, event *MintEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes payment events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	logger  *slog.Logger
	metrics *metrics.Metrics
}

const (
	// StreamName is the name of the JetStream stream for payment events.
	StreamName = "PAYMENTS"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "payments.>"

	// StreamRetention is how long messages are retained (30 days by default).
	StreamRetention = 30 * 24 * time.Hour

	// DuplicateWindow is how long JetStream remembers message ids for dedup.
	DuplicateWindow = 10 * time.Minute
)

// PaymentSubject returns the subject a payment event is published on.
func PaymentSubject(event *PaymentEvent) string {
	return fmt.Sprintf("payments.%s.%s", event.Type, event.PaymentID)
}

// MintSubject returns the subject a mint event is published on.
func MintSubject(event *MintEvent) string {
	return fmt.Sprintf("payments.%s.%s", EventMintComposed, event.MintAddress)
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("mintpay-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		logger:  logger,
		metrics: m,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	_, err = p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Payment settlement and mint events",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Duplicates:  DuplicateWindow,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishPayment publishes a payment settlement event.
func (p *JetStreamPublisher) PublishPayment(ctx context.Context, event *PaymentEvent) error {
	subject := PaymentSubject(event)
	// One message per settlement, whichever caller (HTTP or workflow) gets there first.
	msgID := event.Type + ":" + event.PaymentID
	if err := p.publish(ctx, subject, msgID, event); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published payment event",
		"subject", subject,
		"payment_id", event.PaymentID,
		"signature", event.Signature,
	)
	return nil
}

// PublishMint publishes a mint composition event.
func (p *JetStreamPublisher) PublishMint(ctx context.Context, event *MintEvent) error {
	subject := MintSubject(event)
	if err := p.publish(ctx, subject, "mint:"+event.MintAddress, event); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published mint event",
		"subject", subject,
		"mint", event.MintAddress,
		"wallet", event.MinterWallet,
	)
	return nil
}

func (p *JetStreamPublisher) publish(ctx context.Context, subject, msgID string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID))
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordNATSPublish(subject, status, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
