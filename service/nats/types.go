package nats

import (
	"time"

	"github.com/brojonat/mintpay/service/db"
)

// Payment event types; each is the second token of the subject.
const (
	EventPaymentConfirmed = "confirmed"
	EventPaymentFailed    = "failed"
	EventMintComposed     = "mint"
)

// PaymentEvent is published when a payment intent settles.
// Subject: "payments.{type}.{payment_id}".
type PaymentEvent struct {
	Type string `json:"type"`

	PaymentID    string  `json:"payment_id"`
	Wallet       string  `json:"wallet"`
	Lamports     int64   `json:"lamports"`
	Count        int32   `json:"count"`
	Model        string  `json:"model"`
	Reference    string  `json:"reference"`
	CollectionID *string `json:"collection_id,omitempty"`

	Signature       string `json:"signature,omitempty"`
	TotalToTreasury uint64 `json:"total_to_treasury,omitempty"`
	FinalStatus     string `json:"final_status,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`

	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	PublishedAt time.Time  `json:"published_at"`
}

// MintEvent is published when a mint transaction is composed for a wallet.
// Subject: "payments.mint.{mint_address}".
type MintEvent struct {
	MintAddress  string    `json:"mint_address"`
	MinterWallet string    `json:"minter_wallet"`
	CollectionID *string   `json:"collection_id,omitempty"`
	MetadataURI  string    `json:"metadata_uri"`
	PublishedAt  time.Time `json:"published_at"`
}

// FromPayment converts a stored payment into an event of the given type.
func FromPayment(eventType string, p *db.Payment) *PaymentEvent {
	event := &PaymentEvent{
		Type:         eventType,
		PaymentID:    p.ID.String(),
		Wallet:       p.Wallet,
		Lamports:     p.Lamports,
		Count:        p.Count,
		Model:        p.Model,
		Reference:    p.Reference,
		CollectionID: p.CollectionID,
		ConfirmedAt:  p.ConfirmedAt,
		PublishedAt:  time.Now().UTC(),
	}

	if p.TxSignature != nil {
		event.Signature = *p.TxSignature
	}
	if p.FailureReason != nil {
		event.FailureReason = *p.FailureReason
	}

	return event
}
