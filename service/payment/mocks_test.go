package payment

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/brojonat/mintpay/service/nats"
	"github.com/brojonat/mintpay/service/payment/paymenttest"
	"github.com/brojonat/mintpay/service/pricing"
	"github.com/brojonat/mintpay/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeWorkflows struct {
	mu      sync.Mutex
	started map[uuid.UUID]string
	err     error
}

func (w *fakeWorkflows) StartConfirmPayment(ctx context.Context, paymentID uuid.UUID, signature string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	if w.started == nil {
		w.started = make(map[uuid.UUID]string)
	}
	w.started[paymentID] = signature
	return nil
}

// harness wires a Service to in-memory collaborators.
type harness struct {
	svc       *Service
	store     *paymenttest.MemoryStore
	chain     *paymenttest.Chain
	builder   *paymenttest.Builder
	workflows *fakeWorkflows
	publisher *nats.MockPublisher
	treasury  solanago.PublicKey
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	rates, err := pricing.NewRates(1.1, 150, 10_000_000)
	require.NoError(t, err)

	h := &harness{
		store:     paymenttest.NewMemoryStore(),
		chain:     paymenttest.NewChain(),
		builder:   paymenttest.NewBuilder(),
		workflows: &fakeWorkflows{},
		publisher: nats.NewMockPublisher(),
		treasury:  solanago.NewWallet().PublicKey(),
	}

	cfg := Config{
		Treasury:          h.treasury,
		MemoPrefix:        "nftgen:",
		QuoteToleranceBps: 200,
		MintGate: solana.MintGateAccounts{
			ProgramID:      solanago.NewWallet().PublicKey(),
			CollectionSeed: solanago.NewWallet().PublicKey(),
			Creator:        h.treasury,
			Platform:       h.treasury,
		},
		ExplorerURL: func(sig string) string { return "https://explorer.solana.com/tx/" + sig + "?cluster=devnet" },
	}
	for _, m := range mutate {
		m(&cfg)
	}

	h.svc = NewService(cfg, Deps{
		Store:     h.store,
		Chain:     h.chain,
		Confirmer: h.chain,
		Builder:   h.builder,
		Pricer:    pricing.NewPricer(rates, ""),
		Publisher: h.publisher,
		Workflows: h.workflows,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return h
}

func randomSignature() solanago.Signature {
	return paymenttest.RandomSignature()
}

// paymentTx builds a parsed transaction in which payer sends each amount to the treasury.
func (h *harness) paymentTx(payer solanago.PublicKey, memo string, amounts ...uint64) *solana.ParsedTransaction {
	return paymenttest.PaymentTx(payer, h.treasury, memo, amounts...)
}

func lastTransfer(h *harness) solana.TransferParams {
	transfers := h.builder.Transfers()
	return transfers[len(transfers)-1]
}
