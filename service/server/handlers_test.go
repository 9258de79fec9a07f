package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brojonat/mintpay/service/db"
	"github.com/brojonat/mintpay/service/metrics"
	"github.com/brojonat/mintpay/service/payment"
	"github.com/brojonat/mintpay/service/payment/paymenttest"
	"github.com/brojonat/mintpay/service/pricing"
	"github.com/brojonat/mintpay/service/ratelimit"
	"github.com/brojonat/mintpay/service/solana"
	"github.com/brojonat/mintpay/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture is a Server wired to in-memory collaborators.
type fixture struct {
	handler  http.Handler
	store    *paymenttest.MemoryStore
	chain    *paymenttest.Chain
	builder  *paymenttest.Builder
	starter  *temporal.MockStarter
	treasury solanago.PublicKey
}

type fixtureOptions struct {
	rateLimit int
	health    HealthChecker
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()

	rates, err := pricing.NewRates(1.1, 150, 10_000_000)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewMetrics(prometheus.NewRegistry())

	f := &fixture{
		store:    paymenttest.NewMemoryStore(),
		chain:    paymenttest.NewChain(),
		builder:  paymenttest.NewBuilder(),
		starter:  temporal.NewMockStarter(),
		treasury: solanago.NewWallet().PublicKey(),
	}

	svc := payment.NewService(payment.Config{
		Treasury:          f.treasury,
		MemoPrefix:        "nftgen:",
		QuoteToleranceBps: 200,
		MintGate: solana.MintGateAccounts{
			ProgramID:      solanago.NewWallet().PublicKey(),
			CollectionSeed: solanago.NewWallet().PublicKey(),
			Creator:        f.treasury,
			Platform:       f.treasury,
		},
	}, payment.Deps{
		Store:     f.store,
		Chain:     f.chain,
		Confirmer: f.chain,
		Builder:   f.builder,
		Pricer:    pricing.NewPricer(rates, "sd35-medium"),
		Workflows: f.starter,
		Metrics:   m,
		Logger:    logger,
	})

	var limiter *ratelimit.Limiter
	if opts.rateLimit > 0 {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		limiter = ratelimit.NewLimiter(client, opts.rateLimit, time.Minute)
	}

	f.handler = New(":0", svc, opts.health, limiter, m, logger).Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = "203.0.113.7:4242"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func (f *fixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return f.do(t, http.MethodPost, path, string(b))
}

// createIntent creates an intent over HTTP and returns its decoded body.
func (f *fixture) createIntent(t *testing.T, wallet solanago.PublicKey, count int, model string) map[string]any {
	t.Helper()
	w := f.post(t, "/payments/create-intent", map[string]any{
		"wallet": wallet.String(),
		"count":  count,
		"model":  model,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode(t, w)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestCreateIntent_ReturnsIntent(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	wallet := solanago.NewWallet().PublicKey()

	body := f.createIntent(t, wallet, 100, "sd35-medium")

	assert.Equal(t, true, body["ok"])
	assert.EqualValues(t, 25_666_667, body["lamports"])
	assert.Equal(t, f.treasury.String(), body["treasury"])
	assert.Equal(t, "sd35-medium", body["model"])
	assert.True(t, strings.HasPrefix(body["memo"].(string), "nftgen:"))
	assert.Equal(t, "nftgen:"+body["reference"].(string), body["memo"])
	assert.Contains(t, body["paymentUrl"], "solana:"+f.treasury.String())

	id, err := uuid.Parse(body["paymentId"].(string))
	require.NoError(t, err)
	stored := f.store.Payment(id)
	assert.Equal(t, db.StatusPending, stored.Status)
	assert.Equal(t, wallet.String(), stored.Wallet)
}

func TestCreateIntent_PathologicalInput(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	wallet := solanago.NewWallet().PublicKey().String()

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedCode   string
		checkBody      func(t *testing.T, body map[string]any)
	}{
		{
			name:           "extremely large request body",
			body:           `{"wallet":"` + strings.Repeat("A", 1<<20) + `","count":1}`,
			expectedStatus: http.StatusRequestEntityTooLarge,
			expectedCode:   "invalid_request",
			checkBody: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "request body too large", body["message"])
			},
		},
		{
			name:           "malformed JSON",
			body:           `{"wallet":"` + wallet + `","count":`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "invalid_request",
		},
		{
			name:           "invalid wallet",
			body:           `{"wallet":"not-a-wallet","count":1}`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "invalid_wallet",
		},
		{
			name:           "zero count",
			body:           `{"wallet":"` + wallet + `","count":0}`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "invalid_count",
		},
		{
			name:           "stale client quote",
			body:           `{"wallet":"` + wallet + `","count":100,"model":"sd35-medium","lamports":20000000}`,
			expectedStatus: http.StatusConflict,
			expectedCode:   "quote_mismatch",
			checkBody: func(t *testing.T, body map[string]any) {
				assert.EqualValues(t, 25_666_667, body["lamports"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/payments/create-intent", tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())

			body := decode(t, w)
			assert.Equal(t, false, body["ok"])
			assert.Equal(t, tt.expectedCode, body["error"])
			if tt.checkBody != nil {
				tt.checkBody(t, body)
			}
		})
	}

	assert.Equal(t, 0, f.store.Len())
}

func TestCreateIntent_RateLimitedPerWallet(t *testing.T) {
	f := newFixture(t, fixtureOptions{rateLimit: 2})
	wallet := solanago.NewWallet().PublicKey()

	f.createIntent(t, wallet, 1, "")
	f.createIntent(t, wallet, 1, "")

	w := f.post(t, "/payments/create-intent", map[string]any{"wallet": wallet.String(), "count": 1})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decode(t, w)["error"])

	// Another wallet from the same address has its own budget.
	f.createIntent(t, solanago.NewWallet().PublicKey(), 1, "")
	assert.Equal(t, 3, f.store.Len())
}

// An exact payment of a 100 image intent confirms it.
func TestConfirm_ExactPayment(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	wallet := solanago.NewWallet().PublicKey()
	intent := f.createIntent(t, wallet, 100, "sd35-medium")

	lamports := uint64(intent["lamports"].(float64))
	require.GreaterOrEqual(t, lamports, uint64(10_000_000))

	sig := paymenttest.RandomSignature()
	f.chain.Put(sig, solana.CommitmentConfirmed, paymenttest.PaymentTx(wallet, f.treasury, intent["memo"].(string), lamports))

	w := f.post(t, "/payments/confirm", map[string]any{
		"signature":        sig.String(),
		"expectedLamports": lamports,
		"treasury":         f.treasury.String(),
		"paymentId":        intent["paymentId"],
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, false, body["pending"])
	assert.Equal(t, sig.String(), body["signature"])
	assert.Equal(t, "confirmed", body["finalStatus"])
	assert.Equal(t, db.StatusConfirmed, body["paymentStatus"])
	assert.EqualValues(t, lamports, body["totalToTreasury"])
	assert.Contains(t, body["explorerUrl"], sig.String())

	w = f.do(t, http.MethodGet, "/payments/"+intent["paymentId"].(string), "")
	require.Equal(t, http.StatusOK, w.Code)
	stored := decode(t, w)
	assert.Equal(t, db.StatusConfirmed, stored["status"])
	assert.Equal(t, sig.String(), stored["txSignature"])
	assert.Equal(t, 0, f.starter.StartedCount())
}

// One lamport short is rejected and the intent stays pending.
func TestConfirm_OneLamportShort(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	wallet := solanago.NewWallet().PublicKey()
	intent := f.createIntent(t, wallet, 100, "sd35-medium")
	lamports := uint64(intent["lamports"].(float64))

	sig := paymenttest.RandomSignature()
	f.chain.Put(sig, solana.CommitmentFinalized, paymenttest.PaymentTx(wallet, f.treasury, "", lamports-1))

	w := f.post(t, "/payments/confirm", map[string]any{
		"signature": sig.String(),
		"paymentId": intent["paymentId"],
	})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "missing_or_wrong_transfer", body["error"])
	assert.EqualValues(t, lamports-1, body["totalToTreasury"])
	assert.EqualValues(t, lamports, body["expectedLamports"])

	id := uuid.MustParse(intent["paymentId"].(string))
	assert.Equal(t, db.StatusPending, f.store.Payment(id).Status)
}

// A signature that never lands is never confirmed.
func TestConfirm_GarbageSignature(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	wallet := solanago.NewWallet().PublicKey()
	intent := f.createIntent(t, wallet, 1, "")

	t.Run("not a signature", func(t *testing.T) {
		w := f.post(t, "/payments/confirm", map[string]any{
			"signature": "definitely-not-a-signature",
			"paymentId": intent["paymentId"],
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "tx_not_found", decode(t, w)["error"])
	})

	t.Run("unknown signature", func(t *testing.T) {
		sig := paymenttest.RandomSignature()
		w := f.post(t, "/payments/confirm", map[string]any{
			"signature": sig.String(),
			"paymentId": intent["paymentId"],
		})
		assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

		body := decode(t, w)
		assert.Equal(t, true, body["pending"])
		assert.Equal(t, db.StatusPending, body["paymentStatus"])
		assert.Equal(t, true, body["workflowStarted"])

		started, ok := f.starter.Started(uuid.MustParse(intent["paymentId"].(string)))
		assert.True(t, ok)
		assert.Equal(t, sig.String(), started)
	})

	t.Run("client gives up", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		b, _ := json.Marshal(map[string]any{
			"signature":        paymenttest.RandomSignature().String(),
			"expectedLamports": 10_000_000,
		})
		req := httptest.NewRequest(http.MethodPost, "/payments/confirm", bytes.NewReader(b)).WithContext(ctx)
		w := httptest.NewRecorder()
		f.handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusGatewayTimeout, w.Code)
		assert.Equal(t, "timeout", decode(t, w)["error"])
	})
}

// Confirming the same signature again returns the same outcome.
func TestConfirm_Idempotent(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	wallet := solanago.NewWallet().PublicKey()
	intent := f.createIntent(t, wallet, 3, "sd35-flash")
	lamports := uint64(intent["lamports"].(float64))

	sig := paymenttest.RandomSignature()
	f.chain.Put(sig, solana.CommitmentFinalized, paymenttest.PaymentTx(wallet, f.treasury, "", lamports))

	req := map[string]any{"signature": sig.String(), "paymentId": intent["paymentId"]}
	first := f.post(t, "/payments/confirm", req)
	second := f.post(t, "/payments/confirm", req)

	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	// A different transaction cannot settle the intent a second time.
	other := paymenttest.RandomSignature()
	f.chain.Put(other, solana.CommitmentFinalized, paymenttest.PaymentTx(wallet, f.treasury, "", lamports))
	w := f.post(t, "/payments/confirm", map[string]any{"signature": other.String(), "paymentId": intent["paymentId"]})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "payment_conflict", decode(t, w)["error"])
}

// A pending intent keeps the first signature it was given.
func TestConfirm_SecondPendingSignature(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	wallet := solanago.NewWallet().PublicKey()
	intent := f.createIntent(t, wallet, 1, "")

	first := paymenttest.RandomSignature()
	w := f.post(t, "/payments/confirm", map[string]any{"signature": first.String(), "paymentId": intent["paymentId"]})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = f.post(t, "/payments/confirm", map[string]any{
		"signature": paymenttest.RandomSignature().String(),
		"paymentId": intent["paymentId"],
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	body := decode(t, w)
	assert.Equal(t, "payment_conflict", body["error"])
	assert.Nil(t, body["workflowStarted"])

	w = f.do(t, http.MethodGet, "/payments/"+intent["paymentId"].(string), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first.String(), decode(t, w)["txSignature"])
}

func TestConfirm_ErrorCodes(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	wallet := solanago.NewWallet().PublicKey()

	failed := paymenttest.RandomSignature()
	failedTx := paymenttest.PaymentTx(wallet, f.treasury, "", 10_000_000)
	failedTx.Err = map[string]any{"InstructionError": []any{0, "Custom"}}
	f.chain.Put(failed, solana.CommitmentConfirmed, failedTx)

	tests := []struct {
		name           string
		body           map[string]any
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "missing signature",
			body:           map[string]any{"expectedLamports": 10_000_000},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "missing_signature",
		},
		{
			name: "foreign treasury",
			body: map[string]any{
				"signature":        paymenttest.RandomSignature().String(),
				"expectedLamports": 10_000_000,
				"treasury":         solanago.NewWallet().PublicKey().String(),
			},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "invalid_treasury",
		},
		{
			name:           "failed transaction",
			body:           map[string]any{"signature": failed.String(), "expectedLamports": 10_000_000},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "tx_err",
		},
		{
			name: "unknown payment",
			body: map[string]any{
				"signature": paymenttest.RandomSignature().String(),
				"paymentId": uuid.NewString(),
			},
			expectedStatus: http.StatusNotFound,
			expectedCode:   "payment_not_found",
		},
		{
			name:           "no amount",
			body:           map[string]any{"signature": paymenttest.RandomSignature().String()},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "invalid_amount",
		},
		{
			name: "collection without an intent",
			body: map[string]any{
				"signature":        paymenttest.RandomSignature().String(),
				"expectedLamports": 1,
				"collectionId":     "col-other",
			},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "invalid_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.post(t, "/payments/confirm", tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.expectedCode, decode(t, w)["error"])
		})
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	wallet := solanago.NewWallet().PublicKey()
	intent := f.createIntent(t, wallet, 1, "")
	lamports := uint64(intent["lamports"].(float64))

	sig := paymenttest.RandomSignature()
	f.chain.Put(sig, solana.CommitmentFinalized, paymenttest.PaymentTx(wallet, f.treasury, "", lamports))
	require.Equal(t, http.StatusOK, f.post(t, "/payments/confirm", map[string]any{
		"signature": sig.String(),
		"paymentId": intent["paymentId"],
	}).Code)

	w := f.do(t, http.MethodGet, "/api/payments/status?sig="+sig.String(), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "finalized", body["status"])
	assert.Equal(t, intent["paymentId"], body["paymentId"])
	assert.Equal(t, db.StatusConfirmed, body["paymentStatus"])

	w = f.do(t, http.MethodGet, "/payments/status?sig="+paymenttest.RandomSignature().String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", decode(t, w)["status"])

	w = f.do(t, http.MethodGet, "/payments/status", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing_signature", decode(t, w)["error"])

	f.chain.SetStatusError(solana.ErrRPC)
	w = f.do(t, http.MethodGet, "/payments/status?sig="+sig.String(), "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "rpc_unavailable", decode(t, w)["error"])
}

func TestListPayments(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	alice := solanago.NewWallet().PublicKey()
	bob := solanago.NewWallet().PublicKey()
	f.createIntent(t, alice, 1, "")
	f.createIntent(t, alice, 2, "")
	f.createIntent(t, bob, 1, "")

	w := f.do(t, http.MethodGet, "/payments?wallet="+alice.String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["ok"])
	assert.EqualValues(t, 2, body["count"])
	for _, p := range body["payments"].([]any) {
		assert.Equal(t, alice.String(), p.(map[string]any)["wallet"])
	}

	tests := []struct {
		name  string
		query string
	}{
		{"non-numeric limit", "?limit=abc"},
		{"limit too large", "?limit=1000"},
		{"negative offset", "?offset=-1"},
		{"unknown status", "?status=refunded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/payments"+tt.query, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "invalid_request", decode(t, w)["error"])
		})
	}

	first := body["payments"].([]any)[0].(map[string]any)
	w = f.do(t, http.MethodGet, "/payments/"+first["id"].(string), "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)
	assert.Equal(t, true, got["ok"])
	assert.Equal(t, first["id"], got["id"])

	w = f.do(t, http.MethodGet, "/payments/not-a-uuid", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "payment_not_found", decode(t, w)["error"])
}

func TestQuote(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	w := f.post(t, "/pricing/quote", map[string]any{"count": 100, "model": "sd35-medium"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "sd35-medium", body["model"])
	assert.EqualValues(t, 25_666_667, body["lamports"])
	assert.EqualValues(t, 100, body["count"])

	w = f.post(t, "/pricing/quote", map[string]any{"count": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_count", decode(t, w)["error"])

	w = f.do(t, http.MethodGet, "/pricing/models", "")
	require.Equal(t, http.StatusOK, w.Code)
	models := decode(t, w)
	assert.Equal(t, true, models["ok"])
	assert.Equal(t, "sd35-medium", models["default"])
	assert.Contains(t, models["models"], "sdxl-1.0")
}

func TestBuildTransfer(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	wallet := solanago.NewWallet().PublicKey()
	intent := f.createIntent(t, wallet, 1, "")

	w := f.post(t, "/payments/build-tx", map[string]any{"paymentId": intent["paymentId"]})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["ok"])
	assert.NotEmpty(t, body["tx"])
	assert.NotEmpty(t, body["blockhash"])

	built := f.builder.Transfers()
	require.Len(t, built, 1)
	assert.Equal(t, wallet, built[0].Payer)
	assert.Equal(t, f.treasury, built[0].Treasury)
	assert.EqualValues(t, intent["lamports"], built[0].Lamports)
	assert.Equal(t, intent["memo"], built[0].Memo)

	w = f.post(t, "/payments/build-tx", map[string]any{"wallet": wallet.String()})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_amount", decode(t, w)["error"])
}

func TestStartMint(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	wallet := solanago.NewWallet().PublicKey()

	w := f.post(t, "/mint/start", map[string]any{
		"wallet":       wallet.String(),
		"metadataUri":  "https://example.com/meta/1.json",
		"name":         "Generated #1",
		"symbol":       "GEN",
		"collectionId": "col-1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["ok"])
	assert.NotEmpty(t, body["txBase64"])
	assert.NotEmpty(t, body["mintAddress"])

	mints := f.store.Mints()
	require.Len(t, mints, 1)
	assert.Equal(t, wallet.String(), mints[0].MinterWallet)
	assert.Equal(t, body["mintAddress"], f.store.CollectionMint("col-1"))

	w = f.do(t, http.MethodGet, "/api/mints?wallet="+wallet.String(), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	listed := decode(t, w)
	assert.Equal(t, true, listed["ok"])
	assert.EqualValues(t, 1, listed["count"])
	minted := listed["mints"].([]any)[0].(map[string]any)
	assert.Equal(t, body["mintAddress"], minted["mintAddress"])
	assert.Equal(t, "col-1", minted["collectionId"])

	w = f.do(t, http.MethodGet, "/mints?wallet=nope", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_wallet", decode(t, w)["error"])

	w = f.post(t, "/mint/start", map[string]any{"wallet": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_wallet", decode(t, w)["error"])
}

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	w := newFixture(t, fixtureOptions{health: pinger{}}).do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	w = newFixture(t, fixtureOptions{health: pinger{err: errors.New("connection refused")}}).do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	w := f.do(t, http.MethodOptions, "/payments/confirm", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.post(t, "/pricing/quote", map[string]any{"count": 1})

	w := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
