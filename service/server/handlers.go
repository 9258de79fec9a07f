package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/mintpay/service/db"
	"github.com/brojonat/mintpay/service/metrics"
	"github.com/brojonat/mintpay/service/payment"
	"github.com/brojonat/mintpay/service/pricing"
	"github.com/brojonat/mintpay/service/ratelimit"
)

const (
	maxRequestBodySize = 64 << 10 // 64KB - requests are a handful of fields
	defaultListLimit   = 50
	maxListLimit       = 200
	healthCheckTimeout = 2 * time.Second
)

// createIntentRequest is the body of POST /payments/create-intent.
type createIntentRequest struct {
	Wallet       string `json:"wallet"`
	Count        int    `json:"count"`
	Model        string `json:"model"`
	CollectionID string `json:"collectionId"`
	Lamports     int64  `json:"lamports"`
}

// handleCreateIntent returns a handler that prices a request and stores a
// pending payment intent.
// POST /payments/create-intent
func handleCreateIntent(svc *payment.Service, limiter *ratelimit.Limiter, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	const route = "create-intent"
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req createIntentRequest
		if !decodeJSON(w, r, &req, logger) {
			return
		}

		// Keyed by wallet and address so one wallet cannot flood intents from many hosts.
		decision, err := limiter.Allow(r.Context(), route+":"+strings.TrimSpace(req.Wallet)+":"+ratelimit.ClientIP(r))
		if err != nil {
			logger.WarnContext(r.Context(), "rate limiter unavailable, allowing request", "route", route, "error", err)
		} else if !decision.Allowed {
			m.RecordRateLimitRejection(route)
			ratelimit.WriteRejection(w, decision)
			return
		}

		intent, err := svc.CreateIntent(r.Context(), payment.CreateIntentRequest{
			Wallet:         strings.TrimSpace(req.Wallet),
			Count:          req.Count,
			Model:          strings.TrimSpace(req.Model),
			CollectionID:   strings.TrimSpace(req.CollectionID),
			QuotedLamports: req.Lamports,
		})
		if err != nil {
			writePaymentError(w, r, err, logger)
			return
		}

		writeJSON(w, struct {
			OK bool `json:"ok"`
			*payment.Intent
		}{true, intent}, http.StatusOK)
	})
}

// buildTransferRequest is the body of POST /payments/build-tx.
type buildTransferRequest struct {
	PaymentID string `json:"paymentId"`
	Wallet    string `json:"wallet"`
	Lamports  uint64 `json:"lamports"`
	Memo      string `json:"memo"`
}

// handleBuildTransfer returns a handler that composes the unsigned transfer
// for an intent, or for a bare wallet and amount.
// POST /payments/build-tx
func handleBuildTransfer(svc *payment.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req buildTransferRequest
		if !decodeJSON(w, r, &req, logger) {
			return
		}

		tx, err := svc.BuildTransfer(r.Context(), payment.BuildTransferRequest{
			PaymentID: strings.TrimSpace(req.PaymentID),
			Wallet:    strings.TrimSpace(req.Wallet),
			Lamports:  req.Lamports,
			Memo:      req.Memo,
		})
		if err != nil {
			writePaymentError(w, r, err, logger)
			return
		}

		writeJSON(w, map[string]any{
			"ok":                   true,
			"tx":                   tx.TxBase64,
			"blockhash":            tx.Blockhash,
			"lastValidBlockHeight": tx.LastValidBlockHeight,
		}, http.StatusOK)
	})
}

// confirmRequest is the body of POST /payments/confirm.
type confirmRequest struct {
	Signature        string `json:"signature"`
	ExpectedLamports uint64 `json:"expectedLamports"`
	Treasury         string `json:"treasury"`
	PaymentID        string `json:"paymentId"`
	Wallet           string `json:"wallet"`
	CollectionID     string `json:"collectionId"`
}

// handleConfirm returns a handler that waits, within the request budget, for
// a signature to settle and validates the payment it carries. A signature
// that is still in flight when the budget runs out answers 202 with
// pending=true; clients then poll GET /payments/status.
// POST /payments/confirm
func handleConfirm(svc *payment.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req confirmRequest
		if !decodeJSON(w, r, &req, logger) {
			return
		}

		res, err := svc.Confirm(r.Context(), payment.ConfirmRequest{
			Signature:        req.Signature,
			ExpectedLamports: req.ExpectedLamports,
			Treasury:         strings.TrimSpace(req.Treasury),
			PaymentID:        strings.TrimSpace(req.PaymentID),
			Wallet:           strings.TrimSpace(req.Wallet),
			CollectionID:     strings.TrimSpace(req.CollectionID),
		})
		if err != nil {
			writePaymentError(w, r, err, logger)
			return
		}

		status := http.StatusOK
		if res.Pending {
			status = http.StatusAccepted
		}
		writeJSON(w, struct {
			OK bool `json:"ok"`
			*payment.ConfirmResult
		}{true, res}, status)
	})
}

// handleStatus returns a handler that performs a single status lookup.
// GET /payments/status?sig={signature}
func handleStatus(svc *payment.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig := r.URL.Query().Get("sig")
		if sig == "" {
			sig = r.URL.Query().Get("signature")
		}

		res, err := svc.Status(r.Context(), sig)
		if err != nil {
			writePaymentError(w, r, err, logger)
			return
		}

		writeJSON(w, struct {
			OK bool `json:"ok"`
			*payment.StatusResult
		}{true, res}, http.StatusOK)
	})
}

// paymentResponse is the API form of a stored intent.
type paymentResponse struct {
	ID            string     `json:"id"`
	Wallet        string     `json:"wallet"`
	Lamports      int64      `json:"lamports"`
	Count         int32      `json:"count"`
	Model         string     `json:"model"`
	Reference     string     `json:"reference"`
	Memo          string     `json:"memo"`
	CollectionID  *string    `json:"collectionId,omitempty"`
	Status        string     `json:"status"`
	TxSignature   *string    `json:"txSignature,omitempty"`
	FailureReason *string    `json:"failureReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	ConfirmedAt   *time.Time `json:"confirmedAt,omitempty"`
}

// paymentToResponse converts a stored Payment to its response format.
func paymentToResponse(p *db.Payment) paymentResponse {
	return paymentResponse{
		ID:            p.ID.String(),
		Wallet:        p.Wallet,
		Lamports:      p.Lamports,
		Count:         p.Count,
		Model:         p.Model,
		Reference:     p.Reference,
		Memo:          p.Memo,
		CollectionID:  p.CollectionID,
		Status:        p.Status,
		TxSignature:   p.TxSignature,
		FailureReason: p.FailureReason,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		ConfirmedAt:   p.ConfirmedAt,
	}
}

// handleGetPayment returns a handler that retrieves one intent.
// GET /payments/{id}
func handleGetPayment(svc *payment.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.GetPayment(r.Context(), r.PathValue("id"))
		if err != nil {
			writePaymentError(w, r, err, logger)
			return
		}
		writeJSON(w, struct {
			OK bool `json:"ok"`
			paymentResponse
		}{true, paymentToResponse(p)}, http.StatusOK)
	})
}

// handleListPayments returns a handler that lists intents, newest first.
// GET /payments?wallet={address}&status={status}&limit={n}&offset={n}
func handleListPayments(svc *payment.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		limit, err := parseBoundedInt(q.Get("limit"), defaultListLimit, 1, maxListLimit)
		if err != nil {
			writeError(w, payment.CodeInvalidRequest, "limit: "+err.Error(), http.StatusBadRequest, nil)
			return
		}
		offset, err := parseBoundedInt(q.Get("offset"), 0, 0, 1<<30)
		if err != nil {
			writeError(w, payment.CodeInvalidRequest, "offset: "+err.Error(), http.StatusBadRequest, nil)
			return
		}

		payments, err := svc.ListPayments(r.Context(), db.ListPaymentsParams{
			Wallet: strings.TrimSpace(q.Get("wallet")),
			Status: strings.TrimSpace(q.Get("status")),
			Limit:  int32(limit),
			Offset: int32(offset),
		})
		if err != nil {
			writePaymentError(w, r, err, logger)
			return
		}

		resp := make([]paymentResponse, len(payments))
		for i, p := range payments {
			resp[i] = paymentToResponse(p)
		}

		logger.Debug("payments listed", "count", len(resp))

		writeJSON(w, map[string]any{
			"ok":       true,
			"payments": resp,
			"count":    len(resp),
			"limit":    limit,
			"offset":   offset,
		}, http.StatusOK)
	})
}

// quoteRequest is the body of POST /pricing/quote.
type quoteRequest struct {
	Count int    `json:"count"`
	Model string `json:"model"`
}

// handleQuote returns a handler that prices count images of a model.
// POST /pricing/quote
func handleQuote(svc *payment.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req quoteRequest
		if !decodeJSON(w, r, &req, logger) {
			return
		}
		if req.Count < pricing.MinCount || req.Count > pricing.MaxCount {
			writeError(w, payment.CodeInvalidCount, "count must be between 1 and 10000", http.StatusBadRequest, nil)
			return
		}
		q := svc.Quote(req.Count, strings.TrimSpace(req.Model))
		writeJSON(w, struct {
			OK bool `json:"ok"`
			pricing.Quote
		}{true, q}, http.StatusOK)
	})
}

// handleListModels returns a handler that lists the priced models.
// GET /pricing/models
func handleListModels(svc *payment.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"ok":      true,
			"models":  pricing.Models(),
			"default": svc.DefaultModel(),
		}, http.StatusOK)
	})
}

// startMintRequest is the body of POST /mint/start.
type startMintRequest struct {
	Wallet               string `json:"wallet"`
	MetadataURI          string `json:"metadataUri"`
	Name                 string `json:"name"`
	Symbol               string `json:"symbol"`
	SellerFeeBasisPoints uint16 `json:"sellerFeeBasisPoints"`
	CollectionID         string `json:"collectionId"`
}

// handleStartMint returns a handler that composes the gated mint transaction.
// POST /mint/start
func handleStartMint(svc *payment.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req startMintRequest
		if !decodeJSON(w, r, &req, logger) {
			return
		}

		res, err := svc.StartMint(r.Context(), payment.StartMintRequest{
			Wallet:               strings.TrimSpace(req.Wallet),
			MetadataURI:          strings.TrimSpace(req.MetadataURI),
			Name:                 req.Name,
			Symbol:               req.Symbol,
			SellerFeeBasisPoints: req.SellerFeeBasisPoints,
			CollectionID:         strings.TrimSpace(req.CollectionID),
		})
		if err != nil {
			writePaymentError(w, r, err, logger)
			return
		}

		writeJSON(w, struct {
			OK bool `json:"ok"`
			*payment.StartMintResult
		}{true, res}, http.StatusOK)
	})
}

// mintResponse is the API form of a recorded mint.
type mintResponse struct {
	MintAddress  string    `json:"mintAddress"`
	MinterWallet string    `json:"minterWallet"`
	CollectionID *string   `json:"collectionId,omitempty"`
	MetadataURI  string    `json:"metadataUri"`
	Name         string    `json:"name"`
	Symbol       string    `json:"symbol"`
	CreatedAt    time.Time `json:"createdAt"`
}

// handleListMints returns a handler that lists the mints composed for a wallet.
// GET /mints?wallet={address}&limit={n}
func handleListMints(svc *payment.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		limit, err := parseBoundedInt(q.Get("limit"), defaultListLimit, 1, maxListLimit)
		if err != nil {
			writeError(w, payment.CodeInvalidRequest, "limit: "+err.Error(), http.StatusBadRequest, nil)
			return
		}

		mints, err := svc.ListMints(r.Context(), strings.TrimSpace(q.Get("wallet")), int32(limit))
		if err != nil {
			writePaymentError(w, r, err, logger)
			return
		}

		resp := make([]mintResponse, len(mints))
		for i, m := range mints {
			resp[i] = mintResponse{
				MintAddress:  m.MintAddress,
				MinterWallet: m.MinterWallet,
				CollectionID: m.CollectionID,
				MetadataURI:  m.MetadataURI,
				Name:         m.Name,
				Symbol:       m.Symbol,
				CreatedAt:    m.CreatedAt,
			}
		}

		writeJSON(w, map[string]any{
			"ok":    true,
			"mints": resp,
			"count": len(resp),
		}, http.StatusOK)
	})
}

// handleHealth reports OK when the database answers a ping.
// GET /health
func handleHealth(health HealthChecker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := health.Ping(ctx); err != nil {
				logger.Warn("health check failed", "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("UNAVAILABLE"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

// decodeJSON reads a size-limited JSON body into dst. On failure it writes
// the error response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, logger *slog.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, payment.CodeInvalidRequest, "request body too large", http.StatusRequestEntityTooLarge, nil)
			return false
		}
		logger.Debug("invalid request body", "path", r.URL.Path, "error", err)
		writeError(w, payment.CodeInvalidRequest, "invalid request body: must be valid JSON", http.StatusBadRequest, nil)
		return false
	}
	return true
}

// statusForCode maps a payment failure code onto an HTTP status.
func statusForCode(code payment.Code) int {
	switch code {
	case payment.CodeInvalidRequest,
		payment.CodeMissingSignature,
		payment.CodeInvalidTreasury,
		payment.CodeInvalidAmount,
		payment.CodeInvalidWallet,
		payment.CodeInvalidCount,
		payment.CodeInvalidMetadata,
		payment.CodeTxErr,
		payment.CodeWrongTransfer,
		payment.CodePayerNotSigner,
		payment.CodeMemoMismatch:
		return http.StatusBadRequest
	case payment.CodePaymentNotFound, payment.CodeTxNotFound:
		return http.StatusNotFound
	case payment.CodePaymentConflict, payment.CodeQuoteMismatch:
		return http.StatusConflict
	case payment.CodeTimeout:
		return http.StatusGatewayTimeout
	case payment.CodeRPCUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writePaymentError writes the response for an error returned by the
// payment service. Server-side failures are logged; client mistakes are not.
func writePaymentError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	var pe *payment.Error
	if !errors.As(err, &pe) {
		pe = &payment.Error{Code: payment.CodeInternal, Message: "unexpected error", Err: err}
	}

	status := statusForCode(pe.Code)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"code", string(pe.Code),
			"error", err,
		)
	} else {
		logger.DebugContext(r.Context(), "request rejected",
			"path", r.URL.Path,
			"code", string(pe.Code),
			"error", err,
		)
	}

	// Internal failures never leak their cause.
	message := pe.Message
	if pe.Code == payment.CodeInternal {
		message = "internal server error"
	}
	writeError(w, pe.Code, message, status, pe.Detail)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response. Detail keys are merged into the
// body next to the code and message.
func writeError(w http.ResponseWriter, code payment.Code, message string, statusCode int, detail map[string]any) {
	body := make(map[string]any, len(detail)+3)
	for k, v := range detail {
		body[k] = v
	}
	body["ok"] = false
	body["error"] = string(code)
	body["message"] = message
	writeJSON(w, body, statusCode)
}

// parseBoundedInt parses an optional query integer within [min, max].
func parseBoundedInt(raw string, def, min, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("must be an integer")
	}
	if n < min || n > max {
		return 0, errors.New("out of range")
	}
	return n, nil
}
