// Package client is the Go client for the mintpay HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
)

// Quote is the price of one generation request.
type Quote struct {
	Model    string          `json:"model"`
	Count    int             `json:"count"`
	Credits  decimal.Decimal `json:"credits"`
	EUR      decimal.Decimal `json:"eur"`
	USD      decimal.Decimal `json:"usd"`
	SOL      decimal.Decimal `json:"sol"`
	Lamports int64           `json:"lamports"`
}

// IntentRequest asks the server for a payment intent.
type IntentRequest struct {
	Wallet       string `json:"wallet"`
	Count        int    `json:"count"`
	Model        string `json:"model,omitempty"`
	CollectionID string `json:"collectionId,omitempty"`
	// Lamports is the amount shown to the user. The server rejects it with
	// quote_mismatch when its own price has moved too far.
	Lamports int64 `json:"lamports,omitempty"`
}

// Intent is a pending payment intent.
type Intent struct {
	PaymentID  string          `json:"paymentId"`
	Lamports   int64           `json:"lamports"`
	SOL        decimal.Decimal `json:"sol"`
	Treasury   string          `json:"treasury"`
	Reference  string          `json:"reference"`
	Memo       string          `json:"memo"`
	Model      string          `json:"model"`
	Count      int             `json:"count"`
	PaymentURL string          `json:"paymentUrl"`
	QRCode     string          `json:"qrCode,omitempty"`
}

// TransferRequest asks for an unsigned transfer, either for an intent or a
// bare wallet and amount.
type TransferRequest struct {
	PaymentID string `json:"paymentId,omitempty"`
	Wallet    string `json:"wallet,omitempty"`
	Lamports  uint64 `json:"lamports,omitempty"`
	Memo      string `json:"memo,omitempty"`
}

// UnsignedTransaction is a base64 transaction for the wallet to sign.
type UnsignedTransaction struct {
	Tx                   string `json:"tx"`
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// ConfirmRequest asks the server to confirm a submitted transaction.
type ConfirmRequest struct {
	Signature        string `json:"signature"`
	ExpectedLamports uint64 `json:"expectedLamports,omitempty"`
	Treasury         string `json:"treasury,omitempty"`
	PaymentID        string `json:"paymentId,omitempty"`
	Wallet           string `json:"wallet,omitempty"`
	CollectionID     string `json:"collectionId,omitempty"`
}

// Confirmation is a confirmed or still-pending payment.
type Confirmation struct {
	Pending             bool   `json:"pending"`
	Signature           string `json:"signature"`
	ExplorerURL         string `json:"explorerUrl"`
	FinalStatus         string `json:"finalStatus,omitempty"`
	TotalToTreasury     uint64 `json:"totalToTreasury,omitempty"`
	UsedBalanceFallback bool   `json:"usedBalanceFallback,omitempty"`
	PaymentID           string `json:"paymentId,omitempty"`
	PaymentStatus       string `json:"paymentStatus,omitempty"`
	WorkflowStarted     bool   `json:"workflowStarted,omitempty"`
}

// Status is one signature status lookup.
type Status struct {
	Signature     string  `json:"signature"`
	Status        string  `json:"status"` // pending, confirmed, finalized or err
	ExplorerURL   string  `json:"explorerUrl"`
	Slot          uint64  `json:"slot,omitempty"`
	Confirmations *uint64 `json:"confirmations,omitempty"`
	Err           any     `json:"err,omitempty"`
	PaymentID     string  `json:"paymentId,omitempty"`
	PaymentStatus string  `json:"paymentStatus,omitempty"`
}

// Settled reports whether the status is terminal.
func (s *Status) Settled() bool {
	switch s.Status {
	case "confirmed", "finalized", "err":
		return true
	}
	return false
}

// Payment is a stored payment intent.
type Payment struct {
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

// ListOptions filters ListPayments. Zero values are omitted.
type ListOptions struct {
	Wallet string
	Status string
	Limit  int
	Offset int
}

// MintRequest asks for a gated mint transaction.
type MintRequest struct {
	Wallet               string `json:"wallet"`
	MetadataURI          string `json:"metadataUri"`
	Name                 string `json:"name"`
	Symbol               string `json:"symbol,omitempty"`
	SellerFeeBasisPoints uint16 `json:"sellerFeeBasisPoints,omitempty"`
	CollectionID         string `json:"collectionId,omitempty"`
}

// MintTransaction is the partially signed mint transaction.
type MintTransaction struct {
	TxBase64             string `json:"txBase64"`
	RecentBlockhash      string `json:"recentBlockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	MintAddress          string `json:"mintAddress"`
	TokenAccount         string `json:"tokenAccount"`
	ConfigPDA            string `json:"configPda"`
	CounterPDA           string `json:"counterPda"`
}

// Mint is a mint transaction composed for a wallet.
type Mint struct {
	MintAddress  string    `json:"mintAddress"`
	MinterWallet string    `json:"minterWallet"`
	CollectionID *string   `json:"collectionId,omitempty"`
	MetadataURI  string    `json:"metadataUri"`
	Name         string    `json:"name"`
	Symbol       string    `json:"symbol"`
	CreatedAt    time.Time `json:"createdAt"`
}

// APIError is an error response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	// Detail holds the remaining fields of the error body, e.g. totalToTreasury.
	Detail map[string]any
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("request failed (%d): %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Code)
}

// ErrorCode returns the server error code carried by err, or "".
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// Client is the HTTP client for the mintpay service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new client. The default timeout leaves room for a
// confirm call that waits out the server's confirmation budget.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Quote prices count images of model.
func (c *Client) Quote(ctx context.Context, count int, model string) (*Quote, error) {
	var q Quote
	body := map[string]any{"count": count, "model": model}
	if err := c.do(ctx, http.MethodPost, "/pricing/quote", body, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// CreateIntent creates a pending payment intent.
func (c *Client) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	var intent Intent
	if err := c.do(ctx, http.MethodPost, "/payments/create-intent", req, &intent); err != nil {
		return nil, err
	}
	c.logger.Debug("payment intent created", "payment_id", intent.PaymentID, "lamports", intent.Lamports)
	return &intent, nil
}

// BuildTransfer fetches the unsigned transfer transaction to sign.
func (c *Client) BuildTransfer(ctx context.Context, req TransferRequest) (*UnsignedTransaction, error) {
	var tx UnsignedTransaction
	if err := c.do(ctx, http.MethodPost, "/payments/build-tx", req, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Confirm asks the server to confirm a submitted transaction. A pending
// result is not an error; poll Status or use AwaitConfirmation.
func (c *Client) Confirm(ctx context.Context, req ConfirmRequest) (*Confirmation, error) {
	var res Confirmation
	if err := c.do(ctx, http.MethodPost, "/payments/confirm", req, &res); err != nil {
		return nil, err
	}
	c.logger.Debug("confirm answered", "signature", res.Signature, "pending", res.Pending)
	return &res, nil
}

// Status performs one status lookup for signature.
func (c *Client) Status(ctx context.Context, signature string) (*Status, error) {
	var st Status
	path := "/payments/status?" + url.Values{"sig": {signature}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// AwaitConfirmation polls Status every interval until the signature settles
// or ctx is done. Lookup errors other than rpc_unavailable stop the wait.
func (c *Client) AwaitConfirmation(ctx context.Context, signature string, interval time.Duration) (*Status, error) {
	if interval <= 0 {
		interval = time.Second
	}

	var last *Status
	op := func() error {
		st, err := c.Status(ctx, signature)
		if err != nil {
			if ErrorCode(err) == "rpc_unavailable" {
				return err
			}
			return backoff.Permanent(err)
		}
		last = st
		if !st.Settled() {
			return fmt.Errorf("signature %s is still %s", signature, st.Status)
		}
		return nil
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	err := backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		c.logger.Debug("waiting for confirmation", "signature", signature, "reason", err, "wait", wait)
	})
	if err != nil {
		if ctx.Err() != nil && last != nil {
			return last, fmt.Errorf("gave up waiting for %s: %w", signature, ctx.Err())
		}
		return last, err
	}
	return last, nil
}

// GetPayment retrieves one payment intent.
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var p Payment
	if err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPayments lists payment intents, newest first.
func (c *Client) ListPayments(ctx context.Context, opts ListOptions) ([]*Payment, error) {
	q := url.Values{}
	if opts.Wallet != "" {
		q.Set("wallet", opts.Wallet)
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/payments"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var response struct {
		Payments []*Payment `json:"payments"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}
	return response.Payments, nil
}

// StartMint fetches the gated mint transaction for the wallet to sign.
func (c *Client) StartMint(ctx context.Context, req MintRequest) (*MintTransaction, error) {
	var tx MintTransaction
	if err := c.do(ctx, http.MethodPost, "/mint/start", req, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// ListMints lists the mints composed for wallet, newest first. A limit of
// zero uses the server default.
func (c *Client) ListMints(ctx context.Context, wallet string, limit int) ([]*Mint, error) {
	q := url.Values{"wallet": {wallet}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var response struct {
		Mints []*Mint `json:"mints"`
	}
	if err := c.do(ctx, http.MethodGet, "/mints?"+q.Encode(), nil, &response); err != nil {
		return nil, err
	}
	return response.Mints, nil
}

// do sends a JSON request and decodes a 2xx response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse turns a non-2xx response into an *APIError.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		apiErr.Code = http.StatusText(resp.StatusCode)
		apiErr.Message = string(bytes.TrimSpace(body))
		return apiErr
	}

	apiErr.Code, _ = fields["error"].(string)
	apiErr.Message, _ = fields["message"].(string)
	delete(fields, "ok")
	delete(fields, "error")
	delete(fields, "message")
	if len(fields) > 0 {
		apiErr.Detail = fields
	}
	return apiErr
}
