package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/mintpay/service/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)

	GetMinimumBalanceForRentExemption(
		ctx context.Context,
		dataSize uint64,
		commitment rpc.CommitmentType,
	) (uint64, error)
}

// Client wraps the RPC client with domain-specific reads, retries and metrics.
type Client struct {
	rpc        RPCClient
	logger     *slog.Logger
	metrics    *metrics.Metrics
	endpoint   string // RPC endpoint identifier for metrics (e.g., "devnet", rpc host)
	newBackOff func() backoff.BackOff
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithBackOff replaces the retry policy used for blockhash, rent and
// transaction reads. Tests use it to retry without sleeping.
func WithBackOff(newBackOff func() backoff.BackOff) ClientOption {
	return func(c *Client) {
		c.newBackOff = newBackOff
	}
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		rpc:        rpcClient,
		logger:     logger,
		metrics:    m,
		endpoint:   endpoint,
		newBackOff: defaultBackOff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// defaultBackOff retries quickly: a build or confirm request is waiting on it.
func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 6 * time.Second
	return b
}

// LatestBlockhash fetches a recent blockhash at confirmed commitment.
func (c *Client) LatestBlockhash(ctx context.Context) (*rpc.LatestBlockhashResult, error) {
	var out *rpc.LatestBlockhashResult
	err := c.retry(ctx, "GetLatestBlockhash", func() error {
		start := time.Now()
		res, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
		c.observe("GetLatestBlockhash", start, err)
		if err != nil {
			return err
		}
		if res == nil || res.Value == nil {
			return errors.New("empty blockhash response")
		}
		out = res.Value
		return nil
	})
	if err != nil {
		return nil, rpcError("getLatestBlockhash", err)
	}
	return out, nil
}

// RentExemptMinimum returns the lamports an account of dataSize bytes needs to be rent exempt.
func (c *Client) RentExemptMinimum(ctx context.Context, dataSize uint64) (uint64, error) {
	var lamports uint64
	err := c.retry(ctx, "GetMinimumBalanceForRentExemption", func() error {
		start := time.Now()
		v, err := c.rpc.GetMinimumBalanceForRentExemption(ctx, dataSize, rpc.CommitmentConfirmed)
		c.observe("GetMinimumBalanceForRentExemption", start, err)
		if err != nil {
			return err
		}
		lamports = v
		return nil
	})
	if err != nil {
		return 0, rpcError("getMinimumBalanceForRentExemption", err)
	}
	return lamports, nil
}

// SignatureStatus asks the node for the current status of one signature,
// searching transaction history so older signatures are found too.
// It returns (nil, nil) when the node has no status yet. It does not retry:
// the confirmation poller owns the retry cadence.
func (c *Client) SignatureStatus(ctx context.Context, signature solana.Signature) (*SignatureStatus, error) {
	start := time.Now()
	res, err := c.rpc.GetSignatureStatuses(ctx, true, signature)
	c.observe("GetSignatureStatuses", start, err)
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, rpcError("getSignatureStatuses", err)
	}
	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return nil, nil
	}

	v := res.Value[0]
	return &SignatureStatus{
		Signature:          signature.String(),
		Slot:               v.Slot,
		Confirmations:      v.Confirmations,
		ConfirmationStatus: commitmentFromRPC(v.ConfirmationStatus),
		Err:                v.Err,
	}, nil
}

// FetchTransaction loads a confirmed transaction and parses it into our domain model.
// A status can be visible a moment before the full transaction is, so "not found"
// is retried like any transient error before ErrTxNotFound is returned.
func (c *Client) FetchTransaction(ctx context.Context, signature solana.Signature) (*ParsedTransaction, error) {
	maxTxVersion := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxTxVersion,
	}

	var result *rpc.GetTransactionResult
	notFound := false
	err := c.retry(ctx, "GetTransaction", func() error {
		start := time.Now()
		res, err := c.rpc.GetTransaction(ctx, signature, opts)
		c.observe("GetTransaction", start, err)
		if errors.Is(err, rpc.ErrNotFound) || (err == nil && res == nil) {
			notFound = true
			return rpc.ErrNotFound
		}
		if err != nil {
			notFound = false
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		if notFound {
			return nil, fmt.Errorf("%w: %s", ErrTxNotFound, signature)
		}
		return nil, rpcError("getTransaction", err)
	}

	parsed, err := ParseTransaction(signature.String(), result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction %s: %w", signature, err)
	}
	return parsed, nil
}

func (c *Client) retry(ctx context.Context, method string, op func() error) error {
	b := backoff.WithContext(c.newBackOff(), ctx)
	return backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		reason := "error"
		if strings.Contains(err.Error(), "429") {
			reason = "rate_limit"
		} else if errors.Is(err, rpc.ErrNotFound) {
			reason = "not_found"
		}
		c.logger.WarnContext(ctx, "rpc call failed, retrying",
			"method", method,
			"reason", reason,
			"error", err,
			"backoff", wait,
		)
		c.metrics.RecordRPCRetry(method, reason)
	})
}

func (c *Client) observe(method string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}
