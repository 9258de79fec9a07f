package solana

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/mintpay/service/metrics"
	"github.com/gagliardetto/solana-go"
)

// ConfirmationState is where a signature sits in the confirmation state machine:
//
//	Unknown -> Pending -> {Confirmed, Finalized, Failed, TimedOut}
type ConfirmationState string

const (
	StateUnknown   ConfirmationState = "unknown"
	StatePending   ConfirmationState = "pending"
	StateConfirmed ConfirmationState = "confirmed"
	StateFinalized ConfirmationState = "finalized"
	StateFailed    ConfirmationState = "failed"
	StateTimedOut  ConfirmationState = "timed_out"
)

// Terminal reports whether polling stops in this state.
func (s ConfirmationState) Terminal() bool {
	switch s {
	case StateConfirmed, StateFinalized, StateFailed, StateTimedOut:
		return true
	default:
		return false
	}
}

// Succeeded reports whether the signature reached the target commitment.
func (s ConfirmationState) Succeeded() bool {
	return s == StateConfirmed || s == StateFinalized
}

// StatusFetcher is the single RPC read the poller needs. *Client implements it.
type StatusFetcher interface {
	SignatureStatus(ctx context.Context, signature solana.Signature) (*SignatureStatus, error)
}

// PollerConfig controls the poll cadence and the hard wall-clock budget.
type PollerConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	Target   Commitment // defaults to confirmed
}

// DefaultPollerConfig matches the service defaults: one poll per second for up to 90s.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval: time.Second,
		Timeout:  90 * time.Second,
		Target:   CommitmentConfirmed,
	}
}

// ConfirmationResult is the terminal outcome of one Await call.
type ConfirmationResult struct {
	State   ConfirmationState
	Status  *SignatureStatus // last status seen, nil if the node never reported one
	Ticks   int
	Elapsed time.Duration
	LastErr error // last transient RPC error, or the context error on cancellation
}

// Poller waits for one signature to reach a terminal state.
// Ticks for a signature are strictly sequential.
type Poller struct {
	fetcher StatusFetcher
	cfg     PollerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a poller. If metrics is nil, no metrics will be recorded.
func NewPoller(fetcher StatusFetcher, cfg PollerConfig, m *metrics.Metrics, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Target == CommitmentNone {
		cfg.Target = CommitmentConfirmed
	}
	return &Poller{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// WithTimeout returns a copy of the poller with a different budget. The HTTP
// confirm path uses it to return a fast first answer.
func (p *Poller) WithTimeout(timeout time.Duration) *Poller {
	cp := *p
	cp.cfg.Timeout = timeout
	return &cp
}

// Config returns the poller's effective configuration.
func (p *Poller) Config() PollerConfig {
	return p.cfg
}

// Await polls until the signature reaches the target commitment, fails on chain,
// or the budget runs out. Transient RPC errors keep the signature Pending.
// Total time spent never exceeds Timeout + Interval. Cancelling ctx ends the
// loop with StateTimedOut and LastErr set to the context error.
// caller labels the metrics ("http", "workflow").
func (p *Poller) Await(ctx context.Context, signature solana.Signature, caller string) ConfirmationResult {
	start := p.now()
	res := ConfirmationResult{State: StateUnknown}

	finish := func(state ConfirmationState) ConfirmationResult {
		res.State = state
		res.Elapsed = p.now().Sub(start)
		p.metrics.RecordConfirmation(string(state), caller, res.Ticks, res.Elapsed.Seconds())
		p.logger.InfoContext(ctx, "confirmation finished",
			"signature", signature.String(),
			"state", state,
			"ticks", res.Ticks,
			"elapsed", res.Elapsed,
		)
		return res
	}

	for {
		elapsed := p.now().Sub(start)
		if elapsed >= p.cfg.Timeout {
			return finish(StateTimedOut)
		}

		// Bound the RPC call itself so a hung node cannot push us past the budget.
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout-elapsed+p.cfg.Interval)
		status, err := p.fetcher.SignatureStatus(callCtx, signature)
		cancel()
		res.Ticks++

		switch {
		case ctx.Err() != nil:
			res.LastErr = ctx.Err()
			return finish(StateTimedOut)
		case err != nil:
			res.LastErr = err
			p.logger.WarnContext(ctx, "signature status lookup failed, will retry",
				"signature", signature.String(),
				"tick", res.Ticks,
				"error", err,
			)
		case status != nil:
			res.Status = status
			if status.Err != nil {
				return finish(StateFailed)
			}
			if status.ConfirmationStatus.AtLeast(p.cfg.Target) {
				if status.ConfirmationStatus == CommitmentFinalized {
					return finish(StateFinalized)
				}
				return finish(StateConfirmed)
			}
		}

		if res.State == StateUnknown {
			res.State = StatePending
		}

		remaining := p.cfg.Timeout - p.now().Sub(start)
		if remaining <= 0 {
			return finish(StateTimedOut)
		}
		if err := p.sleep(ctx, min(p.cfg.Interval, remaining)); err != nil {
			res.LastErr = err
			return finish(StateTimedOut)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
