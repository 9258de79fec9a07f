package solana

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedFetcher returns one scripted answer per tick; the last one repeats.
// Each call advances the fake clock by callCost to model RPC latency.
type scriptedFetcher struct {
	steps    []fetchStep
	clock    *fakeClock
	callCost time.Duration
	calls    int
}

type fetchStep struct {
	status *SignatureStatus
	err    error
}

func (f *scriptedFetcher) SignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error) {
	f.calls++
	f.clock.advance(f.callCost)
	if len(f.steps) == 0 {
		return nil, nil
	}
	step := f.steps[min(f.calls-1, len(f.steps)-1)]
	return step.status, step.err
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakePoller(f *scriptedFetcher, cfg PollerConfig) *Poller {
	p := NewPoller(f, cfg, nil, testLogger())
	p.now = f.clock.Now
	p.sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		f.clock.advance(d)
		return nil
	}
	return p
}

func status(c Commitment) fetchStep {
	return fetchStep{status: &SignatureStatus{ConfirmationStatus: c, Slot: 10}}
}

func TestPoller_FailsImmediatelyOnChainError(t *testing.T) {
	// WHAT IS BEING TESTED:
	// A status carrying an on-chain error on the first tick.
	//
	// EXPECTED BEHAVIOR:
	// Failed after exactly one tick, with the raw error kept on the status.
	clock := &fakeClock{now: time.Unix(0, 0)}
	f := &scriptedFetcher{clock: clock, steps: []fetchStep{{
		status: &SignatureStatus{ConfirmationStatus: CommitmentProcessed, Err: map[string]any{"InstructionError": "x"}},
	}}}

	res := newFakePoller(f, DefaultPollerConfig()).Await(context.Background(), testSignature(1), "test")

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 1, res.Ticks)
	assert.Equal(t, 1, f.calls)
	require.NotNil(t, res.Status)
	assert.NotNil(t, res.Status.Err)
	assert.True(t, res.State.Terminal())
	assert.False(t, res.State.Succeeded())
}

func TestPoller_PendingThenConfirmed(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	f := &scriptedFetcher{clock: clock, steps: []fetchStep{
		{},
		status(CommitmentProcessed),
		status(CommitmentProcessed),
		status(CommitmentConfirmed),
	}}

	res := newFakePoller(f, DefaultPollerConfig()).Await(context.Background(), testSignature(1), "test")

	assert.Equal(t, StateConfirmed, res.State)
	assert.Equal(t, 4, res.Ticks)
	assert.Equal(t, 3*time.Second, res.Elapsed)
	assert.True(t, res.State.Succeeded())
}

func TestPoller_Finalized(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	f := &scriptedFetcher{clock: clock, steps: []fetchStep{status(CommitmentFinalized)}}

	res := newFakePoller(f, DefaultPollerConfig()).Await(context.Background(), testSignature(1), "test")
	assert.Equal(t, StateFinalized, res.State)
	assert.Equal(t, 1, res.Ticks)
}

func TestPoller_FinalizedTargetWaitsPastConfirmed(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	f := &scriptedFetcher{clock: clock, steps: []fetchStep{
		status(CommitmentConfirmed),
		status(CommitmentConfirmed),
		status(CommitmentFinalized),
	}}
	cfg := DefaultPollerConfig()
	cfg.Target = CommitmentFinalized

	res := newFakePoller(f, cfg).Await(context.Background(), testSignature(1), "test")
	assert.Equal(t, StateFinalized, res.State)
	assert.Equal(t, 3, res.Ticks)
}

func TestPoller_TransientErrorsStayPending(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	rpcDown := errors.New("connection reset")
	f := &scriptedFetcher{clock: clock, steps: []fetchStep{
		{err: rpcDown},
		{err: rpcDown},
		status(CommitmentConfirmed),
	}}

	res := newFakePoller(f, DefaultPollerConfig()).Await(context.Background(), testSignature(1), "test")
	assert.Equal(t, StateConfirmed, res.State)
	assert.Equal(t, 3, res.Ticks)
	assert.ErrorIs(t, res.LastErr, rpcDown)
}

func TestPoller_TimesOutWithinOneInterval(t *testing.T) {
	// WHAT IS BEING TESTED:
	// A signature that never resolves, with slow RPC calls.
	//
	// EXPECTED BEHAVIOR:
	// TimedOut after about the timeout, never beyond timeout + interval.
	tests := []struct {
		name     string
		timeout  time.Duration
		interval time.Duration
		callCost time.Duration
	}{
		{"instant rpc", 60 * time.Second, time.Second, 0},
		{"slow rpc", 60 * time.Second, time.Second, 700 * time.Millisecond},
		{"odd interval", 61 * time.Second, 800 * time.Millisecond, 300 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{now: time.Unix(0, 0)}
			f := &scriptedFetcher{clock: clock, callCost: tt.callCost}
			cfg := PollerConfig{Interval: tt.interval, Timeout: tt.timeout}

			res := newFakePoller(f, cfg).Await(context.Background(), testSignature(1), "test")

			assert.Equal(t, StateTimedOut, res.State)
			assert.GreaterOrEqual(t, res.Elapsed, tt.timeout-tt.interval)
			assert.LessOrEqual(t, res.Elapsed, tt.timeout+tt.interval)
			assert.Nil(t, res.Status)
			assert.Greater(t, res.Ticks, 1)
		})
	}
}

func TestPoller_WithTimeoutCapsFastResponse(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	f := &scriptedFetcher{clock: clock, steps: []fetchStep{status(CommitmentProcessed)}}
	p := newFakePoller(f, DefaultPollerConfig())

	res := p.WithTimeout(25*time.Second).Await(context.Background(), testSignature(1), "test")

	assert.Equal(t, StateTimedOut, res.State)
	assert.LessOrEqual(t, res.Elapsed, 26*time.Second)
	require.NotNil(t, res.Status)
	assert.Equal(t, CommitmentProcessed, res.Status.ConfirmationStatus)
	assert.Equal(t, 90*time.Second, p.Config().Timeout, "original poller unchanged")
}

func TestPoller_CallerCancellation(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	f := &scriptedFetcher{clock: clock}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newFakePoller(f, DefaultPollerConfig()).Await(ctx, testSignature(1), "test")
	assert.Equal(t, StateTimedOut, res.State)
	assert.ErrorIs(t, res.LastErr, context.Canceled)
}

func TestPoller_RealSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := sleepContext(ctx, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCommitmentAtLeast(t *testing.T) {
	assert.True(t, CommitmentFinalized.AtLeast(CommitmentConfirmed))
	assert.True(t, CommitmentConfirmed.AtLeast(CommitmentConfirmed))
	assert.False(t, CommitmentProcessed.AtLeast(CommitmentConfirmed))
	assert.False(t, CommitmentNone.AtLeast(CommitmentNone))
}
