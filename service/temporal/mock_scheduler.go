package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	interval  time.Duration
	input     ResumePendingInput
	exists    bool
	upsertErr error
	deleteErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{}
}

// UpsertResumeSchedule creates or updates the resume schedule.
func (m *MockScheduler) UpsertResumeSchedule(ctx context.Context, interval time.Duration, input ResumePendingInput) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval, m.input, m.exists = interval, input, true
	return nil
}

// DeleteResumeSchedule records that the schedule was deleted.
func (m *MockScheduler) DeleteResumeSchedule(ctx context.Context) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		return fmt.Errorf("schedule %q not found", ResumeScheduleID)
	}
	m.exists = false
	return nil
}

// SetUpsertError makes UpsertResumeSchedule return an error.
func (m *MockScheduler) SetUpsertError(err error) {
	m.upsertErr = err
}

// SetDeleteError makes DeleteResumeSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.deleteErr = err
}

// Schedule returns the current interval and input, if the schedule exists.
func (m *MockScheduler) Schedule() (time.Duration, ResumePendingInput, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval, m.input, m.exists
}

// MockStarter is a mock WorkflowStarter that records started confirmations.
type MockStarter struct {
	mu       sync.Mutex
	started  map[string]string // workflow ID -> signature
	startErr error
}

// NewMockStarter creates a new MockStarter.
func NewMockStarter() *MockStarter {
	return &MockStarter{started: make(map[string]string)}
}

// StartConfirmPayment records the workflow. Starting an already recorded
// payment again is not an error, matching Temporal's behavior for an open run.
func (m *MockStarter) StartConfirmPayment(ctx context.Context, paymentID uuid.UUID, signature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	id := ConfirmWorkflowID(paymentID)
	if _, ok := m.started[id]; !ok {
		m.started[id] = signature
	}
	return nil
}

// SetStartError makes StartConfirmPayment return an error.
func (m *MockStarter) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// Started returns the signature of the workflow started for paymentID.
func (m *MockStarter) Started(paymentID uuid.UUID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sig, ok := m.started[ConfirmWorkflowID(paymentID)]
	return sig, ok
}

// StartedCount returns the number of distinct workflows started.
func (m *MockStarter) StartedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.started)
}

// Reset clears all started workflows and errors.
func (m *MockStarter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = make(map[string]string)
	m.startErr = nil
}
