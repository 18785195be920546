package thi

import (
	"fmt"
	"sync"
	"time"
)

type Outcome string

const (
	OutcomeCreated Outcome = "Created"
	OutcomeUpdated Outcome = "Updated"
	OutcomeSkipped Outcome = "Skipped"
	OutcomeFailed  Outcome = "Failed"
)

// RunTracker keeps per-run bookkeeping: what happened to each pharmacy and
// which ones failed, for the summary log and the error notification.
type RunTracker struct {
	outcomes map[string]Outcome
	order    []string
	failures []string
	started  time.Time
	mutex    *sync.Mutex
}

func NewRunTracker() *RunTracker {
	tracker := new(RunTracker)
	tracker.outcomes = make(map[string]Outcome)
	tracker.order = make([]string, 0)
	tracker.failures = make([]string, 0)
	tracker.started = time.Now()
	tracker.mutex = &sync.Mutex{}

	return tracker
}

func (t *RunTracker) Record(externalID string, outcome Outcome) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, exists := t.outcomes[externalID]; !exists {
		t.order = append(t.order, externalID)
	}

	t.outcomes[externalID] = outcome
}

func (t *RunTracker) Fail(externalID string, operation string, err error) {
	t.mutex.Lock()

	if _, exists := t.outcomes[externalID]; !exists {
		t.order = append(t.order, externalID)
	}

	t.outcomes[externalID] = OutcomeFailed
	t.failures = append(t.failures, fmt.Sprintf("%s: %s: %v", externalID, operation, err))

	t.mutex.Unlock()
}

func (t *RunTracker) Count(outcome Outcome) int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	count := 0
	for _, v := range t.outcomes {
		if v == outcome {
			count++
		}
	}

	return count
}

func (t *RunTracker) Failures() []string {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	failures := make([]string, len(t.failures))
	copy(failures, t.failures)

	return failures
}

func (t *RunTracker) Summary() string {
	t.mutex.Lock()
	total := len(t.order)
	t.mutex.Unlock()

	return fmt.Sprintf("%d pharmacies in %v: %d created, %d updated, %d skipped, %d failed",
		total, time.Since(t.started).Round(time.Millisecond),
		t.Count(OutcomeCreated), t.Count(OutcomeUpdated), t.Count(OutcomeSkipped), t.Count(OutcomeFailed))
}
