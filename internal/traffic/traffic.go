package traffic

import (
	"sync"
	"time"
)

// maxAge bounds how long outcomes are retained regardless of query window.
const maxAge = 5 * time.Minute

var defaultTracker = NewTracker(time.Now)

// RecordSuccess records a request the proxy answered without a 5xx.
func RecordSuccess() {
	defaultTracker.RecordSuccess()
}

// RecordError records a request that ended in a 5xx (upstream failure, shape error, etc.).
func RecordError() {
	defaultTracker.RecordError()
}

// ErrorRate returns (errorCount, totalCount) within the window.
func ErrorRate(window time.Duration) (errors, total int) {
	return defaultTracker.ErrorRate(window)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker keeps a sliding window of request outcomes for health evaluation.
type Tracker struct {
	mu        sync.Mutex
	now       func() time.Time
	successes []time.Time
	errors    []time.Time
}

// NewTracker returns a Tracker that reads time from now.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// RecordSuccess records a successful outcome.
func (t *Tracker) RecordSuccess() {
	t.record(&t.successes)
}

// RecordError records a failed outcome.
func (t *Tracker) RecordError() {
	t.record(&t.errors)
}

func (t *Tracker) record(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// ErrorRate returns (errorCount, totalCount) within the window.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	errCount := countSince(t.errors, cutoff)
	return errCount, errCount + countSince(t.successes, cutoff)
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successes = nil
	t.errors = nil
}

// countSince counts timestamps not before cutoff. Timestamps are appended in order.
func countSince(times []time.Time, cutoff time.Time) int {
	for i, ts := range times {
		if !ts.Before(cutoff) {
			return len(times) - i
		}
	}
	return 0
}

// pruneLocked drops outcomes older than maxAge. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-maxAge)
	for _, slice := range []*[]time.Time{&t.successes, &t.errors} {
		times := *slice
		i := 0
		for i < len(times) && times[i].Before(cutoff) {
			i++
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
}
