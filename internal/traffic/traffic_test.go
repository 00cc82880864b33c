package traffic

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTracker_ErrorRate(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tr := NewTracker(clock.Now)

	tr.RecordSuccess()
	tr.RecordSuccess()
	tr.RecordError()

	errs, total := tr.ErrorRate(time.Minute)
	if errs != 1 || total != 3 {
		t.Errorf("ErrorRate() = %d/%d, want 1/3", errs, total)
	}
}

func TestTracker_WindowExcludesOldOutcomes(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tr := NewTracker(clock.Now)

	tr.RecordError()
	clock.Advance(90 * time.Second)
	tr.RecordSuccess()

	if errs, total := tr.ErrorRate(time.Minute); errs != 0 || total != 1 {
		t.Errorf("ErrorRate(1m) = %d/%d, want 0/1", errs, total)
	}
	if errs, total := tr.ErrorRate(2 * time.Minute); errs != 1 || total != 2 {
		t.Errorf("ErrorRate(2m) = %d/%d, want 1/2", errs, total)
	}
}

func TestTracker_PrunesBeyondMaxAge(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tr := NewTracker(clock.Now)

	for i := 0; i < 10; i++ {
		tr.RecordError()
	}
	clock.Advance(maxAge + time.Second)
	tr.RecordSuccess()

	tr.mu.Lock()
	n := len(tr.errors)
	tr.mu.Unlock()
	if n != 0 {
		t.Errorf("retained errors = %d, want 0", n)
	}
}

func TestTracker_Reset(t *testing.T) {
	tr := NewTracker(nil)
	tr.RecordError()
	tr.Reset()
	if errs, total := tr.ErrorRate(time.Hour); errs != 0 || total != 0 {
		t.Errorf("ErrorRate() after Reset = %d/%d, want 0/0", errs, total)
	}
}

func TestDefaultTracker(t *testing.T) {
	Reset()
	defer Reset()

	RecordSuccess()
	RecordError()
	if errs, total := ErrorRate(time.Minute); errs != 1 || total != 2 {
		t.Errorf("ErrorRate() = %d/%d, want 1/2", errs, total)
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tr := NewTracker(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				tr.RecordSuccess()
			} else {
				tr.RecordError()
			}
		}(i)
	}
	wg.Wait()
	if errs, total := tr.ErrorRate(time.Minute); errs != 10 || total != 20 {
		t.Errorf("ErrorRate() = %d/%d, want 10/20", errs, total)
	}
}
