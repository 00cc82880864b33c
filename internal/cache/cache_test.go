package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// TestInMemoryCache_GetSet verifies that Set stores values and Get returns
// them unchanged.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	val := json.RawMessage(`{"city":"Paris","temp":12.5}`)
	if err := c.Set(ctx, "weather_paris", val, DefaultTTL); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "weather_paris")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if string(got) != string(val) {
		t.Errorf("Get() = %s, want %s", got, val)
	}
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false when
// the requested key does not exist in cache.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	_, ok, err := c.Get(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestInMemoryCache_Expiry verifies the freshness boundary: an entry is valid
// strictly before TTL has elapsed and removed once it has.
func TestInMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewInMemoryCacheWithClock(clock.Now)

	if err := c.Set(ctx, "weather_paris", json.RawMessage(`{}`), DefaultTTL); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	clock.Advance(DefaultTTL - time.Nanosecond)
	if _, ok, _ := c.Get(ctx, "weather_paris"); !ok {
		t.Fatal("Get() just before TTL ok = false, want true")
	}

	clock.Advance(time.Nanosecond)
	_, ok, err := c.Get(ctx, "weather_paris")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() at TTL ok = true, want false")
	}
	if n := c.Len(); n != 0 {
		t.Errorf("Len() after expired lookup = %d, want 0", n)
	}
}

// TestInMemoryCache_ExpiredEntryStaysUntilLookup verifies that expiry is lazy:
// entries are only removed by the lookup that finds them stale.
func TestInMemoryCache_ExpiredEntryStaysUntilLookup(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewInMemoryCacheWithClock(clock.Now)

	_ = c.Set(ctx, "a", json.RawMessage(`1`), DefaultTTL)
	_ = c.Set(ctx, "b", json.RawMessage(`2`), DefaultTTL)
	clock.Advance(10 * time.Minute)

	if n := c.Len(); n != 2 {
		t.Fatalf("Len() = %d, want 2 before lookup", n)
	}
	_, _, _ = c.Get(ctx, "a")
	if n := c.Len(); n != 1 {
		t.Errorf("Len() = %d, want 1 after looking up one stale key", n)
	}
}

// TestInMemoryCache_SetOverwritesAndRestamps verifies that Set replaces the
// value and restarts the TTL.
func TestInMemoryCache_SetOverwritesAndRestamps(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewInMemoryCacheWithClock(clock.Now)

	_ = c.Set(ctx, "k", json.RawMessage(`"old"`), DefaultTTL)
	clock.Advance(4 * time.Minute)
	_ = c.Set(ctx, "k", json.RawMessage(`"new"`), DefaultTTL)
	clock.Advance(4 * time.Minute)

	got, ok, _ := c.Get(ctx, "k")
	if !ok {
		t.Fatal("Get() ok = false, want true after re-Set")
	}
	if string(got) != `"new"` {
		t.Errorf("Get() = %s, want \"new\"", got)
	}
}

// TestInMemoryCache_ConcurrentAccess exercises Get and Set from many
// goroutines; run with -race.
func TestInMemoryCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("weather_city%d", i%5)
			_ = c.Set(ctx, key, json.RawMessage(fmt.Sprintf(`%d`, i)), DefaultTTL)
			_, _, _ = c.Get(ctx, key)
		}(i)
	}
	wg.Wait()

	if n := c.Len(); n != 5 {
		t.Errorf("Len() = %d, want 5", n)
	}
}
