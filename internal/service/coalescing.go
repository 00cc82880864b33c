package service

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// defaultCoalesceTimeout bounds a follower's wait when none is configured.
const defaultCoalesceTimeout = 15 * time.Second

// requestCoalescer prevents cache stampede by coalescing concurrent requests for the same key.
type requestCoalescer struct {
	group   singleflight.Group
	timeout time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	if timeout <= 0 {
		timeout = defaultCoalesceTimeout
	}
	return &requestCoalescer{timeout: timeout}
}

// Do runs fn once per key among concurrent callers. The shared call is
// detached from any single caller's cancellation; each caller still stops
// waiting when its own ctx ends or the coalesce timeout elapses.
// joined is true when this caller received another caller's in-flight result
// instead of running fn itself.
func (rc *requestCoalescer) Do(ctx context.Context, key string, fn func(context.Context) (json.RawMessage, error)) (result json.RawMessage, joined bool, err error) {
	detached := context.WithoutCancel(ctx)
	var led atomic.Bool
	ch := rc.group.DoChan(key, func() (interface{}, error) {
		led.Store(true)
		callCtx, cancel := context.WithTimeout(detached, rc.timeout)
		defer cancel()
		return fn(callCtx)
	})

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case res := <-ch:
		joined = res.Shared && !led.Load()
		if res.Err != nil {
			return nil, joined, res.Err
		}
		return res.Val.(json.RawMessage), joined, nil
	case <-waitCtx.Done():
		return nil, false, waitCtx.Err()
	}
}
