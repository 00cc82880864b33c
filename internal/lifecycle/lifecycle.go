package lifecycle

import (
	"sync/atomic"
	"time"
)

var (
	shuttingDown atomic.Bool
	startedAt    atomic.Int64 // unix nanos; zero until MarkStarted
)

// MarkStarted records the moment the server began accepting traffic.
func MarkStarted(t time.Time) {
	startedAt.Store(t.UnixNano())
}

// Uptime returns the time since MarkStarted, or zero if it was never called.
func Uptime() time.Duration {
	ns := startedAt.Load()
	if ns == 0 {
		return 0
	}
	return time.Since(time.Unix(0, ns))
}

// SetShuttingDown sets the drain flag. Call when SIGTERM/SIGINT is received;
// /health answers 503 shutting-down while it is set.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown reports whether the process is draining.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}
