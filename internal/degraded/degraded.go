package degraded

import (
	"net/http"
	"time"

	"github.com/kjstillabower/weather-proxy/internal/traffic"
)

// RecordOutcome classifies a weather response by status code. Only 5xx
// responses count as errors; 4xx are caller mistakes or unknown cities.
func RecordOutcome(status int) {
	if status >= http.StatusInternalServerError {
		traffic.RecordError()
		return
	}
	traffic.RecordSuccess()
}

// ErrorRate returns (errorCount, totalCount) within the window. totalCount = successes + errors.
func ErrorRate(window time.Duration) (errors, total int) {
	return traffic.ErrorRate(window)
}

// Reset clears all recorded data. For tests only.
func Reset() {
	traffic.Reset()
}

// Policy decides when the 5xx rate makes the service degraded.
type Policy struct {
	Window   time.Duration
	ErrorPct int
}

// Breached reports whether errors within p.Window reach p.ErrorPct percent
// of all outcomes. A zero policy never breaches.
func (p Policy) Breached() bool {
	if p.Window <= 0 || p.ErrorPct <= 0 {
		return false
	}
	errors, total := ErrorRate(p.Window)
	if total == 0 {
		return false
	}
	return errors*100 >= p.ErrorPct*total
}
