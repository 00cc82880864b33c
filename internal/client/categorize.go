package client

import (
	"context"
	"errors"
	"strings"

	"github.com/kjstillabower/weather-proxy/internal/circuitbreaker"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as metric labels (upstreamErrorsTotal).
const (
	ErrorCategoryTimeout       ErrorCategory = "timeout"
	ErrorCategoryNetwork       ErrorCategory = "network"
	ErrorCategoryAPIKeyMissing ErrorCategory = "api_key_missing"
	ErrorCategoryCircuitOpen   ErrorCategory = "circuit_open"
	ErrorCategoryRateLimited   ErrorCategory = "rate_limited"
	ErrorCategoryUpstream4xx   ErrorCategory = "upstream_4xx"
	ErrorCategoryUpstream5xx   ErrorCategory = "upstream_5xx"
	ErrorCategoryParsing       ErrorCategory = "parsing"
	ErrorCategoryUnknown       ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, ErrAPIKeyMissing) {
		return ErrorCategoryAPIKeyMissing
	}

	if errors.Is(err, circuitbreaker.ErrOpen) {
		return ErrorCategoryCircuitOpen
	}

	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		switch {
		case upErr.StatusCode == 429:
			return ErrorCategoryRateLimited
		case upErr.StatusCode >= 500:
			return ErrorCategoryUpstream5xx
		default:
			return ErrorCategoryUpstream4xx
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryTimeout
	}

	if errors.Is(err, ErrInvalidResponse) {
		return ErrorCategoryParsing
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "timeout") {
		return ErrorCategoryTimeout
	}

	if strings.Contains(errStr, "network") || strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "no such host") {
		return ErrorCategoryNetwork
	}

	if strings.Contains(errStr, "parse") || strings.Contains(errStr, "unmarshal") ||
		strings.Contains(errStr, "unexpected upstream response") {
		return ErrorCategoryParsing
	}

	return ErrorCategoryUnknown
}
