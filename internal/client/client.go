package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kjstillabower/weather-proxy/internal/circuitbreaker"
	"github.com/kjstillabower/weather-proxy/internal/observability"
)

// DefaultBaseURL is the OpenWeatherMap 2.5 API root.
const DefaultBaseURL = "https://api.openweathermap.org/data/2.5"

// DefaultTimeout bounds a single upstream call.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of a non-2xx body is kept for relaying.
const maxErrorBody = 64 << 10

// WeatherClient fetches raw upstream documents.
type WeatherClient interface {
	Fetch(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error)
}

var (
	// ErrAPIKeyMissing means no upstream credential was configured.
	ErrAPIKeyMissing = errors.New("API Key not configured")
	// ErrInvalidResponse wraps a 2xx body that is not JSON.
	ErrInvalidResponse = errors.New("invalid upstream response")
)

// UpstreamError is a non-2xx upstream reply. It is relayed to the caller with
// the same status code.
type UpstreamError struct {
	StatusCode int
	Message    string
	Details    json.RawMessage
}

func (e *UpstreamError) Error() string {
	return e.Message
}

// OpenWeatherClient is a single-shot HTTP client for the OpenWeatherMap API.
type OpenWeatherClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewOpenWeatherClient builds a client. An empty apiKey is accepted; Fetch
// then fails with ErrAPIKeyMissing without touching the network.
func NewOpenWeatherClient(apiKey, baseURL string, timeout time.Duration) *OpenWeatherClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &OpenWeatherClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetCircuitBreaker routes every upstream call through cb. Nil disables it.
func (c *OpenWeatherClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// Configured reports whether an API key is present.
func (c *OpenWeatherClient) Configured() bool {
	return c.apiKey != ""
}

// Fetch GETs <base>/<endpoint> with params plus appid and units=metric.
// A 2xx body is returned verbatim; anything else is an error.
func (c *OpenWeatherClient) Fetch(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	if c.apiKey == "" {
		return nil, ErrAPIKeyMissing
	}

	ctx, span := otel.Tracer("weather-proxy/client").Start(ctx, "upstream.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("upstream.endpoint", endpoint))

	var body json.RawMessage
	call := func() error {
		var err error
		body, err = c.do(ctx, endpoint, params)
		return err
	}

	var err error
	if c.breaker != nil {
		span.SetAttributes(attribute.String("circuit_breaker.component", c.breaker.Component()))
		err = c.breaker.Call(call)
	} else {
		err = call()
	}

	if err != nil {
		observability.UpstreamErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var upErr *UpstreamError
		if errors.As(err, &upErr) {
			span.SetAttributes(attribute.Int("http.response.status_code", upErr.StatusCode))
		}
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", http.StatusOK))
	return body, nil
}

func (c *OpenWeatherClient) do(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	start := time.Now()

	req, err := c.buildRequest(ctx, endpoint, params)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observeCall(endpoint, "error", start)
		// url.Error embeds the full URL, including appid.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
			(errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	observeCall(endpoint, statusLabel(resp.StatusCode), start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, newUpstreamError(resp.StatusCode, c.redactedURL(endpoint), raw)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: body is not JSON", ErrInvalidResponse)
	}
	return json.RawMessage(raw), nil
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + "/" + strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	q := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

func (c *OpenWeatherClient) redactedURL(endpoint string) string {
	return c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
}

func newUpstreamError(status int, target string, body []byte) *UpstreamError {
	kind := "Client Error"
	if status >= 500 {
		kind = "Server Error"
	}
	return &UpstreamError{
		StatusCode: status,
		Message:    fmt.Sprintf("%d %s: %s for url: %s", status, kind, http.StatusText(status), target),
		Details:    errorDetails(body),
	}
}

// errorDetails relays JSON bodies as-is, empty bodies as {} and anything
// else as a JSON string.
func errorDetails(body []byte) json.RawMessage {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(trimmed)
	return quoted
}

func observeCall(endpoint, status string, start time.Time) {
	observability.UpstreamCallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.UpstreamDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// CountsAsFailure reports whether err should trip the circuit breaker.
// Upstream 4xx replies are the caller's problem, not upstream health.
func CountsAsFailure(err error) bool {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.StatusCode >= 500
	}
	return err != nil
}

// ErrorBody is the JSON error document returned to HTTP callers.
type ErrorBody struct {
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details,omitempty"`
}

// ErrorResponse maps any fetch or normalize error to a status and body.
func ErrorResponse(err error) (int, ErrorBody) {
	if errors.Is(err, ErrAPIKeyMissing) {
		return http.StatusInternalServerError, ErrorBody{Error: ErrAPIKeyMissing.Error()}
	}

	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		details := upErr.Details
		if len(details) == 0 {
			details = json.RawMessage(`{}`)
		}
		return upErr.StatusCode, ErrorBody{Error: upErr.Message, Details: details}
	}

	msg, _ := json.Marshal(err.Error())
	return http.StatusInternalServerError, ErrorBody{Error: "Internal Server Error", Details: msg}
}
