package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/weather-proxy/internal/circuitbreaker"
)

func TestNewOpenWeatherClient_Defaults(t *testing.T) {
	c := NewOpenWeatherClient("", "", 0)
	if c.baseURL != DefaultBaseURL {
		t.Errorf("baseURL = %q, want %q", c.baseURL, DefaultBaseURL)
	}
	if c.client.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", c.client.Timeout, DefaultTimeout)
	}
	if c.Configured() {
		t.Error("Configured() = true, want false for empty key")
	}
}

func TestOpenWeatherClient_Fetch_MissingAPIKey(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	c := NewOpenWeatherClient("", server.URL, time.Second)
	_, err := c.Fetch(context.Background(), "weather", url.Values{"q": {"London"}})
	if !errors.Is(err, ErrAPIKeyMissing) {
		t.Fatalf("Fetch() error = %v, want ErrAPIKeyMissing", err)
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("upstream calls = %d, want 0", n)
	}
}

func TestOpenWeatherClient_Fetch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/weather" {
			t.Errorf("path = %q, want /weather", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("q") != "London" {
			t.Errorf("q = %q, want London", q.Get("q"))
		}
		if q.Get("appid") != "test-key" {
			t.Errorf("appid = %q, want test-key", q.Get("appid"))
		}
		if q.Get("units") != "metric" {
			t.Errorf("units = %q, want metric", q.Get("units"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"London","cod":200}`))
	}))
	defer server.Close()

	c := NewOpenWeatherClient("test-key", server.URL, 2*time.Second)
	got, err := c.Fetch(context.Background(), "weather", url.Values{"q": {"London"}})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(got) != `{"name":"London","cod":200}` {
		t.Errorf("Fetch() = %s, want upstream body verbatim", got)
	}
}

func TestOpenWeatherClient_Fetch_CallerParamsCannotOverrideKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query()["appid"]; len(got) != 1 || got[0] != "real-key" {
			t.Errorf("appid = %v, want [real-key]", got)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := NewOpenWeatherClient("real-key", server.URL+"/", time.Second)
	if _, err := c.Fetch(context.Background(), "forecast", url.Values{"appid": {"evil"}}); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
}

func TestOpenWeatherClient_Fetch_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		wantDetails string
	}{
		{
			name:        "404 with JSON body",
			status:      http.StatusNotFound,
			body:        `{"cod":"404","message":"city not found"}`,
			wantMessage: "404 Client Error: Not Found for url: ",
			wantDetails: `{"cod":"404","message":"city not found"}`,
		},
		{
			name:        "401 invalid key",
			status:      http.StatusUnauthorized,
			body:        `{"cod":401,"message":"Invalid API key."}`,
			wantMessage: "401 Client Error: Unauthorized for url: ",
			wantDetails: `{"cod":401,"message":"Invalid API key."}`,
		},
		{
			name:        "502 empty body",
			status:      http.StatusBadGateway,
			body:        "",
			wantMessage: "502 Server Error: Bad Gateway for url: ",
			wantDetails: `{}`,
		},
		{
			name:        "503 plain text body",
			status:      http.StatusServiceUnavailable,
			body:        "upstream down",
			wantMessage: "503 Server Error: Service Unavailable for url: ",
			wantDetails: `"upstream down"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewOpenWeatherClient("secret-key", server.URL, 2*time.Second)
			_, err := c.Fetch(context.Background(), "weather", url.Values{"q": {"Atlantis"}})

			var upErr *UpstreamError
			if !errors.As(err, &upErr) {
				t.Fatalf("Fetch() error = %v, want *UpstreamError", err)
			}
			if upErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", upErr.StatusCode, tt.status)
			}
			wantMsg := tt.wantMessage + server.URL + "/weather"
			if upErr.Message != wantMsg {
				t.Errorf("Message = %q, want %q", upErr.Message, wantMsg)
			}
			if strings.Contains(upErr.Message, "secret-key") {
				t.Error("Message leaks API key")
			}
			if string(upErr.Details) != tt.wantDetails {
				t.Errorf("Details = %s, want %s", upErr.Details, tt.wantDetails)
			}
		})
	}
}

func TestOpenWeatherClient_Fetch_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	defer server.Close()

	c := NewOpenWeatherClient("key", server.URL, time.Second)
	_, err := c.Fetch(context.Background(), "weather", nil)
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("Fetch() error = %v, want ErrInvalidResponse", err)
	}
}

func TestOpenWeatherClient_Fetch_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := NewOpenWeatherClient("secret-key", server.URL, 20*time.Millisecond)
	_, err := c.Fetch(context.Background(), "weather", nil)
	if err == nil {
		t.Fatal("Fetch() error = nil, want timeout")
	}
	if got := CategorizeError(err); got != ErrorCategoryTimeout {
		t.Errorf("CategorizeError() = %v, want timeout", got)
	}
	if strings.Contains(err.Error(), "secret-key") {
		t.Errorf("error leaks API key: %v", err)
	}
}

func TestOpenWeatherClient_Fetch_NoRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewOpenWeatherClient("key", server.URL, time.Second)
	_, _ = c.Fetch(context.Background(), "weather", nil)
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
}

func TestOpenWeatherClient_Fetch_CircuitBreaker(t *testing.T) {
	var calls int32
	status := int32(http.StatusNotFound)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(int(atomic.LoadInt32(&status)))
	}))
	defer server.Close()

	c := NewOpenWeatherClient("key", server.URL, time.Second)
	c.SetCircuitBreaker(circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 2,
		Timeout:          time.Minute,
		Component:        "weather_api",
		IsFailure:        CountsAsFailure,
	}))

	// 4xx must not open the circuit.
	for i := 0; i < 3; i++ {
		_, _ = c.Fetch(context.Background(), "weather", nil)
	}

	atomic.StoreInt32(&status, http.StatusInternalServerError)
	for i := 0; i < 2; i++ {
		_, _ = c.Fetch(context.Background(), "weather", nil)
	}
	if n := atomic.LoadInt32(&calls); n != 5 {
		t.Fatalf("upstream calls = %d, want 5", n)
	}

	_, err := c.Fetch(context.Background(), "weather", nil)
	if !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Fatalf("Fetch() error = %v, want circuitbreaker.ErrOpen", err)
	}
	if n := atomic.LoadInt32(&calls); n != 5 {
		t.Errorf("upstream calls = %d, want 5 (open circuit short-circuits)", n)
	}
	if status, _ := ErrorResponse(err); status != http.StatusInternalServerError {
		t.Errorf("ErrorResponse status = %d, want 500", status)
	}
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantError   string
		wantDetails string
	}{
		{
			name:       "api key missing",
			err:        ErrAPIKeyMissing,
			wantStatus: http.StatusInternalServerError,
			wantError:  "API Key not configured",
		},
		{
			name: "upstream error relayed",
			err: &UpstreamError{
				StatusCode: 404,
				Message:    "404 Client Error: Not Found for url: http://x/weather",
				Details:    json.RawMessage(`{"cod":"404"}`),
			},
			wantStatus:  404,
			wantError:   "404 Client Error: Not Found for url: http://x/weather",
			wantDetails: `{"cod":"404"}`,
		},
		{
			name:        "upstream error without details",
			err:         &UpstreamError{StatusCode: 500, Message: "500 Server Error"},
			wantStatus:  500,
			wantError:   "500 Server Error",
			wantDetails: `{}`,
		},
		{
			name:        "transport error",
			err:         errors.New("http request failed: dial tcp: connection refused"),
			wantStatus:  http.StatusInternalServerError,
			wantError:   "Internal Server Error",
			wantDetails: `"http request failed: dial tcp: connection refused"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ErrorResponse(tt.err)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if body.Error != tt.wantError {
				t.Errorf("Error = %q, want %q", body.Error, tt.wantError)
			}
			if string(body.Details) != tt.wantDetails {
				t.Errorf("Details = %s, want %s", body.Details, tt.wantDetails)
			}
		})
	}
}

func TestErrorBody_OmitsEmptyDetails(t *testing.T) {
	_, body := ErrorResponse(ErrAPIKeyMissing)
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(b) != `{"error":"API Key not configured"}` {
		t.Errorf("Marshal() = %s", b)
	}
}
