package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentlens/agentlens/internal/auth"
)

func newLogsBackend(t *testing.T, status int, body string, capture *http.Request) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			*capture = *r.Clone(context.Background())
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func newFetchClient(backendURL string) *HTTPFetchClient {
	return NewHTTPFetchClient(HTTPClientOptions{
		Backends:       map[string]string{"datadog": backendURL},
		DefaultBackend: "datadog",
		Tokens:         auth.NewStaticSupplier("tok-123"),
	})
}

func TestFetchLogs(t *testing.T) {
	t.Parallel()

	var captured http.Request
	server := newLogsBackend(t, http.StatusOK, `{
		"logs": [
			{"span_id": "s1", "timestamp": "2026-03-01T12:00:00Z", "severity": "INFO", "body": "started"},
			{"span_id": "s2", "timestamp": "2026-03-01T12:00:01Z", "severity": "ERROR", "body": "boom"}
		],
		"has_more": true,
		"next_page_token": "cursor-1"
	}`, &captured)

	client := newFetchClient(server.URL)
	start := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	page, err := client.FetchLogs(context.Background(), FetchRequest{
		TraceID:    "trace-1",
		Window:     TraceWindow{Start: start, End: end},
		Region:     "us5",
		SearchTerm: "error",
		PageToken:  "prev",
		Limit:      50,
	})
	if err != nil {
		t.Fatalf("FetchLogs() error = %v", err)
	}

	if len(page.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(page.Entries))
	}
	if page.Entries[1].Severity != "ERROR" || page.Entries[1].Body != "boom" {
		t.Errorf("second entry = %+v", page.Entries[1])
	}
	if !page.HasMore || page.NextPageToken != "cursor-1" {
		t.Errorf("pagination = HasMore %v token %q, want true/cursor-1", page.HasMore, page.NextPageToken)
	}

	if captured.URL.Path != "/api/v1/logs" {
		t.Errorf("path = %q, want /api/v1/logs", captured.URL.Path)
	}
	query := captured.URL.Query()
	wantQuery := map[string]string{
		"trace_id":   "trace-1",
		"start_time": "2026-03-01T11:00:00Z",
		"end_time":   "2026-03-01T13:00:00Z",
		"region":     "us5",
		"search":     "error",
		"page_token": "prev",
		"limit":      "50",
	}
	for key, want := range wantQuery {
		if got := query.Get(key); got != want {
			t.Errorf("query %s = %q, want %q", key, got, want)
		}
	}
	if got := captured.Header.Get("Authorization"); got != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want Bearer tok-123", got)
	}
}

func TestFetchLogsUnboundedWindowOmitsBounds(t *testing.T) {
	t.Parallel()

	var captured http.Request
	server := newLogsBackend(t, http.StatusOK, `{"logs": []}`, &captured)
	client := newFetchClient(server.URL)

	if _, err := client.FetchLogs(context.Background(), FetchRequest{TraceID: "trace-1"}); err != nil {
		t.Fatalf("FetchLogs() error = %v", err)
	}

	query := captured.URL.Query()
	if query.Has("start_time") || query.Has("end_time") {
		t.Errorf("query = %v, want no time bounds for an unbounded window", query)
	}
}

func TestFetchLogsValidatesBeforeIO(t *testing.T) {
	t.Parallel()

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	t.Cleanup(server.Close)
	client := newFetchClient(server.URL)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := client.FetchLogs(context.Background(), FetchRequest{TraceID: "  "}); !errors.Is(err, ErrEmptyTraceID) {
		t.Errorf("empty trace id error = %v, want ErrEmptyTraceID", err)
	}
	if _, err := client.FetchLogs(context.Background(), FetchRequest{
		TraceID: "t1",
		Window:  TraceWindow{Start: base.Add(time.Hour), End: base},
	}); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("inverted window error = %v, want ErrInvalidWindow", err)
	}
	if calls != 0 {
		t.Errorf("backend was called %d times before validation, want 0", calls)
	}
}

func TestFetchLogsMissingTokenFailsFast(t *testing.T) {
	t.Parallel()

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	t.Cleanup(server.Close)

	client := NewHTTPFetchClient(HTTPClientOptions{
		Backends:       map[string]string{"datadog": server.URL},
		DefaultBackend: "datadog",
		Tokens:         auth.NewStaticSupplier(""),
	})

	_, err := client.FetchLogs(context.Background(), FetchRequest{TraceID: "t1"})
	if !errors.Is(err, auth.ErrNoToken) {
		t.Fatalf("FetchLogs() error = %v, want ErrNoToken", err)
	}
	if calls != 0 {
		t.Errorf("backend was called %d times with no token, want 0", calls)
	}
}

func TestFetchLogsBackendRejection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantAuth   bool
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":"bad token"}`, wantStatus: 401, wantAuth: true},
		{name: "forbidden", status: http.StatusForbidden, body: `{"error":"no access"}`, wantStatus: 403, wantAuth: true},
		{name: "server error", status: http.StatusBadGateway, body: "upstream broke", wantStatus: 502},
		{name: "not found", status: http.StatusNotFound, body: "missing", wantStatus: 404},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := newLogsBackend(t, tt.status, tt.body, nil)
			client := newFetchClient(server.URL)

			_, err := client.FetchLogs(context.Background(), FetchRequest{TraceID: "t1"})
			var providerErr *ProviderError
			if !errors.As(err, &providerErr) {
				t.Fatalf("FetchLogs() error = %v, want *ProviderError", err)
			}
			if providerErr.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", providerErr.Status, tt.wantStatus)
			}
			if tt.wantAuth && !errors.Is(err, auth.ErrNoToken) {
				t.Errorf("auth rejection error = %v, want it to wrap ErrNoToken", err)
			}
		})
	}
}

func TestFetchLogsMalformedResponse(t *testing.T) {
	t.Parallel()

	server := newLogsBackend(t, http.StatusOK, "not json", nil)
	client := newFetchClient(server.URL)

	_, err := client.FetchLogs(context.Background(), FetchRequest{TraceID: "t1"})
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("FetchLogs() error = %v, want *ProviderError", err)
	}
}

func TestFetchLogsBackendSelection(t *testing.T) {
	t.Parallel()

	server := newLogsBackend(t, http.StatusOK, `{"logs": []}`, nil)

	t.Run("unknown provider", func(t *testing.T) {
		t.Parallel()

		client := newFetchClient(server.URL)
		_, err := client.FetchLogs(context.Background(), FetchRequest{TraceID: "t1", Provider: "grafana"})
		if !errors.Is(err, ErrNoBackend) {
			t.Errorf("FetchLogs() error = %v, want ErrNoBackend", err)
		}
	})

	t.Run("single backend needs no name", func(t *testing.T) {
		t.Parallel()

		client := NewHTTPFetchClient(HTTPClientOptions{
			Backends: map[string]string{"only": server.URL},
			Tokens:   auth.NewStaticSupplier("tok"),
		})
		if _, err := client.FetchLogs(context.Background(), FetchRequest{TraceID: "t1"}); err != nil {
			t.Errorf("FetchLogs() error = %v", err)
		}
	})

	t.Run("no backends at all", func(t *testing.T) {
		t.Parallel()

		client := NewHTTPFetchClient(HTTPClientOptions{
			Tokens: auth.NewStaticSupplier("tok"),
		})
		_, err := client.FetchLogs(context.Background(), FetchRequest{TraceID: "t1"})
		if !errors.Is(err, ErrNoBackend) {
			t.Errorf("FetchLogs() error = %v, want ErrNoBackend", err)
		}
	})
}
