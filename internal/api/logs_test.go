package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/agentlens/agentlens/internal/auth"
	"github.com/agentlens/agentlens/internal/config"
	"github.com/agentlens/agentlens/internal/telemetry"
)

// stubFetchClient scripts per-trace outcomes for handler tests.
type stubFetchClient struct {
	pages map[string]*telemetry.FetchPage
	errs  map[string]error

	mu       sync.Mutex
	requests []telemetry.FetchRequest
}

func (s *stubFetchClient) FetchLogs(_ context.Context, req telemetry.FetchRequest) (*telemetry.FetchPage, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if err, ok := s.errs[req.TraceID]; ok {
		return nil, err
	}
	if page, ok := s.pages[req.TraceID]; ok {
		return page, nil
	}
	return nil, fmt.Errorf("no script for trace %s", req.TraceID)
}

func (s *stubFetchClient) recorded() []telemetry.FetchRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]telemetry.FetchRequest(nil), s.requests...)
}

func newLogsTestHandler(client telemetry.FetchClient) http.Handler {
	resolver := telemetry.NewResolver(config.TelemetryConfig{LogProvider: "datadog"})
	return LogsHandler(telemetry.NewAggregator(resolver, client, nil))
}

func logsGet(t *testing.T, handler http.Handler, query url.Values) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/api/logs/by-time-range?"+query.Encode(), nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

func decodeLogsResponse(t *testing.T, w *httptest.ResponseRecorder) logsQueryResponse {
	t.Helper()
	var parsed logsQueryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode response %s: %v", w.Body.String(), err)
	}
	return parsed
}

func TestLogsHandlerMultiTrace(t *testing.T) {
	t.Parallel()

	client := &stubFetchClient{pages: map[string]*telemetry.FetchPage{
		"t1": {Entries: []telemetry.LogEntry{{SpanID: "s1", Body: "hello"}}},
		"t2": {Entries: []telemetry.LogEntry{{SpanID: "s2", Body: "world"}}},
	}}
	handler := newLogsTestHandler(client)

	w := logsGet(t, handler, url.Values{"trace_ids": {"t1,t2"}})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	parsed := decodeLogsResponse(t, w)
	if len(parsed.Logs) != 2 {
		t.Errorf("logs has %d keys, want 2", len(parsed.Logs))
	}
	if len(parsed.Failed) != 0 {
		t.Errorf("failed = %v, want empty", parsed.Failed)
	}
	// Multi-trace responses never carry the single-trace pagination fields.
	if parsed.HasMore != nil || parsed.NextPaginationToken != "" {
		t.Errorf("single-trace pagination fields set on multi-trace response: %+v", parsed)
	}
}

func TestLogsHandlerPartialFailure(t *testing.T) {
	t.Parallel()

	client := &stubFetchClient{
		pages: map[string]*telemetry.FetchPage{
			"t1": {Entries: []telemetry.LogEntry{{SpanID: "s1", Body: "ok"}}},
		},
		errs: map[string]error{"t2": errors.New("backend down")},
	}
	handler := newLogsTestHandler(client)

	w := logsGet(t, handler, url.Values{"trace_id": {"t1", "t2"}})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 on partial failure", w.Code)
	}

	parsed := decodeLogsResponse(t, w)
	if len(parsed.Failed) != 1 || parsed.Failed[0] != "t2" {
		t.Errorf("failed = %v, want [t2]", parsed.Failed)
	}
	if _, ok := parsed.Logs["t1"]; !ok {
		t.Error("logs missing successful trace t1")
	}
}

func TestLogsHandlerAllFailed(t *testing.T) {
	t.Parallel()

	client := &stubFetchClient{errs: map[string]error{
		"t1": errors.New("reason one"),
		"t2": errors.New("reason two"),
	}}
	handler := newLogsTestHandler(client)

	w := logsGet(t, handler, url.Values{"trace_ids": {"t2,t1"}})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}

	var parsed struct {
		Error  string   `json:"error"`
		Failed []string `json:"failed"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if parsed.Error != "reason one" {
		t.Errorf("error = %q, want the smallest failed id's reason", parsed.Error)
	}
	if len(parsed.Failed) != 2 || parsed.Failed[0] != "t1" {
		t.Errorf("failed = %v, want sorted [t1 t2]", parsed.Failed)
	}
}

func TestLogsHandlerMissingToken(t *testing.T) {
	t.Parallel()

	client := &stubFetchClient{errs: map[string]error{
		"t1": auth.ErrNoToken,
	}}
	handler := newLogsTestHandler(client)

	w := logsGet(t, handler, url.Values{"trace_id": {"t1"}})
	if w.Code != http.StatusBadGateway {
		// A missing token fails every fetch, which surfaces as an aggregate
		// failure; only a bare ErrNoToken before fan-out maps to 401.
		t.Fatalf("status = %d, want 502", w.Code)
	}
}

func TestLogsHandlerSingleTracePagination(t *testing.T) {
	t.Parallel()

	client := &stubFetchClient{pages: map[string]*telemetry.FetchPage{
		"t1": {
			Entries:       []telemetry.LogEntry{{SpanID: "s1", Body: "page two"}},
			HasMore:       true,
			NextPageToken: "cursor-2",
		},
	}}
	handler := newLogsTestHandler(client)

	w := logsGet(t, handler, url.Values{
		"trace_id":         {"t1"},
		"pagination_token": {"cursor-1"},
		"limit":            {"25"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	parsed := decodeLogsResponse(t, w)
	if parsed.HasMore == nil || !*parsed.HasMore {
		t.Error("has_more missing or false, want true")
	}
	if parsed.NextPaginationToken != "cursor-2" {
		t.Errorf("next_pagination_token = %q, want cursor-2", parsed.NextPaginationToken)
	}

	if len(client.recorded()) != 1 {
		t.Fatalf("fetch called %d times, want 1", len(client.recorded()))
	}
	req := client.recorded()[0]
	if req.PageToken != "cursor-1" || req.Limit != 25 {
		t.Errorf("fetch request = %+v, want cursor-1/25", req)
	}
}

func TestLogsHandlerTimeWindow(t *testing.T) {
	t.Parallel()

	client := &stubFetchClient{pages: map[string]*telemetry.FetchPage{
		"t1": {},
	}}
	handler := newLogsTestHandler(client)

	w := logsGet(t, handler, url.Values{
		"trace_id":   {"t1"},
		"start_time": {"2026-03-01T10:00:00Z"},
		"end_time":   {"1772366400000"}, // 2026-03-01T12:00:00Z in epoch millis
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	req := client.recorded()[0]
	wantStart := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if !req.Window.Start.Equal(wantStart) {
		t.Errorf("window start = %v, want %v", req.Window.Start, wantStart)
	}
	wantEnd := time.UnixMilli(1772366400000).UTC()
	if !req.Window.End.Equal(wantEnd) {
		t.Errorf("window end = %v, want %v", req.Window.End, wantEnd)
	}
}

func TestLogsHandlerZeroEpochIsUnbounded(t *testing.T) {
	t.Parallel()

	client := &stubFetchClient{pages: map[string]*telemetry.FetchPage{"t1": {}}}
	handler := newLogsTestHandler(client)

	w := logsGet(t, handler, url.Values{
		"trace_id":   {"t1"},
		"start_time": {"0"},
		"end_time":   {"0"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	req := client.recorded()[0]
	if !req.Window.Start.IsZero() || !req.Window.End.IsZero() {
		t.Errorf("window = %+v, want unbounded", req.Window)
	}
}

func TestLogsHandlerBadRequests(t *testing.T) {
	t.Parallel()

	handler := newLogsTestHandler(&stubFetchClient{})

	tests := []struct {
		name  string
		query url.Values
	}{
		{name: "no trace ids", query: url.Values{}},
		{name: "blank trace ids", query: url.Values{"trace_ids": {" , ,"}}},
		{name: "bad start time", query: url.Values{"trace_id": {"t1"}, "start_time": {"yesterday"}}},
		{
			name: "inverted window",
			query: url.Values{
				"trace_id":   {"t1"},
				"start_time": {"2026-03-01T12:00:00Z"},
				"end_time":   {"2026-03-01T10:00:00Z"},
			},
		},
		{
			name: "pagination token with multiple traces",
			query: url.Values{
				"trace_ids":        {"t1,t2"},
				"pagination_token": {"cursor"},
			},
		},
		{name: "bad limit", query: url.Values{"trace_id": {"t1"}, "limit": {"-5"}}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := logsGet(t, handler, tt.query)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
			}
		})
	}
}

func TestLogsHandlerMethodNotAllowed(t *testing.T) {
	t.Parallel()

	handler := newLogsTestHandler(&stubFetchClient{})
	r := httptest.NewRequest(http.MethodPost, "/api/logs/by-time-range", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}
