package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentlens/agentlens/internal/auth"
	"github.com/agentlens/agentlens/internal/telemetry"
)

type logsQueryResponse struct {
	Logs   telemetry.LogBundle            `json:"logs"`
	Failed []string                       `json:"failed,omitempty"`
	Pages  map[string]telemetry.PageState `json:"pages,omitempty"`

	// Set when the request covered exactly one trace id, mirroring the
	// single-trace pagination contract.
	HasMore             *bool  `json:"has_more,omitempty"`
	NextPaginationToken string `json:"next_pagination_token,omitempty"`
}

// LogsHandler serves GET /api/logs/by-time-range.
func LogsHandler(aggregator *telemetry.Aggregator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if aggregator == nil {
			writeError(w, http.StatusServiceUnavailable, "log aggregator is not configured")
			return
		}

		req, err := parseLogsQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		result, err := aggregator.Aggregate(r.Context(), req)
		if err != nil {
			var aggErr *telemetry.AggregateError
			switch {
			case errors.Is(err, auth.ErrNoToken):
				writeError(w, http.StatusUnauthorized, err.Error())
			case errors.Is(err, telemetry.ErrEmptyTraceID), errors.Is(err, telemetry.ErrInvalidWindow):
				writeError(w, http.StatusBadRequest, err.Error())
			case errors.As(err, &aggErr):
				writeJSON(w, http.StatusBadGateway, map[string]any{
					"error":  aggErr.Reason,
					"failed": aggErr.Failed,
				})
			default:
				writeError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}

		response := logsQueryResponse{
			Logs:   result.Bundle,
			Failed: result.Failed,
			Pages:  result.Pages,
		}
		if len(req.TraceIDs) == 1 {
			page := result.Pages[req.TraceIDs[0]]
			response.HasMore = &page.HasMore
			response.NextPaginationToken = page.NextPageToken
		}
		writeJSON(w, http.StatusOK, response)
	})
}

func parseLogsQuery(r *http.Request) (telemetry.AggregateRequest, error) {
	query := r.URL.Query()

	var traceIDs []string
	for _, raw := range query["trace_id"] {
		traceIDs = append(traceIDs, raw)
	}
	if raw := strings.TrimSpace(query.Get("trace_ids")); raw != "" {
		traceIDs = append(traceIDs, strings.Split(raw, ",")...)
	}
	cleaned := traceIDs[:0]
	for _, id := range traceIDs {
		if id = strings.TrimSpace(id); id != "" {
			cleaned = append(cleaned, id)
		}
	}
	traceIDs = cleaned
	if len(traceIDs) == 0 {
		return telemetry.AggregateRequest{}, errors.New("at least one trace_id is required")
	}

	start, err := parseTimeParam(query.Get("start_time"))
	if err != nil {
		return telemetry.AggregateRequest{}, fmt.Errorf("invalid start_time: %w", err)
	}
	end, err := parseTimeParam(query.Get("end_time"))
	if err != nil {
		return telemetry.AggregateRequest{}, fmt.Errorf("invalid end_time: %w", err)
	}

	windows := make(map[string]telemetry.TraceWindow, len(traceIDs))
	for _, traceID := range traceIDs {
		window := telemetry.TraceWindow{TraceID: traceID, Start: start, End: end}
		if err := window.Validate(); err != nil {
			return telemetry.AggregateRequest{}, err
		}
		windows[traceID] = window
	}

	req := telemetry.AggregateRequest{
		TraceIDs:   traceIDs,
		Windows:    windows,
		SearchTerm: strings.TrimSpace(query.Get("search_term")),
		Provider:   strings.TrimSpace(query.Get("provider")),
		Region:     strings.TrimSpace(query.Get("region")),
	}

	if token := strings.TrimSpace(query.Get("pagination_token")); token != "" {
		// A pagination token is scoped to a single trace's prior page and is
		// never shared across trace ids.
		if len(traceIDs) != 1 {
			return telemetry.AggregateRequest{}, errors.New("pagination_token requires exactly one trace_id")
		}
		req.PageTokens = map[string]string{traceIDs[0]: token}
	}

	if rawLimit := strings.TrimSpace(query.Get("limit")); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit <= 0 {
			return telemetry.AggregateRequest{}, fmt.Errorf("invalid limit %q", rawLimit)
		}
		req.Limit = limit
	}

	return req, nil
}

// parseTimeParam accepts RFC3339 or unix epoch milliseconds. A zero epoch is
// the "unbounded" sentinel and maps to the zero time.
func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if millis == 0 {
			return time.Time{}, nil
		}
		return time.UnixMilli(millis).UTC(), nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}
