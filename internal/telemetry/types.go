package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrEmptyTraceID = errors.New("trace id cannot be empty")
var ErrInvalidWindow = errors.New("trace window start is after end")

// ProviderError wraps a failed backend call. It is isolated per trace id and
// never aborts sibling fetches.
type ProviderError struct {
	Provider string
	TraceID  string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	provider := e.Provider
	if provider == "" {
		provider = "default"
	}
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: trace %s: status %d: %v", provider, e.TraceID, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: trace %s: %v", provider, e.TraceID, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AggregateError means every attempted trace fetch failed. Reason carries the
// error from the lexicographically smallest failed trace id so the output is
// reproducible under varying completion order.
type AggregateError struct {
	Failed []string
	Reason string
}

func (e *AggregateError) Error() string {
	return fmt.Sprintf("all %d trace fetches failed: %s", len(e.Failed), e.Reason)
}

// LogEntry is one span-scoped log record in provider-agnostic form.
type LogEntry struct {
	SpanID     string            `json:"span_id"`
	Timestamp  time.Time         `json:"timestamp"`
	Severity   string            `json:"severity,omitempty"`
	Body       string            `json:"body"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// LogBundle maps trace id to its log entries in provider return order.
// Keys are always a subset of the requested trace ids; a missing key means
// that trace's fetch failed and is reported in the failed set.
type LogBundle map[string][]LogEntry

// TraceWindow bounds one trace's fetch. A zero time is a sentinel for
// "unbounded", not a valid instant. Immutable once handed to a fetch call.
type TraceWindow struct {
	TraceID string
	Start   time.Time
	End     time.Time
}

// Validate rejects caller errors before any I/O happens.
func (w TraceWindow) Validate() error {
	if strings.TrimSpace(w.TraceID) == "" {
		return ErrEmptyTraceID
	}
	if !w.Start.IsZero() && !w.End.IsZero() && w.Start.After(w.End) {
		return fmt.Errorf("%w: trace %s", ErrInvalidWindow, w.TraceID)
	}
	return nil
}

// FetchOutcome is the per-trace result of one fetch attempt. Exactly one of
// the success fields or Reason holds.
type FetchOutcome struct {
	TraceID       string
	Entries       []LogEntry
	HasMore       bool
	NextPageToken string
	Reason        string
}

func (o FetchOutcome) Failed() bool { return o.Reason != "" }

func successOutcome(traceID string, page *FetchPage) FetchOutcome {
	outcome := FetchOutcome{TraceID: traceID}
	if page != nil {
		outcome.Entries = page.Entries
		outcome.HasMore = page.HasMore
		outcome.NextPageToken = page.NextPageToken
	}
	return outcome
}

func failureOutcome(traceID string, err error) FetchOutcome {
	reason := "unknown fetch failure"
	if err != nil {
		reason = err.Error()
	}
	return FetchOutcome{TraceID: traceID, Reason: reason}
}
