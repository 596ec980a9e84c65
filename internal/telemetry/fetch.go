package telemetry

import "context"

// FetchRequest describes one stateless retrieval call against a backend.
type FetchRequest struct {
	TraceID    string
	Window     TraceWindow
	Provider   string
	Region     string
	SearchTerm string
	PageToken  string
	Limit      int
}

// FetchPage is one page of a trace's logs plus its continuation cursor.
type FetchPage struct {
	Entries       []LogEntry
	HasMore       bool
	NextPageToken string
}

// FetchClient retrieves one page of span-scoped logs for one trace id.
// Implementations validate inputs and the auth token before any I/O, do no
// caching, and surface backend failures as errors rather than panicking.
type FetchClient interface {
	FetchLogs(ctx context.Context, req FetchRequest) (*FetchPage, error)
}
