package telemetry

import (
	"context"
	"log/slog"
	"sort"
	"strings"
)

// AggregateRequest is one batch retrieval across a set of trace ids. Windows
// and PageTokens are keyed by trace id; a token applies only to the id it is
// scoped to and is never shared across ids or providers.
type AggregateRequest struct {
	TraceIDs   []string
	Windows    map[string]TraceWindow
	PageTokens map[string]string
	SearchTerm string
	Limit      int

	// Optional per-request overrides of the resolved provider/region pair.
	Provider string
	Region   string
}

// PageState carries one trace's continuation cursor back to the caller.
type PageState struct {
	HasMore       bool   `json:"has_more"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

// AggregateResult reports partial availability explicitly: Failed lists every
// trace id that returned no data rather than silently dropping it.
type AggregateResult struct {
	Bundle LogBundle
	Pages  map[string]PageState
	Failed []string
}

// AggregatorMetrics holds optional callbacks invoked at fetch completion.
type AggregatorMetrics struct {
	OnFetchSuccess func(provider string)
	OnFetchFailure func(provider string)
}

// Aggregator fans out one concurrent fetch per trace id and merges the
// outcomes. Each fetch is independent: one trace failing never cancels or
// blocks the others.
type Aggregator struct {
	resolver *Resolver
	client   FetchClient
	logger   *slog.Logger
	metrics  AggregatorMetrics
}

func NewAggregator(resolver *Resolver, client FetchClient, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		resolver: resolver,
		client:   client,
		logger:   logger,
	}
}

// SetMetrics replaces the fetch outcome callbacks.
func (a *Aggregator) SetMetrics(m AggregatorMetrics) {
	if a == nil {
		return
	}
	a.metrics = m
}

// Aggregate retrieves logs for every requested trace id.
//
// An empty id set returns an empty bundle with no error. If at least one
// trace succeeds the call succeeds and Failed lists the ids without data.
// Only when every attempted trace fails does Aggregate return an
// *AggregateError, carrying the reason from the lexicographically smallest
// failed id so output is deterministic under any completion order.
func (a *Aggregator) Aggregate(ctx context.Context, req AggregateRequest) (*AggregateResult, error) {
	traceIDs := dedupeTraceIDs(req.TraceIDs)
	result := &AggregateResult{
		Bundle: LogBundle{},
		Pages:  map[string]PageState{},
	}
	if len(traceIDs) == 0 {
		return result, nil
	}

	// Resolve once so every fetch in this batch sees the same provider and
	// region pair.
	selection := a.resolver.Resolve()
	provider := strings.TrimSpace(req.Provider)
	if provider == "" {
		provider = selection.LogProvider
	}
	region := strings.TrimSpace(req.Region)
	if region == "" {
		region = selection.LogRegion
	}

	outcomes := make(chan FetchOutcome, len(traceIDs))
	for _, traceID := range traceIDs {
		go func(traceID string) {
			outcomes <- a.fetchOne(ctx, traceID, provider, region, req)
		}(traceID)
	}

	received := map[string]FetchOutcome{}
	pending := len(traceIDs)

collect:
	for pending > 0 {
		select {
		case outcome := <-outcomes:
			received[outcome.TraceID] = outcome
			pending--
		case <-ctx.Done():
			// Outstanding fetches are abandoned, not force-cancelled; any
			// results that still arrive are discarded.
			break collect
		}
	}

	for _, traceID := range traceIDs {
		outcome, ok := received[traceID]
		if !ok {
			outcome = failureOutcome(traceID, ctx.Err())
		}
		if outcome.Failed() {
			result.Failed = append(result.Failed, traceID)
			a.logger.Warn("trace fetch failed",
				slog.String("trace_id", traceID),
				slog.String("provider", provider),
				slog.String("reason", outcome.Reason))
			if a.metrics.OnFetchFailure != nil {
				a.metrics.OnFetchFailure(provider)
			}
			continue
		}
		result.Bundle[traceID] = outcome.Entries
		result.Pages[traceID] = PageState{
			HasMore:       outcome.HasMore,
			NextPageToken: outcome.NextPageToken,
		}
		if a.metrics.OnFetchSuccess != nil {
			a.metrics.OnFetchSuccess(provider)
		}
	}
	sort.Strings(result.Failed)

	if len(result.Failed) == len(traceIDs) {
		smallest := result.Failed[0]
		reason := received[smallest].Reason
		if reason == "" {
			reason = failureOutcome(smallest, ctx.Err()).Reason
		}
		return result, &AggregateError{Failed: result.Failed, Reason: reason}
	}

	return result, nil
}

func (a *Aggregator) fetchOne(ctx context.Context, traceID, provider, region string, req AggregateRequest) (outcome FetchOutcome) {
	// A panicking fetch adapter must not take down sibling fetches.
	defer func() {
		if r := recover(); r != nil {
			outcome = FetchOutcome{TraceID: traceID, Reason: "fetch panic"}
			a.logger.Error("trace fetch panicked",
				slog.String("trace_id", traceID),
				slog.Any("panic", r))
		}
	}()

	window := req.Windows[traceID]
	window.TraceID = traceID

	page, err := a.client.FetchLogs(ctx, FetchRequest{
		TraceID:    traceID,
		Window:     window,
		Provider:   provider,
		Region:     region,
		SearchTerm: req.SearchTerm,
		PageToken:  req.PageTokens[traceID],
		Limit:      req.Limit,
	})
	if err != nil {
		return failureOutcome(traceID, err)
	}
	return successOutcome(traceID, page)
}

func dedupeTraceIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	deduped := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		deduped = append(deduped, id)
	}
	return deduped
}
