package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentlens/agentlens/internal/auth"
)

const fetchBodyLimit = 8 << 20

var ErrNoBackend = errors.New("no telemetry backend configured")

// HTTPClientOptions configures the HTTP fetch adapter. Backends maps provider
// names to base URLs; DefaultBackend is used when a request names no provider.
type HTTPClientOptions struct {
	Backends       map[string]string
	DefaultBackend string
	Tokens         auth.TokenSupplier
	HTTPClient     *http.Client
}

// HTTPFetchClient talks to a telemetry backend over its logs-by-time-range
// endpoint. It is stateless: one outbound call per FetchLogs invocation and
// no caching, so results are always fresh.
type HTTPFetchClient struct {
	backends       map[string]string
	defaultBackend string
	tokens         auth.TokenSupplier
	httpClient     *http.Client
}

func NewHTTPFetchClient(options HTTPClientOptions) *HTTPFetchClient {
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	backends := make(map[string]string, len(options.Backends))
	for name, base := range options.Backends {
		backends[strings.TrimSpace(name)] = strings.TrimRight(strings.TrimSpace(base), "/")
	}
	return &HTTPFetchClient{
		backends:       backends,
		defaultBackend: strings.TrimSpace(options.DefaultBackend),
		tokens:         options.Tokens,
		httpClient:     httpClient,
	}
}

var _ FetchClient = (*HTTPFetchClient)(nil)

type logsResponse struct {
	Logs          []LogEntry `json:"logs"`
	HasMore       bool       `json:"has_more"`
	NextPageToken string     `json:"next_page_token"`
}

func (c *HTTPFetchClient) FetchLogs(ctx context.Context, req FetchRequest) (*FetchPage, error) {
	window := req.Window
	if window.TraceID == "" {
		window.TraceID = req.TraceID
	}
	if err := window.Validate(); err != nil {
		return nil, err
	}

	base, err := c.baseURL(req.Provider)
	if err != nil {
		return nil, err
	}

	// Token absence fails fast here, before the outbound call is issued.
	var token string
	if c.tokens != nil {
		token, err = c.tokens.Token()
		if err != nil {
			return nil, err
		}
	}
	if token == "" {
		return nil, auth.ErrNoToken
	}

	endpoint, err := buildLogsURL(base, req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build logs request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: req.Provider, TraceID: req.TraceID, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return nil, &ProviderError{Provider: req.Provider, TraceID: req.TraceID, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &ProviderError{
			Provider: req.Provider,
			TraceID:  req.TraceID,
			Status:   resp.StatusCode,
			Err:      auth.ErrNoToken,
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ProviderError{
			Provider: req.Provider,
			TraceID:  req.TraceID,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("backend returned %s", strings.TrimSpace(firstLine(string(body)))),
		}
	}

	var parsed logsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ProviderError{Provider: req.Provider, TraceID: req.TraceID, Err: fmt.Errorf("decode response: %w", err)}
	}

	return &FetchPage{
		Entries:       parsed.Logs,
		HasMore:       parsed.HasMore,
		NextPageToken: parsed.NextPageToken,
	}, nil
}

func (c *HTTPFetchClient) baseURL(provider string) (string, error) {
	name := strings.TrimSpace(provider)
	if name == "" {
		name = c.defaultBackend
	}
	if name == "" {
		// Single-backend deployments may omit provider names entirely.
		if len(c.backends) == 1 {
			for _, base := range c.backends {
				return base, nil
			}
		}
		return "", ErrNoBackend
	}
	base, ok := c.backends[name]
	if !ok || base == "" {
		return "", fmt.Errorf("%w: %q", ErrNoBackend, name)
	}
	return base, nil
}

// buildLogsURL converts window bounds to the backend's absolute-timestamp
// representation at the call boundary. Zero bounds stay absent.
func buildLogsURL(base string, req FetchRequest) (string, error) {
	endpoint, err := url.Parse(base + "/api/v1/logs")
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}

	query := endpoint.Query()
	query.Set("trace_id", req.TraceID)
	if !req.Window.Start.IsZero() {
		query.Set("start_time", req.Window.Start.UTC().Format(time.RFC3339Nano))
	}
	if !req.Window.End.IsZero() {
		query.Set("end_time", req.Window.End.UTC().Format(time.RFC3339Nano))
	}
	if region := strings.TrimSpace(req.Region); region != "" {
		query.Set("region", region)
	}
	if term := strings.TrimSpace(req.SearchTerm); term != "" {
		query.Set("search", term)
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		query.Set("page_token", token)
	}
	if req.Limit > 0 {
		query.Set("limit", strconv.Itoa(req.Limit))
	}
	endpoint.RawQuery = query.Encode()

	return endpoint.String(), nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
