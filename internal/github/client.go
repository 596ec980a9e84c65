package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const responseBodyLimit = 4 << 20

var ErrMissingToken = errors.New("github token is not configured")

// APIError is a non-2xx response from the GitHub REST API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api returned %d: %s", e.Status, e.Message)
}

type Options struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// Client is a minimal GitHub REST v3 client covering the mutations the
// confirmation engine can execute.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(options Options) *Client {
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(options.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(options.Token),
		httpClient: httpClient,
	}
}

type IssueRequest struct {
	Owner  string   `json:"owner"`
	Repo   string   `json:"repo"`
	Title  string   `json:"title"`
	Body   string   `json:"body,omitempty"`
	Labels []string `json:"labels,omitempty"`
}

type PullRequestRequest struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Draft bool   `json:"draft,omitempty"`
}

type FileRequest struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	Path  string `json:"path"`
	Ref   string `json:"ref,omitempty"`
}

func (c *Client) CreateIssue(ctx context.Context, req IssueRequest) (json.RawMessage, error) {
	if err := requireRepo(req.Owner, req.Repo); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, errors.New("issue title cannot be empty")
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/issues", c.baseURL, url.PathEscape(req.Owner), url.PathEscape(req.Repo))
	return c.do(ctx, http.MethodPost, endpoint, map[string]any{
		"title":  req.Title,
		"body":   req.Body,
		"labels": req.Labels,
	})
}

func (c *Client) CreatePullRequest(ctx context.Context, req PullRequestRequest) (json.RawMessage, error) {
	if err := requireRepo(req.Owner, req.Repo); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, errors.New("pull request title cannot be empty")
	}
	if strings.TrimSpace(req.Head) == "" || strings.TrimSpace(req.Base) == "" {
		return nil, errors.New("pull request head and base branches are required")
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/pulls", c.baseURL, url.PathEscape(req.Owner), url.PathEscape(req.Repo))
	return c.do(ctx, http.MethodPost, endpoint, map[string]any{
		"title": req.Title,
		"body":  req.Body,
		"head":  req.Head,
		"base":  req.Base,
		"draft": req.Draft,
	})
}

func (c *Client) GetFile(ctx context.Context, req FileRequest) (json.RawMessage, error) {
	if err := requireRepo(req.Owner, req.Repo); err != nil {
		return nil, err
	}
	path := strings.Trim(strings.TrimSpace(req.Path), "/")
	if path == "" {
		return nil, errors.New("file path cannot be empty")
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.baseURL, url.PathEscape(req.Owner), url.PathEscape(req.Repo), path)
	if ref := strings.TrimSpace(req.Ref); ref != "" {
		endpoint += "?ref=" + url.QueryEscape(ref)
	}
	return c.do(ctx, http.MethodGet, endpoint, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any) (json.RawMessage, error) {
	// Token absence fails before any outbound call.
	if c.token == "" {
		return nil, ErrMissingToken
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode github request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build github request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call github api: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("read github response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Message: apiErrorMessage(payload)}
	}
	return json.RawMessage(payload), nil
}

func requireRepo(owner, repo string) error {
	if strings.TrimSpace(owner) == "" || strings.TrimSpace(repo) == "" {
		return errors.New("repository owner and name are required")
	}
	return nil
}

func apiErrorMessage(payload []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	message := strings.TrimSpace(string(payload))
	if len(message) > 200 {
		message = message[:200]
	}
	if message == "" {
		message = "no response body"
	}
	return message
}
