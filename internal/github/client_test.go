package github

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

func newGitHubStub(t *testing.T, status int, body string) (*httptest.Server, *recordedRequest) {
	t.Helper()
	recorded := &recordedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorded.Method = r.Method
		recorded.Path = r.URL.Path
		recorded.Query = r.URL.RawQuery
		recorded.Header = r.Header.Clone()
		recorded.Body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, recorded
}

func TestCreateIssue(t *testing.T) {
	t.Parallel()

	server, recorded := newGitHubStub(t, http.StatusCreated, `{"number":7,"html_url":"https://github.com/acme/api/issues/7"}`)
	client := NewClient(Options{BaseURL: server.URL, Token: "ghp_test"})

	result, err := client.CreateIssue(context.Background(), IssueRequest{
		Owner:  "acme",
		Repo:   "api",
		Title:  "crash on startup",
		Body:   "stack trace attached",
		Labels: []string{"bug"},
	})
	if err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}

	var parsed struct {
		Number int `json:"number"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil || parsed.Number != 7 {
		t.Errorf("result = %s, err = %v", result, err)
	}

	if recorded.Method != http.MethodPost || recorded.Path != "/repos/acme/api/issues" {
		t.Errorf("request = %s %s, want POST /repos/acme/api/issues", recorded.Method, recorded.Path)
	}
	if got := recorded.Header.Get("Authorization"); got != "Bearer ghp_test" {
		t.Errorf("Authorization = %q", got)
	}
	if got := recorded.Header.Get("Accept"); got != "application/vnd.github+json" {
		t.Errorf("Accept = %q", got)
	}
	if got := recorded.Header.Get("X-GitHub-Api-Version"); got != "2022-11-28" {
		t.Errorf("X-GitHub-Api-Version = %q", got)
	}

	var sent map[string]any
	if err := json.Unmarshal(recorded.Body, &sent); err != nil {
		t.Fatalf("decode sent body: %v", err)
	}
	if sent["title"] != "crash on startup" {
		t.Errorf("sent title = %v", sent["title"])
	}
}

func TestCreatePullRequest(t *testing.T) {
	t.Parallel()

	server, recorded := newGitHubStub(t, http.StatusCreated, `{"number":12}`)
	client := NewClient(Options{BaseURL: server.URL, Token: "ghp_test"})

	if _, err := client.CreatePullRequest(context.Background(), PullRequestRequest{
		Owner: "acme",
		Repo:  "api",
		Title: "fix crash",
		Head:  "fix/crash",
		Base:  "main",
	}); err != nil {
		t.Fatalf("CreatePullRequest() error = %v", err)
	}
	if recorded.Path != "/repos/acme/api/pulls" {
		t.Errorf("path = %q, want /repos/acme/api/pulls", recorded.Path)
	}
}

func TestGetFile(t *testing.T) {
	t.Parallel()

	server, recorded := newGitHubStub(t, http.StatusOK, `{"name":"main.go","content":"cGFja2FnZSBtYWlu"}`)
	client := NewClient(Options{BaseURL: server.URL, Token: "ghp_test"})

	if _, err := client.GetFile(context.Background(), FileRequest{
		Owner: "acme",
		Repo:  "api",
		Path:  "/cmd/api/main.go/",
		Ref:   "release-1.2",
	}); err != nil {
		t.Fatalf("GetFile() error = %v", err)
	}
	if recorded.Method != http.MethodGet {
		t.Errorf("method = %q, want GET", recorded.Method)
	}
	if recorded.Path != "/repos/acme/api/contents/cmd/api/main.go" {
		t.Errorf("path = %q", recorded.Path)
	}
	if recorded.Query != "ref=release-1.2" {
		t.Errorf("query = %q, want ref=release-1.2", recorded.Query)
	}
}

func TestClientValidation(t *testing.T) {
	t.Parallel()

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	t.Cleanup(server.Close)
	client := NewClient(Options{BaseURL: server.URL, Token: "ghp_test"})
	ctx := context.Background()

	if _, err := client.CreateIssue(ctx, IssueRequest{Repo: "api", Title: "t"}); err == nil {
		t.Error("CreateIssue() without owner succeeded")
	}
	if _, err := client.CreateIssue(ctx, IssueRequest{Owner: "acme", Repo: "api"}); err == nil {
		t.Error("CreateIssue() without title succeeded")
	}
	if _, err := client.CreatePullRequest(ctx, PullRequestRequest{Owner: "acme", Repo: "api", Title: "t", Head: "h"}); err == nil {
		t.Error("CreatePullRequest() without base succeeded")
	}
	if _, err := client.GetFile(ctx, FileRequest{Owner: "acme", Repo: "api", Path: "  /  "}); err == nil {
		t.Error("GetFile() with blank path succeeded")
	}
	if calls != 0 {
		t.Errorf("server hit %d times by invalid requests, want 0", calls)
	}
}

func TestClientMissingTokenFailsFast(t *testing.T) {
	t.Parallel()

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	t.Cleanup(server.Close)
	client := NewClient(Options{BaseURL: server.URL})

	_, err := client.CreateIssue(context.Background(), IssueRequest{Owner: "acme", Repo: "api", Title: "t"})
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("CreateIssue() error = %v, want ErrMissingToken", err)
	}
	if calls != 0 {
		t.Errorf("server hit %d times with no token, want 0", calls)
	}
}

func TestClientAPIError(t *testing.T) {
	t.Parallel()

	server, _ := newGitHubStub(t, http.StatusUnprocessableEntity, `{"message":"Validation Failed"}`)
	client := NewClient(Options{BaseURL: server.URL, Token: "ghp_test"})

	_, err := client.CreateIssue(context.Background(), IssueRequest{Owner: "acme", Repo: "api", Title: "t"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("CreateIssue() error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity {
		t.Errorf("Status = %d, want 422", apiErr.Status)
	}
	if apiErr.Message != "Validation Failed" {
		t.Errorf("Message = %q, want Validation Failed", apiErr.Message)
	}
}
