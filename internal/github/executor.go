package github

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentlens/agentlens/internal/actions"
)

// Executor dispatches confirmed actions to the GitHub API. It implements the
// confirmation engine's Executor capability and is only ever invoked from a
// confirm transition, never at proposal time.
type Executor struct {
	client *Client
}

var _ actions.Executor = (*Executor)(nil)

func NewExecutor(client *Client) *Executor {
	return &Executor{client: client}
}

func (e *Executor) Execute(ctx context.Context, action *actions.ProposedAction) (json.RawMessage, error) {
	if action == nil {
		return nil, fmt.Errorf("action is required")
	}

	switch action.Kind {
	case actions.KindGitHubCreateIssue:
		var req IssueRequest
		if err := json.Unmarshal(action.Payload, &req); err != nil {
			return nil, fmt.Errorf("decode issue payload: %w", err)
		}
		return e.client.CreateIssue(ctx, req)
	case actions.KindGitHubCreatePR:
		var req PullRequestRequest
		if err := json.Unmarshal(action.Payload, &req); err != nil {
			return nil, fmt.Errorf("decode pull request payload: %w", err)
		}
		return e.client.CreatePullRequest(ctx, req)
	case actions.KindGitHubGetFile:
		var req FileRequest
		if err := json.Unmarshal(action.Payload, &req); err != nil {
			return nil, fmt.Errorf("decode file payload: %w", err)
		}
		return e.client.GetFile(ctx, req)
	case actions.KindAgentChat:
		// Nothing external to mutate; acknowledge so the action resolves.
		return json.RawMessage(`{"acknowledged":true}`), nil
	default:
		return nil, fmt.Errorf("unsupported action kind %q", action.Kind)
	}
}
