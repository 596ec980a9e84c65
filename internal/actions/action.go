package actions

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind is the closed set of external mutations an agent may propose.
type Kind string

const (
	KindGitHubCreateIssue Kind = "github_create_issue"
	KindGitHubCreatePR    Kind = "github_create_pr"
	KindGitHubGetFile     Kind = "github_get_file"
	KindAgentChat         Kind = "agent_chat"
)

func (k Kind) Valid() bool {
	switch k {
	case KindGitHubCreateIssue, KindGitHubCreatePR, KindGitHubGetFile, KindAgentChat:
		return true
	}
	return false
}

func ParseKind(raw string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(raw)))
	if !kind.Valid() {
		return "", fmt.Errorf("unknown action kind %q", raw)
	}
	return kind, nil
}

// ProposedAction is one agent-suggested external mutation and its audit
// trail. Records are never hard-deleted; resolution only moves the status
// to a terminal value.
type ProposedAction struct {
	ActionID string          `json:"action_id"`
	ChatID   string          `json:"chat_id"`
	Kind     Kind            `json:"kind"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Status   Status          `json:"status"`

	// Result holds the external mutation's response on success; Error holds
	// the failure reason otherwise. At most one of the two is set.
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	// MessageTimestamp identifies the agent message that produced this
	// proposal; together with ChatID it is the idempotency key.
	MessageTimestamp int64 `json:"message_timestamp"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *ProposedAction) clone() *ProposedAction {
	if a == nil {
		return nil
	}
	copied := *a
	if a.Payload != nil {
		copied.Payload = append(json.RawMessage(nil), a.Payload...)
	}
	if a.Result != nil {
		copied.Result = append(json.RawMessage(nil), a.Result...)
	}
	return &copied
}
