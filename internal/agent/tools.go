package agent

import (
	openai "github.com/sashabaranov/go-openai"

	"github.com/agentlens/agentlens/internal/actions"
)

const toolFetchLogs = "fetch_logs"

// chatTools is the tool surface offered to the model: one log-retrieval tool
// plus one proposal tool per action kind. Action tools never execute
// anything; they only create awaiting_confirmation records.
func chatTools() []openai.Tool {
	return []openai.Tool{
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        toolFetchLogs,
				Description: "Retrieve execution logs for one or more trace ids over an optional time window.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"trace_ids": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string"},
						},
						"start_time": map[string]any{"type": "string", "format": "date-time"},
						"end_time":   map[string]any{"type": "string", "format": "date-time"},
						"search":     map[string]any{"type": "string"},
					},
					"required": []string{"trace_ids"},
				},
			},
		},
		actionTool(actions.KindGitHubCreateIssue, "Propose opening a GitHub issue. Requires human confirmation before execution.", map[string]any{
			"owner":  map[string]any{"type": "string"},
			"repo":   map[string]any{"type": "string"},
			"title":  map[string]any{"type": "string"},
			"body":   map[string]any{"type": "string"},
			"labels": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		}, []string{"owner", "repo", "title"}),
		actionTool(actions.KindGitHubCreatePR, "Propose opening a GitHub pull request. Requires human confirmation before execution.", map[string]any{
			"owner": map[string]any{"type": "string"},
			"repo":  map[string]any{"type": "string"},
			"title": map[string]any{"type": "string"},
			"body":  map[string]any{"type": "string"},
			"head":  map[string]any{"type": "string"},
			"base":  map[string]any{"type": "string"},
			"draft": map[string]any{"type": "boolean"},
		}, []string{"owner", "repo", "title", "head", "base"}),
		actionTool(actions.KindGitHubGetFile, "Propose reading a file from a GitHub repository. Requires human confirmation before execution.", map[string]any{
			"owner": map[string]any{"type": "string"},
			"repo":  map[string]any{"type": "string"},
			"path":  map[string]any{"type": "string"},
			"ref":   map[string]any{"type": "string"},
		}, []string{"owner", "repo", "path"}),
	}
}

func actionTool(kind actions.Kind, description string, properties map[string]any, required []string) openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        string(kind),
			Description: description,
			Parameters: map[string]any{
				"type":       "object",
				"properties": properties,
				"required":   required,
			},
		},
	}
}
