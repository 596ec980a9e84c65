package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentlens/agentlens/internal/actions"
	"github.com/agentlens/agentlens/internal/telemetry"
)

type Options struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Runner drives one conversational turn: it forwards the transcript to the
// model and translates the model's tool calls into log aggregations and
// action proposals. It never executes a mutation itself; proposals always
// land in awaiting_confirmation.
type Runner struct {
	client     *openai.Client
	model      string
	engine     *actions.Engine
	aggregator *telemetry.Aggregator
	logger     *slog.Logger

	nowFn func() time.Time
}

func NewRunner(options Options, engine *actions.Engine, aggregator *telemetry.Aggregator, logger *slog.Logger) (*Runner, error) {
	if strings.TrimSpace(options.APIKey) == "" {
		return nil, errors.New("agent api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientConfig := openai.DefaultConfig(options.APIKey)
	if baseURL := strings.TrimSpace(options.BaseURL); baseURL != "" {
		clientConfig.BaseURL = baseURL
	}

	return &Runner{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      strings.TrimSpace(options.Model),
		engine:     engine,
		aggregator: aggregator,
		logger:     logger,
		nowFn:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// TurnResult is what one chat turn produced: assistant text, zero or more
// action proposals awaiting confirmation, and any logs the model requested.
type TurnResult struct {
	Content         string              `json:"content,omitempty"`
	ProposedActions []string            `json:"proposed_actions,omitempty"`
	Logs            telemetry.LogBundle `json:"logs,omitempty"`
	LogsFailed      []string            `json:"logs_failed,omitempty"`
	LogsError       string              `json:"logs_error,omitempty"`
}

type fetchLogsArgs struct {
	TraceIDs  []string  `json:"trace_ids"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Search    string    `json:"search"`
}

// Run sends one completion request and resolves its tool calls.
func (r *Runner) Run(ctx context.Context, chatID string, messages []openai.ChatCompletionMessage) (*TurnResult, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, errors.New("chat id cannot be empty")
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    r.model,
		Messages: messages,
		Tools:    chatTools(),
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	choice := resp.Choices[0].Message
	result := &TurnResult{Content: choice.Content}

	// The completion's creation instant keys idempotency: a retried turn
	// re-sends the same message timestamp and must not duplicate proposals.
	messageTimestamp := resp.Created * 1000
	if messageTimestamp == 0 {
		messageTimestamp = r.nowFn().UnixMilli()
	}

	for i, call := range choice.ToolCalls {
		if call.Type != openai.ToolTypeFunction {
			continue
		}
		name := strings.TrimSpace(call.Function.Name)
		args := json.RawMessage(call.Function.Arguments)

		if name == toolFetchLogs {
			r.resolveLogs(ctx, args, result)
			continue
		}

		kind, err := actions.ParseKind(name)
		if err != nil {
			r.logger.Warn("model called unknown tool",
				slog.String("chat_id", chatID),
				slog.String("tool", name))
			continue
		}

		actionID, err := r.engine.Propose(ctx, chatID, kind, args, messageTimestamp+int64(i))
		if err != nil {
			return nil, fmt.Errorf("propose %s action: %w", kind, err)
		}
		result.ProposedActions = append(result.ProposedActions, actionID)
	}

	return result, nil
}

func (r *Runner) resolveLogs(ctx context.Context, rawArgs json.RawMessage, result *TurnResult) {
	var args fetchLogsArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		result.LogsError = fmt.Sprintf("decode fetch_logs arguments: %v", err)
		return
	}

	windows := make(map[string]telemetry.TraceWindow, len(args.TraceIDs))
	for _, traceID := range args.TraceIDs {
		windows[traceID] = telemetry.TraceWindow{
			TraceID: traceID,
			Start:   args.StartTime,
			End:     args.EndTime,
		}
	}

	aggregated, err := r.aggregator.Aggregate(ctx, telemetry.AggregateRequest{
		TraceIDs:   args.TraceIDs,
		Windows:    windows,
		SearchTerm: args.Search,
	})
	if aggregated != nil {
		result.Logs = aggregated.Bundle
		result.LogsFailed = aggregated.Failed
	}
	if err != nil {
		result.LogsError = err.Error()
	}
}
