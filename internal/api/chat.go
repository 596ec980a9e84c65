package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentlens/agentlens/internal/agent"
)

const chatBodyLimit = 256 << 10

type chatRequest struct {
	ChatID   string        `json:"chat_id"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatHandler serves POST /api/chat. It runs one conversational turn; any
// mutation the model suggests comes back as a proposal id awaiting
// confirmation, never as an executed action.
func ChatHandler(runner *agent.Runner) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if runner == nil {
			writeError(w, http.StatusServiceUnavailable, "agent is not configured")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, chatBodyLimit))
		if err != nil {
			writeError(w, http.StatusBadRequest, "read request body: "+err.Error())
			return
		}
		var req chatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "decode request body: "+err.Error())
			return
		}
		if strings.TrimSpace(req.ChatID) == "" {
			writeError(w, http.StatusBadRequest, "chat_id is required")
			return
		}
		if len(req.Messages) == 0 {
			writeError(w, http.StatusBadRequest, "at least one message is required")
			return
		}

		messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
		for _, message := range req.Messages {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    message.Role,
				Content: message.Content,
			})
		}

		result, err := runner.Run(r.Context(), req.ChatID, messages)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	})
}
