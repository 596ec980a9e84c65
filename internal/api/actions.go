package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/agentlens/agentlens/internal/actions"
)

const confirmBodyLimit = 64 << 10

type confirmActionRequest struct {
	ActionID  string `json:"action_id"`
	Confirmed *bool  `json:"confirmed"`
}

type confirmActionResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ConfirmActionHandler serves POST /api/actions/confirm, the single entry
// point through which a human resolves a proposed action.
func ConfirmActionHandler(engine *actions.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if engine == nil {
			writeError(w, http.StatusServiceUnavailable, "action engine is not configured")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, confirmBodyLimit))
		if err != nil {
			writeError(w, http.StatusBadRequest, "read request body: "+err.Error())
			return
		}
		var req confirmActionRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "decode request body: "+err.Error())
			return
		}
		if strings.TrimSpace(req.ActionID) == "" {
			writeError(w, http.StatusBadRequest, "action_id is required")
			return
		}
		if req.Confirmed == nil {
			writeError(w, http.StatusBadRequest, "confirmed is required")
			return
		}

		record, err := engine.Confirm(r.Context(), req.ActionID, *req.Confirmed)
		if err != nil {
			switch {
			case errors.Is(err, actions.ErrNotFound):
				writeError(w, http.StatusNotFound, err.Error())
			case errors.Is(err, actions.ErrInvalidState):
				writeJSON(w, http.StatusConflict, confirmActionResponse{
					Success: false,
					Message: err.Error(),
				})
			default:
				writeError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}

		response := confirmActionResponse{
			Success: record.Status == actions.StatusSuccess || record.Status == actions.StatusCancelled,
			Message: "action " + string(record.Status),
			Data:    record.Result,
		}
		if record.Status == actions.StatusFailed {
			response.Message = "action failed: " + record.Error
		}
		writeJSON(w, http.StatusOK, response)
	})
}

type actionsListResponse struct {
	Items []*actions.ProposedAction `json:"items"`
}

// ActionsHandler serves GET /api/actions?chat_id=... (audit trail view).
func ActionsHandler(engine *actions.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if engine == nil {
			writeError(w, http.StatusServiceUnavailable, "action engine is not configured")
			return
		}

		chatID := strings.TrimSpace(r.URL.Query().Get("chat_id"))
		if chatID == "" {
			writeError(w, http.StatusBadRequest, "chat_id is required")
			return
		}

		listed, err := engine.List(r.Context(), chatID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if listed == nil {
			listed = []*actions.ProposedAction{}
		}
		writeJSON(w, http.StatusOK, actionsListResponse{Items: listed})
	})
}

// ActionDetailHandler serves GET /api/actions/{id}.
func ActionDetailHandler(engine *actions.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if engine == nil {
			writeError(w, http.StatusServiceUnavailable, "action engine is not configured")
			return
		}

		actionID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/api/actions/"))
		if actionID == "" || strings.Contains(actionID, "/") {
			writeError(w, http.StatusBadRequest, "action id is required")
			return
		}

		record, err := engine.Get(r.Context(), actionID)
		if err != nil {
			if errors.Is(err, actions.ErrNotFound) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, record)
	})
}
