package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/agentlens/agentlens/internal/actions"
	"github.com/agentlens/agentlens/internal/agent"
	"github.com/agentlens/agentlens/internal/auth"
	"github.com/agentlens/agentlens/internal/telemetry"
)

type RouterOptions struct {
	AppVersion    string
	StorageDriver string
	Aggregator    *telemetry.Aggregator
	Engine        *actions.Engine
	Authorizer    *auth.Authorizer
	AgentRunner   *agent.Runner
}

func NewRouter(options RouterOptions) http.Handler {
	startedAt := time.Now().UTC()
	mux := http.NewServeMux()

	mux.Handle("/api/health", HealthHandler(HealthOptions{
		Version:       options.AppVersion,
		StartedAt:     startedAt,
		StorageDriver: options.StorageDriver,
	}))
	mux.Handle("/api/logs/by-time-range", LogsHandler(options.Aggregator))
	mux.Handle("/api/actions/confirm", ConfirmActionHandler(options.Engine))
	mux.Handle("/api/actions", ActionsHandler(options.Engine))
	mux.Handle("/api/actions/", ActionDetailHandler(options.Engine))
	if options.AgentRunner != nil {
		mux.Handle("/api/chat", ChatHandler(options.AgentRunner))
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"name":    "agentlens core",
			"version": options.AppVersion,
			"status":  "ok",
		})
	})

	return withCORS(auth.Middleware(options.Authorizer, mux))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(payload); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("{\"error\":\"internal server error\"}\n"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method+", OPTIONS")
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func withCORS(next http.Handler) http.Handler {
	allowedHeaders := strings.Join([]string{"Content-Type", "Authorization"}, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
