package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kirillkom/legal-rag-assistant/internal/core/ports"
)

type Router struct {
	orchestrator   ports.QueryOrchestrator
	cacheStats     ports.CacheStatsReader
	metricsHandler http.Handler
	logger         *slog.Logger
}

func NewRouter(
	orchestrator ports.QueryOrchestrator,
	cacheStats ports.CacheStatsReader,
	metricsHandler http.Handler,
	logger *slog.Logger,
) *Router {
	return &Router{
		orchestrator:   orchestrator,
		cacheStats:     cacheStats,
		metricsHandler: metricsHandler,
		logger:         logger,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/query", rt.query)
	mux.HandleFunc("/v1/conversations/", rt.conversationAction)
	mux.HandleFunc("/v1/cache/stats", rt.cacheStatsHandler)
	if rt.metricsHandler != nil {
		mux.Handle("/metrics", rt.metricsHandler)
	}
	return requestIDMiddleware(accessLogMiddleware(mux))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) query(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Query          string `json:"query"`
		ConversationID string `json:"conversation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	answer, err := rt.orchestrator.Process(r.Context(), req.Query, req.ConversationID)
	if err != nil {
		rt.logger.Error("process query", "error", err, "request_id", requestIDFromContext(r.Context()))
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) conversationAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/conversations/")
	conversationID, action, found := strings.Cut(rest, "/")
	if !found || action != "clear" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown conversation action"})
		return
	}
	if conversationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "conversation id is required"})
		return
	}

	if err := rt.orchestrator.ClearConversation(r.Context(), conversationID); err != nil {
		rt.logger.Error("clear conversation", "error", err, "conversation_id", conversationID)
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "conversation_id": conversationID})
}

func (rt *Router) cacheStatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, rt.cacheStats.Stats())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
