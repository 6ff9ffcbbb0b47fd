// Package api exposes the HTTP surface: health checks, a synthetic model
// listing, the SSE chat-completions entrypoint, and session
// CRUD/resume/history/rollback.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/deepresearch/internal/message"
	"github.com/hyperifyio/deepresearch/internal/orchestrator"
	"github.com/hyperifyio/deepresearch/internal/sse"
	"github.com/hyperifyio/deepresearch/internal/store"
)

// syntheticModelID is the single model id GET /models and GET /v1/models
// report: the research system itself, not any one underlying LLM.
const syntheticModelID = "deep_researcher"

// Deps are the collaborators the API composes.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Store        store.Store
	DefaultModel string
	ReasonModel  string
}

// New builds the http.Handler serving every route.
func New(deps Deps) http.Handler {
	mux := http.NewServeMux()
	h := &handler{deps: deps}

	mux.HandleFunc("/", h.health)
	mux.HandleFunc("/health", h.health)
	mux.HandleFunc("/healthcheck", h.health)
	mux.HandleFunc("/models", h.models)
	mux.HandleFunc("/v1/models", h.models)
	mux.HandleFunc("/v1/chat/completions", h.chatCompletions)
	mux.HandleFunc("/sessions", h.sessions)
	mux.HandleFunc("/sessions/", h.sessionByID)

	return mux
}

type handler struct {
	deps Deps
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/health" && r.URL.Path != "/healthcheck" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"data": []map[string]any{{"id": syntheticModelID, "object": "model"}},
	})
}

// chatRequest is the wire shape POST /v1/chat/completions accepts. The
// messages field tolerates three shapes; see message.ParseMessages.
type chatRequest struct {
	Messages          json.RawMessage `json:"messages"`
	SystemInstruction string          `json:"system_instruction,omitempty"`
	MaxIterations     int             `json:"max_iterations,omitempty"`
	MaxSearchItems    int             `json:"max_search_items,omitempty"`
	DefaultModel      string          `json:"default_model,omitempty"`
	ReasonModel       string          `json:"reason_model,omitempty"`
	UserID            string          `json:"user_id,omitempty"`
}

func (h *handler) chatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusUnprocessableEntity)
		return
	}
	messages, err := message.ParseMessages(req.Messages)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	stream, err := sse.New(r.Context(), w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	defer stream.Close()

	defaultModel := req.DefaultModel
	if defaultModel == "" {
		defaultModel = h.deps.DefaultModel
	}
	reasonModel := req.ReasonModel
	if reasonModel == "" {
		reasonModel = h.deps.ReasonModel
	}

	h.deps.Orchestrator.Run(r.Context(), orchestrator.Request{
		Messages:          messages,
		SystemInstruction: req.SystemInstruction,
		MaxIterations:     req.MaxIterations,
		MaxSearchItems:    req.MaxSearchItems,
		DefaultModel:      defaultModel,
		ReasonModel:       reasonModel,
		UserID:            req.UserID,
	}, stream)
}

// sessionSummaryResponse is GET /sessions's wire shape.
type sessionSummaryResponse struct {
	Sessions  []store.Summary `json:"sessions"`
	StartTime string          `json:"start_time"`
}

func (h *handler) sessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := r.URL.Query().Get("user_id")
	summaries, err := h.deps.Store.List(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Msg("api: list sessions failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	startTime := ""
	if len(summaries) > 0 {
		startTime = summaries[0].StartTime.Format("2006-01-02T15:04:05Z07:00")
	}
	writeJSON(w, http.StatusOK, sessionSummaryResponse{Sessions: summaries, StartTime: startTime})
}

// sessionByID dispatches /sessions/{id}[/resume|/history|/rollback/{iteration}].
func (h *handler) sessionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	sessionID := parts[0]

	switch {
	case len(parts) == 1:
		h.sessionRootByMethod(w, r, sessionID)
	case len(parts) == 2 && parts[1] == "resume" && r.Method == http.MethodPost:
		h.resumeSession(w, r, sessionID)
	case len(parts) == 2 && parts[1] == "history" && r.Method == http.MethodGet:
		h.historySession(w, r, sessionID)
	case len(parts) == 3 && parts[1] == "rollback" && r.Method == http.MethodPost:
		h.rollbackSession(w, r, sessionID, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (h *handler) sessionRootByMethod(w http.ResponseWriter, r *http.Request, sessionID string) {
	switch r.Method {
	case http.MethodGet:
		h.getSession(w, r, sessionID)
	case http.MethodDelete:
		h.deleteSession(w, r, sessionID)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := h.deps.Store.Load(r.Context(), sessionID)
	if err != nil {
		writeNotFoundOrError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *handler) deleteSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := h.deps.Store.Delete(r.Context(), sessionID); err != nil {
		writeNotFoundOrError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) resumeSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := h.deps.Store.Resume(r.Context(), sessionID)
	if err != nil {
		writeNotFoundOrError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *handler) historySession(w http.ResponseWriter, r *http.Request, sessionID string) {
	entries, err := h.deps.Store.History(r.Context(), sessionID)
	if err != nil {
		writeNotFoundOrError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (h *handler) rollbackSession(w http.ResponseWriter, r *http.Request, sessionID, rawIteration string) {
	iteration, err := strconv.Atoi(rawIteration)
	if err != nil {
		http.Error(w, "invalid iteration", http.StatusBadRequest)
		return
	}
	sess, err := h.deps.Store.Rollback(r.Context(), sessionID, iteration)
	if err != nil {
		if err == store.ErrRollbackTarget {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeNotFoundOrError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func writeNotFoundOrError(w http.ResponseWriter, err error) {
	if err == store.ErrNotFound {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	log.Error().Err(err).Msg("api: store operation failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("api: encode response failed")
	}
}
