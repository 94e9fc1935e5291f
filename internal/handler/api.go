package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chatflow-io/chatflow/internal/engine"
	"github.com/chatflow-io/chatflow/internal/middleware"
	"github.com/chatflow-io/chatflow/internal/model"
	"github.com/chatflow-io/chatflow/internal/normalize"
	"github.com/chatflow-io/chatflow/pkg/logger"
)

// Directory is the read/admin store surface behind the operator API.
type Directory interface {
	GetState(ctx context.Context, sender string) (*model.ConversationState, error)
	RecentMessages(ctx context.Context, sender string, limit int) ([]model.Message, error)
	CountAwaitingHandoff(ctx context.Context) (int64, error)
	AIEnabled(ctx context.Context) (bool, error)
	SetAIEnabled(ctx context.Context, enabled bool) error
}

// APIHandler serves the authenticated operator API.
type APIHandler struct {
	engine    *engine.Engine
	directory Directory
	logger    *logger.Logger
}

// NewAPIHandler creates an API handler.
func NewAPIHandler(eng *engine.Engine, directory Directory, log *logger.Logger) *APIHandler {
	return &APIHandler{engine: eng, directory: directory, logger: log}
}

// Resolve handles GET /api/v1/resolve?step=&input=. It runs the resolver
// without touching any conversation: a dry-run for flow authors.
func (h *APIHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	step := r.URL.Query().Get("step")
	if err := middleware.ValidateStep(step); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	input := normalize.Text(r.URL.Query().Get("input"))

	action, err := h.engine.Resolver().Resolve(r.Context(), step, input)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "resolve failed")
		return
	}

	resp := map[string]interface{}{
		"matched":       action.Matched,
		"terminal_step": action.TerminalStep,
		"handoff":       action.Handoff,
		"responses":     action.Responses,
	}
	if action.Rule != nil {
		resp["rule_id"] = action.Rule.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

type transcriptRequest struct {
	Sender        string `json:"sender"`
	SourceEventID string `json:"source_event_id"`
	Text          string `json:"text"`
}

// InjectTranscript handles POST /api/v1/transcripts. A transcript for a
// prior media event is synthesized into a text event and run through the
// full pipeline, deduplication included, so retried submissions are no-ops.
func (h *APIHandler) InjectTranscript(w http.ResponseWriter, r *http.Request) {
	var req transcriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateSender(req.Sender); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateTranscript(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SourceEventID == "" {
		writeError(w, http.StatusBadRequest, "source_event_id is required")
		return
	}

	ev := &model.InboundEvent{
		ExternalID: "transcript:" + req.SourceEventID,
		Sender:     req.Sender,
		Timestamp:  time.Now().UTC(),
		Kind:       model.EventText,
		Text:       req.Text,
	}
	outcome, err := h.engine.ProcessEvent(r.Context(), ev)
	if err != nil && !errors.Is(err, engine.ErrDuplicateEvent) {
		writeError(w, http.StatusBadGateway, "transcript dispatch failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"outcome": string(outcome)})
}

// GetConversation handles GET /api/v1/conversations/{sender}.
func (h *APIHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	sender := chi.URLParam(r, "sender")
	if err := middleware.ValidateSender(sender); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.directory.GetState(r.Context(), sender)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetMessages handles GET /api/v1/conversations/{sender}/messages?limit=.
func (h *APIHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	sender := chi.URLParam(r, "sender")
	if err := middleware.ValidateSender(sender); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	messages, err := h.directory.RecentMessages(r.Context(), sender, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sender":   sender,
		"messages": messages,
	})
}

// GetAISettings handles GET /api/v1/ai.
func (h *APIHandler) GetAISettings(w http.ResponseWriter, r *http.Request) {
	enabled, err := h.directory.AIEnabled(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load ai settings")
		return
	}
	pending, err := h.directory.CountAwaitingHandoff(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count pending handoffs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled":          enabled,
		"pending_handoffs": pending,
	})
}

type aiSettingsRequest struct {
	Enabled bool `json:"enabled"`
}

// UpdateAISettings handles PUT /api/v1/ai. Disabling takes effect on the
// worker's next poll; already-parked conversations are released back to the
// start of the flow.
func (h *APIHandler) UpdateAISettings(w http.ResponseWriter, r *http.Request) {
	var req aiSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.directory.SetAIEnabled(r.Context(), req.Enabled); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update ai settings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}
