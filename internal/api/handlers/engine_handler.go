package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lerian-entity-resolver/internal/api/response"
	"lerian-entity-resolver/internal/engine"
	"lerian-entity-resolver/internal/logging"
	"lerian-entity-resolver/internal/patterns"
	"lerian-entity-resolver/internal/types"
)

// Execution modes accepted by the operations endpoint
const (
	ModeSequential = "sequential"
	ModeBounded    = "bounded"
)

// EngineHandler exposes the engine facade over HTTP
type EngineHandler struct {
	engine *engine.Engine
	logger *logging.ComponentLogger
}

// NewEngineHandler creates a new engine handler
func NewEngineHandler(e *engine.Engine, logger logging.Logger) *EngineHandler {
	return &EngineHandler{engine: e, logger: logging.NewComponentLogger(logger, "api")}
}

// withConversation is embedded by request bodies that may carry history
type withConversation struct {
	Conversation *patterns.Conversation `json:"conversation,omitempty"`
}

func (c withConversation) attach(ctx context.Context) context.Context {
	if c.Conversation == nil {
		return ctx
	}
	return patterns.WithConversation(ctx, *c.Conversation)
}

// ExecuteRequest is the body of POST /operations
type ExecuteRequest struct {
	withConversation
	UserID         types.UserID      `json:"user_id"`
	Operations     []types.Operation `json:"operations"`
	Message        string            `json:"message,omitempty"`
	Entities       []types.Entity    `json:"entities,omitempty"`
	Mode           string            `json:"mode,omitempty"`
	MaxConcurrency int               `json:"max_concurrency,omitempty"`
}

// ResolveRequest is the body of POST /resolve and POST /updates
type ResolveRequest struct {
	withConversation
	UserID    types.UserID   `json:"user_id"`
	Reference string         `json:"reference"`
	Entities  []types.Entity `json:"entities,omitempty"`
}

// PatternsRequest is the body of POST /patterns
type PatternsRequest struct {
	withConversation
	UserID types.UserID `json:"user_id"`
}

// SuggestRequest is the body of POST /suggestions
type SuggestRequest struct {
	UserID   types.UserID   `json:"user_id"`
	Query    string         `json:"query"`
	Limit    int            `json:"limit,omitempty"`
	Entities []types.Entity `json:"entities,omitempty"`
}

// ClusterRequest is the body of POST /clusters
type ClusterRequest struct {
	UserID    types.UserID   `json:"user_id"`
	Threshold float64        `json:"threshold,omitempty"`
	Entities  []types.Entity `json:"entities,omitempty"`
}

// Execute handles POST /operations
func (h *EngineHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if !decode(w, r, &req) {
		return
	}

	bounded := false
	switch req.Mode {
	case "", ModeSequential:
	case ModeBounded:
		bounded = true
	default:
		response.WriteValidationError(w, "Invalid mode", `mode must be "sequential" or "bounded"`)
		return
	}

	resp, err := h.engine.Execute(req.attach(r.Context()), engine.Request{
		UserID:         req.UserID,
		Operations:     req.Operations,
		Message:        req.Message,
		Entities:       req.Entities,
		Bounded:        bounded,
		MaxConcurrency: req.MaxConcurrency,
	})
	if err != nil {
		h.fail(w, r, "execute", err)
		return
	}
	response.WriteSuccess(w, resp, resp.Text)
}

// Resolve handles POST /resolve
func (h *EngineHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := h.engine.Resolve(req.attach(r.Context()), req.UserID, req.Reference, req.Entities)
	if err != nil {
		h.fail(w, r, "resolve", err)
		return
	}
	response.WriteSuccess(w, resp, resp.Text)
}

// ProcessUpdate handles POST /updates
func (h *EngineHandler) ProcessUpdate(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decode(w, r, &req) {
		return
	}

	out, err := h.engine.ProcessUpdate(req.attach(r.Context()), req.UserID, req.Reference, req.Entities)
	if err != nil {
		h.fail(w, r, "process_update", err)
		return
	}
	response.WriteSuccess(w, out, out.Message)
}

// Patterns handles POST /patterns
func (h *EngineHandler) Patterns(w http.ResponseWriter, r *http.Request) {
	var req PatternsRequest
	if !decode(w, r, &req) {
		return
	}

	report, err := h.engine.Patterns(req.attach(r.Context()), req.UserID)
	if err != nil {
		h.fail(w, r, "patterns", err)
		return
	}
	response.WriteSuccess(w, report)
}

// Suggest handles POST /suggestions
func (h *EngineHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	var req SuggestRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := h.engine.Suggest(r.Context(), req.UserID, req.Query, req.Limit, req.Entities)
	if err != nil {
		h.fail(w, r, "suggest", err)
		return
	}
	response.WriteSuccess(w, resp, resp.Text)
}

// Clusters handles POST /clusters
func (h *EngineHandler) Clusters(w http.ResponseWriter, r *http.Request) {
	var req ClusterRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := h.engine.Clusters(r.Context(), req.UserID, req.Threshold, req.Entities)
	if err != nil {
		h.fail(w, r, "clusters", err)
		return
	}
	response.WriteSuccess(w, resp, resp.Text)
}

// ClearContext handles DELETE /users/{userID}/context
func (h *EngineHandler) ClearContext(w http.ResponseWriter, r *http.Request) {
	userID := types.UserID(chi.URLParam(r, "userID"))
	if err := h.engine.ClearContext(r.Context(), userID); err != nil {
		h.fail(w, r, "clear_context", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EngineHandler) fail(w http.ResponseWriter, r *http.Request, operation string, err error) {
	h.logger.WithContext(r.Context()).LogError("Request failed", err, "operation", operation)
	response.WriteFailure(w, err)
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.WriteBadRequest(w, "Invalid request body", err.Error())
		return false
	}
	return true
}
