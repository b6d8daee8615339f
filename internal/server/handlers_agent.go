package server

import (
	"net/http"

	"github.com/deciolog/deciolog/internal/model"
)

// registerAgentRoutes mirrors the Agent Context Service's four operations
// (plus the deciolog_check precedent search) over plain HTTP, the same
// services internal/mcp's tools call, for callers that are not MCP clients.
func (h *Handlers) registerAgentRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /agent/summary", h.handleAgentSummary)
	mux.HandleFunc("POST /agent/context", h.handleAgentContext)
	mux.HandleFunc("GET /agent/entity/{name}", h.handleAgentEntity)
	mux.HandleFunc("POST /agent/check", h.handleAgentCheck)
	mux.HandleFunc("POST /agent/remember", h.handleAgentRemember)
}

func (h *Handlers) requireAgentCtx(w http.ResponseWriter, r *http.Request) bool {
	if h.agentCtx == nil {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInvalidInput, "agent context service is not configured")
		return false
	}
	return true
}

func (h *Handlers) handleAgentSummary(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	if !h.requireAgentCtx(w, r) {
		return
	}
	resp, err := h.agentCtx.Summary(r.Context(), claims.UserID)
	if err != nil {
		h.writeInternalError(w, r, "failed to build summary", err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

type agentContextRequest struct {
	Query       string  `json:"query"`
	TopK        int     `json:"top_k,omitempty"`
	Alpha       float64 `json:"alpha,omitempty"`
	TokenBudget int     `json:"token_budget,omitempty"`
	Markdown    bool    `json:"markdown,omitempty"`
}

func (h *Handlers) handleAgentContext(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	if !h.requireAgentCtx(w, r) {
		return
	}
	var req agentContextRequest
	if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "query is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}
	if req.Alpha == 0 {
		req.Alpha = 0.5
	}
	if req.TokenBudget <= 0 {
		req.TokenBudget = 4000
	}
	resp, err := h.agentCtx.FocusedContext(r.Context(), model.FocusedContextRequest{
		UserID: claims.UserID.String(), Query: req.Query, TopK: req.TopK,
		Alpha: req.Alpha, TokenBudget: req.TokenBudget, Markdown: req.Markdown,
	})
	if err != nil {
		h.writeInternalError(w, r, "failed to build focused context", err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (h *Handlers) handleAgentEntity(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	if !h.requireAgentCtx(w, r) {
		return
	}
	name := r.PathValue("name")
	entityType := model.EntityType(r.URL.Query().Get("entity_type"))
	resp, err := h.agentCtx.EntityContext(r.Context(), model.EntityContextRequest{
		UserID: claims.UserID.String(), EntityName: name, EntityType: entityType,
	})
	if err != nil {
		h.writeInternalError(w, r, "failed to build entity context", err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleAgentCheck is the HTTP mirror of deciolog_check: a hybrid-search
// precedent lookup run before deciding something, backed by the same
// FocusedContext operation /agent/context uses. It skips MCP's checkTracker
// bookkeeping (an unexported nudge that reminds MCP agents to check before
// calling deciolog_remember) since that workflow is specific to the MCP
// tool surface, not a general HTTP concern.
func (h *Handlers) handleAgentCheck(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	if !h.requireAgentCtx(w, r) {
		return
	}
	var req agentContextRequest
	if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "query is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}
	if req.Alpha == 0 {
		req.Alpha = 0.5
	}
	resp, err := h.agentCtx.FocusedContext(r.Context(), model.FocusedContextRequest{
		UserID: claims.UserID.String(), Query: req.Query, TopK: req.TopK,
		Alpha: req.Alpha, TokenBudget: 4000, Markdown: req.Markdown,
	})
	if err != nil {
		h.writeInternalError(w, r, "check failed", err)
		return
	}
	if req.Markdown {
		writeJSON(w, r, http.StatusOK, map[string]any{"markdown": resp.Markdown})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"hits":              resp.Hits,
		"supersedes_chains": resp.SupersedesChains,
		"contradictions":    resp.Contradictions,
		"truncated":         resp.Truncated,
	})
}

type agentRememberRequest struct {
	AgentName      string   `json:"agent_name"`
	Trigger        string   `json:"trigger"`
	Context        string   `json:"context"`
	AgentDecision  string   `json:"decision"`
	AgentRationale string   `json:"rationale"`
	Options        []string `json:"options,omitempty"`
	ProjectName    *string  `json:"project_name,omitempty"`
	Scope          string   `json:"scope,omitempty"`
	Confidence     float64  `json:"confidence,omitempty"`
}

func (h *Handlers) handleAgentRemember(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	if !h.requireAgentCtx(w, r) {
		return
	}
	var req agentRememberRequest
	if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if req.AgentDecision == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "decision is required")
		return
	}
	scope := model.ScopeUnknown
	if req.Scope != "" {
		scope = model.Scope(req.Scope)
	}
	confidence := req.Confidence
	if confidence == 0 {
		confidence = 0.8
	}
	resp, err := h.agentCtx.Remember(r.Context(), model.RememberRequest{
		AgentName: req.AgentName,
		Decision: model.DecisionTrace{
			UserID: claims.UserID, Trigger: req.Trigger, Context: req.Context,
			AgentDecision: req.AgentDecision, AgentRationale: req.AgentRationale,
			Options: req.Options, ProjectName: req.ProjectName, Scope: scope,
			Confidence: confidence, RawConfidence: confidence,
		},
	})
	if err != nil {
		h.writeInternalError(w, r, "failed to remember decision", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, resp)
}
