package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/graph"
	"github.com/deciolog/deciolog/internal/model"
)

func (h *Handlers) registerDecisionRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /decisions", h.handleCreateDecision)
	mux.HandleFunc("GET /decisions", h.handleListDecisions)
	mux.HandleFunc("GET /decisions/needs-review", h.handleDecisionsNeedsReview)
	mux.HandleFunc("GET /decisions/{id}", h.handleGetDecision)
	mux.HandleFunc("PUT /decisions/{id}", h.handleUpdateDecision)
	mux.HandleFunc("DELETE /decisions/{id}", h.handleDeleteDecision)
}

// createDecisionRequest is the manual-entry counterpart to the Remember
// operation's RememberRequest: a human filling out the same fields an
// extraction pass would have populated.
type createDecisionRequest struct {
	Trigger        string   `json:"trigger"`
	Context        string   `json:"context"`
	AgentDecision  string   `json:"decision"`
	AgentRationale string   `json:"rationale"`
	Options        []string `json:"options"`
	ProjectName    *string  `json:"project_name,omitempty"`
	Scope          string   `json:"scope,omitempty"`
}

func (h *Handlers) handleCreateDecision(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}

	var req createDecisionRequest
	if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if req.Trigger == "" || req.AgentDecision == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "trigger and decision are required")
		return
	}

	idem, ok := h.beginIdempotentWrite(w, r, claims.UserID, "POST /decisions", req)
	if !ok {
		return
	}

	scope := model.ScopeUnknown
	if req.Scope != "" {
		scope = model.Scope(req.Scope)
	}
	d := model.DecisionTrace{
		ID: uuid.New(), UserID: claims.UserID, Trigger: req.Trigger, Context: req.Context,
		AgentDecision: req.AgentDecision, AgentRationale: req.AgentRationale, Options: req.Options,
		ProjectName: req.ProjectName, Scope: scope, Source: model.SourceManual, Confidence: 1.0, RawConfidence: 1.0,
		Provenance: model.Provenance{SourceType: model.SourceManual, CreatedBy: "manual"},
	}

	saved, err := h.graphWriter.Save(r.Context(), d)
	if err != nil {
		h.writeInternalError(w, r, "failed to save decision", err)
		return
	}

	h.completeIdempotentWriteBestEffort(r, claims.UserID, idem, http.StatusCreated, saved)
	writeJSON(w, r, http.StatusCreated, saved)
}

func (h *Handlers) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}

	limit := parseIntParam(r, "limit", 50)
	offset := parseIntParam(r, "offset", 0)
	filters := model.QueryFilters{UserID: claims.UserID.String(), Limit: limit, Offset: offset}
	if p := r.URL.Query().Get("project_name"); p != "" {
		filters.ProjectName = &p
	}
	if s := r.URL.Query().Get("scope"); s != "" {
		scope := model.Scope(s)
		filters.Scope = &scope
	}
	if s := r.URL.Query().Get("source"); s != "" {
		src := model.Source(s)
		filters.Source = &src
	}

	decisions, err := h.graphReader.ListDecisions(r.Context(), filters)
	if err != nil {
		h.writeInternalError(w, r, "failed to list decisions", err)
		return
	}
	writeListJSON(w, r, decisions, nil, len(decisions) == limit, limit, offset)
}

func (h *Handlers) handleDecisionsNeedsReview(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}

	threshold := parseFloatParam(r, "threshold", 0.85)
	limit := parseIntParam(r, "limit", 50)

	decisions, err := h.graphReader.NeedsReview(r.Context(), claims.UserID, threshold, limit)
	if err != nil {
		h.writeInternalError(w, r, "failed to list decisions needing review", err)
		return
	}
	writeJSON(w, r, http.StatusOK, decisions)
}

func (h *Handlers) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid decision id")
		return
	}

	d, err := h.graphReader.GetDecision(r.Context(), claims.UserID, id)
	if err != nil {
		if err == graph.ErrDecisionNotFound {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "decision not found")
			return
		}
		h.writeInternalError(w, r, "failed to get decision", err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

func (h *Handlers) handleUpdateDecision(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid decision id")
		return
	}

	var fields map[string]any
	if err := decodeJSON(r, &fields, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	idem, ok := h.beginIdempotentWrite(w, r, claims.UserID, "PUT /decisions/"+id.String(), fields)
	if !ok {
		return
	}

	if err := h.graphReader.UpdateDecision(r.Context(), claims.UserID, id, fields); err != nil {
		if err == graph.ErrDecisionNotFound {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "decision not found")
			return
		}
		h.clearIdempotentWrite(r, claims.UserID, idem)
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	updated, err := h.graphReader.GetDecision(r.Context(), claims.UserID, id)
	if err != nil {
		h.writeInternalError(w, r, "failed to reload updated decision", err)
		return
	}

	if h.agentCtx != nil {
		_ = h.agentCtx.InvalidateUser(r.Context(), claims.UserID)
	}

	h.completeIdempotentWriteBestEffort(r, claims.UserID, idem, http.StatusOK, updated)
	writeJSON(w, r, http.StatusOK, updated)
}

func (h *Handlers) handleDeleteDecision(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid decision id")
		return
	}

	if err := h.graphReader.DeleteDecision(r.Context(), claims.UserID, id); err != nil {
		if err == graph.ErrDecisionNotFound {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "decision not found")
			return
		}
		h.writeInternalError(w, r, "failed to delete decision", err)
		return
	}

	if h.agentCtx != nil {
		_ = h.agentCtx.InvalidateUser(r.Context(), claims.UserID)
	}

	w.WriteHeader(http.StatusNoContent)
}
