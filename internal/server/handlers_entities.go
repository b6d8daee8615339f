package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/graph"
	"github.com/deciolog/deciolog/internal/model"
	"github.com/deciolog/deciolog/internal/resolver"
)

func (h *Handlers) registerEntityRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /entities", h.handleCreateEntity)
	mux.HandleFunc("GET /entities", h.handleListEntities)
	mux.HandleFunc("POST /entities/link", h.handleLinkEntities)
	mux.HandleFunc("POST /entities/suggest", h.handleSuggestEntity)
	mux.HandleFunc("GET /entities/{id}", h.handleGetEntity)
	mux.HandleFunc("DELETE /entities/{id}", h.handleDeleteEntity)
}

type createEntityRequest struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Aliases []string `json:"aliases,omitempty"`
}

func (h *Handlers) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}

	var req createEntityRequest
	if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" || req.Type == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name and type are required")
		return
	}

	created, err := h.graphReader.CreateEntity(r.Context(), claims.UserID, model.Entity{
		Name: req.Name, Type: model.EntityType(req.Type), Aliases: req.Aliases,
	})
	if err != nil {
		h.writeInternalError(w, r, "failed to create entity", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, created)
}

func (h *Handlers) handleListEntities(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}

	limit := parseIntParam(r, "limit", 50)
	offset := parseIntParam(r, "offset", 0)
	var entityType *model.EntityType
	if t := r.URL.Query().Get("type"); t != "" {
		et := model.EntityType(t)
		entityType = &et
	}

	entities, err := h.graphReader.ListEntities(r.Context(), claims.UserID, entityType, limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list entities", err)
		return
	}
	writeListJSON(w, r, entities, nil, len(entities) == limit, limit, offset)
}

func (h *Handlers) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid entity id")
		return
	}

	e, err := h.graphReader.GetEntity(r.Context(), claims.UserID, id)
	if err != nil {
		if err == graph.ErrEntityNotFound {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "entity not found")
			return
		}
		h.writeInternalError(w, r, "failed to get entity", err)
		return
	}
	writeJSON(w, r, http.StatusOK, e)
}

func (h *Handlers) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid entity id")
		return
	}
	force := parseBoolParam(r, "force", false)

	if err := h.graphReader.DeleteEntity(r.Context(), claims.UserID, id, force); err != nil {
		if err == graph.ErrEntityNotFound {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "entity not found")
			return
		}
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
		return
	}

	if h.agentCtx != nil {
		_ = h.agentCtx.InvalidateUser(r.Context(), claims.UserID)
	}
	w.WriteHeader(http.StatusNoContent)
}

type linkEntitiesRequest struct {
	FromID     string  `json:"from_id"`
	ToID       string  `json:"to_id"`
	Relation   string  `json:"relation"`
	Confidence float64 `json:"confidence"`
}

func (h *Handlers) handleLinkEntities(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}

	var req linkEntitiesRequest
	if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	fromID, err := uuid.Parse(req.FromID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid from_id")
		return
	}
	toID, err := uuid.Parse(req.ToID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid to_id")
		return
	}
	confidence := req.Confidence
	if confidence <= 0 {
		confidence = 1.0
	}

	if err := h.graphReader.LinkEntities(r.Context(), fromID, toID, model.EdgeType(req.Relation), confidence); err != nil {
		h.writeInternalError(w, r, "failed to link entities", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type suggestEntityRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// handleSuggestEntity runs the same resolution cascade the graph writer uses
// while saving a decision (internal/resolver.Resolver.Resolve), exposed
// directly so a UI can preview whether a typed-in entity name would dedupe
// against an existing node before the user commits to creating or linking.
func (h *Handlers) handleSuggestEntity(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	if h.resolverFor == nil {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInvalidInput, "entity resolution is not configured")
		return
	}

	var req suggestEntityRequest
	if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" || req.Type == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name and type are required")
		return
	}

	res, err := h.resolverFor(claims.UserID).Resolve(r.Context(), req.Name, model.EntityType(req.Type))
	if err != nil {
		h.writeInternalError(w, r, "failed to resolve entity suggestion", err)
		return
	}
	writeJSON(w, r, http.StatusOK, resolvedEntityResponse(res))
}

func resolvedEntityResponse(res resolver.ResolvedEntity) map[string]any {
	return map[string]any{
		"id": res.ID, "name": res.Name, "type": res.Type, "is_new": res.IsNew,
		"match_method": res.MatchMethod, "confidence": res.Confidence,
		"canonical_name": res.CanonicalName, "aliases": res.Aliases,
	}
}
