package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/graph"
	"github.com/deciolog/deciolog/internal/model"
)

func (h *Handlers) registerGraphRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /graph", h.handleGraphPage)
	mux.HandleFunc("GET /graph/all", h.handleGraphAll)
	mux.HandleFunc("GET /graph/stats", h.handleGraphStats)
	mux.HandleFunc("GET /graph/sources", h.handleGraphSources)
	mux.HandleFunc("GET /graph/projects", h.handleGraphProjects)
	mux.HandleFunc("GET /graph/validate", h.handleGraphValidate)
	mux.HandleFunc("POST /graph/search/hybrid", h.handleHybridSearch)
	mux.HandleFunc("POST /graph/search/semantic", h.handleSemanticSearch)
	mux.HandleFunc("POST /graph/analyze-relationships", h.handleAnalyzeRelationships)
	mux.HandleFunc("POST /graph/entities/merge-duplicates", h.handleMergeDuplicates)
	mux.HandleFunc("DELETE /graph/reset", h.handleGraphReset)
	mux.HandleFunc("GET /graph/nodes/{id}/neighbors", h.handleGraphNeighbors)
	mux.HandleFunc("GET /graph/nodes/{id}/similar", h.handleGraphSimilar)
	mux.HandleFunc("GET /graph/nodes/{id}", h.handleGraphNode)
	mux.HandleFunc("GET /graph/decisions/{id}/contradictions", h.handleDecisionContradictions)
	mux.HandleFunc("GET /graph/decisions/{id}/evolution", h.handleDecisionEvolution)
	mux.HandleFunc("GET /graph/entities/timeline/{name}", h.handleEntityTimeline)
}

// handleGraphPage and handleGraphAll both page over a user's decisions; /all
// raises the page size to cover the whole graph in one response for the UI's
// initial force-directed render, matching the teacher's distinction between
// a paged listing endpoint and a "just give me everything" one.
func (h *Handlers) handleGraphPage(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	page := parseIntParam(r, "page", 1)
	pageSize := parseIntParam(r, "page_size", 100)
	if page < 1 {
		page = 1
	}
	h.writeGraphSlice(w, r, claims.UserID, pageSize, (page-1)*pageSize)
}

func (h *Handlers) handleGraphAll(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	h.writeGraphSlice(w, r, claims.UserID, 10000, 0)
}

func (h *Handlers) writeGraphSlice(w http.ResponseWriter, r *http.Request, userID uuid.UUID, limit, offset int) {
	decisions, err := h.graphReader.ListDecisions(r.Context(), model.QueryFilters{UserID: userID.String(), Limit: limit, Offset: offset})
	if err != nil {
		h.writeInternalError(w, r, "failed to load graph decisions", err)
		return
	}
	entities, err := h.graphReader.ListEntities(r.Context(), userID, nil, limit, 0)
	if err != nil {
		h.writeInternalError(w, r, "failed to load graph entities", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"decisions": decisions, "entities": entities})
}

func (h *Handlers) handleGraphStats(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	stats, err := h.graphReader.Stats(r.Context(), claims.UserID)
	if err != nil {
		h.writeInternalError(w, r, "failed to compute graph stats", err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

func (h *Handlers) handleGraphSources(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	sources, err := h.graphReader.Sources(r.Context(), claims.UserID)
	if err != nil {
		h.writeInternalError(w, r, "failed to list sources", err)
		return
	}
	writeJSON(w, r, http.StatusOK, sources)
}

func (h *Handlers) handleGraphProjects(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	projects, err := h.graphReader.Projects(r.Context(), claims.UserID)
	if err != nil {
		h.writeInternalError(w, r, "failed to list projects", err)
		return
	}
	writeJSON(w, r, http.StatusOK, projects)
}

func (h *Handlers) handleGraphValidate(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	if h.analyzer == nil {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInvalidInput, "analyzer is not configured")
		return
	}
	issues, err := h.analyzer.Validate(r.Context(), claims.UserID)
	if err != nil {
		h.writeInternalError(w, r, "failed to validate graph", err)
		return
	}
	writeJSON(w, r, http.StatusOK, issues)
}

func (h *Handlers) handleHybridSearch(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	if h.retriever == nil {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInvalidInput, "retrieval is not configured")
		return
	}
	var req model.HybridSearchRequest
	if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	req.UserID = claims.UserID.String()
	results, err := h.retriever.HybridSearch(r.Context(), req)
	if err != nil {
		h.writeInternalError(w, r, "hybrid search failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, results)
}

type semanticSearchRequest struct {
	Query     string  `json:"query"`
	TopK      int     `json:"top_k"`
	Threshold float64 `json:"threshold"`
}

func (h *Handlers) handleSemanticSearch(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	if h.retriever == nil {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInvalidInput, "retrieval is not configured")
		return
	}
	var req semanticSearchRequest
	if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}
	if req.Threshold <= 0 {
		req.Threshold = 0.7
	}
	results, err := h.retriever.SemanticSearch(r.Context(), claims.UserID.String(), req.Query, req.TopK, req.Threshold)
	if err != nil {
		h.writeInternalError(w, r, "semantic search failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, results)
}

// handleAnalyzeRelationships runs the pairwise supersedes/contradicts
// analysis over every decision pair for the user, the batch counterpart to
// the per-save ScanOnSave check the graph writer already runs.
func (h *Handlers) handleAnalyzeRelationships(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	if h.analyzer == nil {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInvalidInput, "analyzer is not configured")
		return
	}
	supersedes, contradicts, err := h.analyzer.AnalyzeAllPairs(r.Context(), claims.UserID)
	if err != nil {
		h.writeInternalError(w, r, "relationship analysis failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"supersedes_found": supersedes, "contradicts_found": contradicts})
}

// handleMergeDuplicates builds a request-scoped resolver.Resolver (entity
// resolution is per-user state, not a long-lived singleton — see
// graph.ResolverFactory) and runs its fuzzy-name merge pass.
func (h *Handlers) handleMergeDuplicates(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	if h.resolverFor == nil {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInvalidInput, "entity resolution is not configured")
		return
	}
	stats, err := h.resolverFor(claims.UserID).MergeDuplicates(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "merge duplicates failed", err)
		return
	}
	if h.agentCtx != nil {
		_ = h.agentCtx.InvalidateUser(r.Context(), claims.UserID)
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// handleGraphReset is gated behind both EnableDestructiveDelete (a deploy
// time switch) and confirm=true (a per-request switch) since it erases every
// decision and entity a user has recorded.
func (h *Handlers) handleGraphReset(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	if !h.enableDestructiveDelete {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "destructive graph reset is disabled")
		return
	}
	if !parseBoolParam(r, "confirm", false) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "pass confirm=true to reset the graph")
		return
	}
	if err := h.graphReader.Reset(r.Context(), claims.UserID); err != nil {
		h.writeInternalError(w, r, "graph reset failed", err)
		return
	}
	if h.agentCtx != nil {
		_ = h.agentCtx.InvalidateUser(r.Context(), claims.UserID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleGraphNeighbors(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid node id")
		return
	}
	limit := parseIntParam(r, "limit", 25)
	var relTypes []string
	if raw := r.URL.Query().Get("relationship_types"); raw != "" {
		relTypes = strings.Split(raw, ",")
	}
	neighbors, err := h.graphReader.Neighbors(r.Context(), id, relTypes, limit)
	if err != nil {
		h.writeInternalError(w, r, "failed to load neighbors", err)
		return
	}
	writeJSON(w, r, http.StatusOK, neighbors)
}

func (h *Handlers) handleGraphSimilar(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid node id")
		return
	}
	topK := parseIntParam(r, "top_k", 10)
	threshold := parseFloatParam(r, "threshold", 0.7)
	similar, err := h.graphReader.Similar(r.Context(), id, "DecisionTrace", topK, threshold)
	if err != nil {
		h.writeInternalError(w, r, "failed to find similar nodes", err)
		return
	}
	writeJSON(w, r, http.StatusOK, similar)
}

// handleGraphNode fetches a single node by id, trying DecisionTrace first
// and falling back to Entity, since GET /graph/nodes/{id} is label-agnostic
// at the HTTP boundary while the graph store itself distinguishes the two.
func (h *Handlers) handleGraphNode(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid node id")
		return
	}
	if d, err := h.graphReader.GetDecision(r.Context(), claims.UserID, id); err == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{"kind": "decision", "node": d})
		return
	} else if err != graph.ErrDecisionNotFound {
		h.writeInternalError(w, r, "failed to load node", err)
		return
	}
	e, err := h.graphReader.GetEntity(r.Context(), claims.UserID, id)
	if err != nil {
		if err == graph.ErrEntityNotFound {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "node not found")
			return
		}
		h.writeInternalError(w, r, "failed to load node", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"kind": "entity", "node": e})
}

func (h *Handlers) handleDecisionContradictions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid decision id")
		return
	}
	pairs, err := h.graphReader.ContradictionsForDecision(r.Context(), id)
	if err != nil {
		h.writeInternalError(w, r, "failed to load contradictions", err)
		return
	}
	writeJSON(w, r, http.StatusOK, pairs)
}

func (h *Handlers) handleDecisionEvolution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid decision id")
		return
	}
	chain, err := h.graphReader.Evolution(r.Context(), id)
	if err != nil {
		h.writeInternalError(w, r, "failed to load evolution chain", err)
		return
	}
	writeJSON(w, r, http.StatusOK, chain)
}

// handleEntityTimeline mirrors the MCP/agent entity-context operation over
// HTTP, since its response already carries the timeline the UI needs.
func (h *Handlers) handleEntityTimeline(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	if h.agentCtx == nil {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInvalidInput, "agent context is not configured")
		return
	}
	name := r.PathValue("name")
	resp, err := h.agentCtx.EntityContext(r.Context(), model.EntityContextRequest{
		UserID: claims.UserID.String(), EntityName: name,
	})
	if err != nil {
		h.writeInternalError(w, r, "failed to load entity timeline", err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp.Timeline)
}
