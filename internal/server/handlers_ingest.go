package server

import (
	"net/http"

	"github.com/deciolog/deciolog/internal/ingest/coordinator"
	"github.com/deciolog/deciolog/internal/ingest/parser"
	"github.com/deciolog/deciolog/internal/model"
)

func (h *Handlers) registerIngestRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ingest/projects", h.handleIngestProjects)
	mux.HandleFunc("GET /ingest/files", h.handleIngestFiles)
	mux.HandleFunc("GET /ingest/preview", h.handleIngestPreview)
	mux.HandleFunc("POST /ingest/trigger", h.handleIngestTrigger)
	mux.HandleFunc("POST /ingest/import-selected", h.handleIngestImportSelected)
	mux.HandleFunc("GET /ingest/import/progress", h.handleIngestProgress)
	mux.HandleFunc("POST /ingest/import/cancel", h.handleIngestCancel)
	mux.HandleFunc("POST /ingest/watch/start", h.handleIngestWatchStart)
	mux.HandleFunc("POST /ingest/watch/stop", h.handleIngestWatchStop)
}

func (h *Handlers) discoverFilter(r *http.Request) coordinator.DiscoverFilter {
	filter := coordinator.DiscoverFilter{ProjectInclude: r.URL.Query().Get("project")}
	for _, ex := range r.URL.Query()["exclude"] {
		filter.ProjectExclude = append(filter.ProjectExclude, ex)
	}
	return filter
}

func (h *Handlers) handleIngestFiles(w http.ResponseWriter, r *http.Request) {
	if h.coordinator == nil {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInvalidInput, "ingestion is not configured")
		return
	}
	files, err := h.coordinator.DiscoverFiles(h.discoverFilter(r))
	if err != nil {
		h.writeInternalError(w, r, "failed to discover ingest files", err)
		return
	}
	writeJSON(w, r, http.StatusOK, files)
}

// handleIngestProjects discovers every project name present across the
// logs root by parsing each discovered file, the same parse path
// /ingest/preview and the coordinator's own import job use, rather than
// keeping a second source of truth for project names.
func (h *Handlers) handleIngestProjects(w http.ResponseWriter, r *http.Request) {
	if h.coordinator == nil {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInvalidInput, "ingestion is not configured")
		return
	}
	files, err := h.coordinator.DiscoverFiles(h.discoverFilter(r))
	if err != nil {
		h.writeInternalError(w, r, "failed to discover ingest files", err)
		return
	}

	p := parser.New(h.ingestLogsRoot)
	seen := map[string]bool{}
	var projects []string
	for _, f := range files {
		convs, err := p.ParseFile(f)
		if err != nil {
			continue
		}
		for _, c := range convs {
			if c.ProjectName == nil || *c.ProjectName == "" || seen[*c.ProjectName] {
				continue
			}
			seen[*c.ProjectName] = true
			projects = append(projects, *c.ProjectName)
		}
	}
	writeJSON(w, r, http.StatusOK, projects)
}

// handleIngestPreview parses one candidate file without extracting or
// saving decisions, so the UI can show a user what an import would ingest
// before they commit to it.
func (h *Handlers) handleIngestPreview(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "path is required")
		return
	}
	p := parser.New(h.ingestLogsRoot)
	convs, err := p.ParseFile(path)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "failed to parse file: "+err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, convs)
}

type ingestTriggerRequest struct {
	Project        string   `json:"project,omitempty"`
	ProjectExclude []string `json:"project_exclude,omitempty"`
}

func (h *Handlers) handleIngestTrigger(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	if h.coordinator == nil {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInvalidInput, "ingestion is not configured")
		return
	}

	var req ingestTriggerRequest
	_ = decodeJSON(r, &req, h.maxRequestBodyBytes)

	result, err := h.coordinator.Trigger(r.Context(), claims.UserID, coordinator.DiscoverFilter{
		ProjectInclude: req.Project, ProjectExclude: req.ProjectExclude,
	})
	if err != nil {
		if err == coordinator.ErrAlreadyRunning {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
			return
		}
		h.writeInternalError(w, r, "failed to trigger import", err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, result)
}

type importSelectedRequest struct {
	FilePaths     []string `json:"file_paths"`
	TargetProject *string  `json:"target_project,omitempty"`
}

func (h *Handlers) handleIngestImportSelected(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	if h.coordinator == nil {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInvalidInput, "ingestion is not configured")
		return
	}

	var req importSelectedRequest
	if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if len(req.FilePaths) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "file_paths is required")
		return
	}

	result, err := h.coordinator.ImportSelected(r.Context(), claims.UserID, req.FilePaths, req.TargetProject)
	if err != nil {
		if err == coordinator.ErrAlreadyRunning {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
			return
		}
		h.writeInternalError(w, r, "failed to import selected files", err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, result)
}

func (h *Handlers) handleIngestProgress(w http.ResponseWriter, r *http.Request) {
	if h.coordinator == nil {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInvalidInput, "ingestion is not configured")
		return
	}
	progress, err := h.coordinator.Status(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to read import progress", err)
		return
	}
	writeJSON(w, r, http.StatusOK, progress)
}

func (h *Handlers) handleIngestCancel(w http.ResponseWriter, r *http.Request) {
	if h.coordinator == nil {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInvalidInput, "ingestion is not configured")
		return
	}
	if err := h.coordinator.Cancel(r.Context()); err != nil {
		if err == coordinator.ErrNotRunning {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
			return
		}
		h.writeInternalError(w, r, "failed to cancel import", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleIngestWatchStart(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	if h.watcher == nil {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInvalidInput, "file watching is not configured")
		return
	}
	if err := h.watcher.Start(r.Context(), claims.UserID); err != nil {
		h.writeInternalError(w, r, "failed to start watcher", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"watching": true})
}

func (h *Handlers) handleIngestWatchStop(w http.ResponseWriter, r *http.Request) {
	if h.watcher == nil {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInvalidInput, "file watching is not configured")
		return
	}
	if err := h.watcher.Stop(); err != nil {
		h.writeInternalError(w, r, "failed to stop watcher", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"watching": false})
}
