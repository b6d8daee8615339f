package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
)

// registerNotificationRoutes exposes internal/notify's Service: listing and
// acknowledging notifications (cross-user contradiction alerts, import
// completions) plus a push WebSocket fed by Service.ServeWS, the same
// connection registry /sessions/{id}/ws registers into.
func (h *Handlers) registerNotificationRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /notifications", h.handleListNotifications)
	mux.HandleFunc("POST /notifications/{id}/read", h.handleMarkNotificationRead)
	mux.HandleFunc("POST /notifications/read-all", h.handleMarkAllNotificationsRead)
	mux.HandleFunc("GET /notifications/ws", h.handleNotificationsWS)
}

func (h *Handlers) requireNotify(w http.ResponseWriter, r *http.Request) bool {
	if h.notify == nil {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInvalidInput, "notifications are not configured")
		return false
	}
	return true
}

func (h *Handlers) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	if !h.requireNotify(w, r) {
		return
	}
	unreadOnly := r.URL.Query().Get("unread_only") == "true"
	limit := parseIntParam(r, "limit", 50)
	notifications, err := h.notify.List(r.Context(), claims.UserID, unreadOnly, limit)
	if err != nil {
		h.writeInternalError(w, r, "failed to list notifications", err)
		return
	}
	writeJSON(w, r, http.StatusOK, notifications)
}

func (h *Handlers) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	if !h.requireNotify(w, r) {
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid notification id")
		return
	}
	if err := h.notify.MarkRead(r.Context(), claims.UserID, id); err != nil {
		h.writeInternalError(w, r, "failed to mark notification read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleMarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	if !h.requireNotify(w, r) {
		return
	}
	if err := h.notify.MarkAllRead(r.Context(), claims.UserID); err != nil {
		h.writeInternalError(w, r, "failed to mark notifications read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleNotificationsWS(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	if !h.requireNotify(w, r) {
		return
	}
	h.notify.ServeWS(w, r, claims.UserID)
}
