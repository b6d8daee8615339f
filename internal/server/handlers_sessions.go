package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/deciolog/deciolog/internal/interview"
	"github.com/deciolog/deciolog/internal/model"
)

func (h *Handlers) registerSessionRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions", h.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", h.handleGetSession)
	mux.HandleFunc("POST /sessions/{id}/messages", h.handleSessionMessage)
	mux.HandleFunc("POST /sessions/{id}/complete", h.handleSessionComplete)
	mux.HandleFunc("GET /sessions/{id}/ws", h.handleSessionWS)
}

func (h *Handlers) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	if h.db == nil {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInvalidInput, "sessions are not configured")
		return
	}

	var req struct {
		ProjectName *string `json:"project_name,omitempty"`
	}
	_ = decodeJSON(r, &req, h.maxRequestBodyBytes)

	now := time.Now()
	session := model.InterviewSession{
		ID: uuid.New(), UserID: claims.UserID, Status: model.SessionActive,
		ProjectName: req.ProjectName, CreatedAt: now, UpdatedAt: now,
	}
	if h.interview != nil {
		greeting, stage := h.interview.Process(r.Context(), nil, "")
		session.Stage = string(stage)
		session.Messages = []model.Message{{Role: model.RoleAssistant, Content: greeting, Timestamp: now}}
	}

	if err := h.db.CreateSession(r.Context(), session); err != nil {
		h.writeInternalError(w, r, "failed to create session", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, session)
}

func (h *Handlers) getSessionOr404(w http.ResponseWriter, r *http.Request, userID, id uuid.UUID) (model.InterviewSession, bool) {
	session, err := h.db.GetSession(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "session not found")
			return model.InterviewSession{}, false
		}
		h.writeInternalError(w, r, "failed to load session", err)
		return model.InterviewSession{}, false
	}
	return session, true
}

func (h *Handlers) handleGetSession(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid session id")
		return
	}
	session, ok := h.getSessionOr404(w, r, claims.UserID, id)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, session)
}

func (h *Handlers) handleSessionMessage(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	if h.interview == nil {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInvalidInput, "interviews are not configured")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid session id")
		return
	}
	session, ok := h.getSessionOr404(w, r, claims.UserID, id)
	if !ok {
		return
	}

	var req struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	reply, stage := h.interview.Process(r.Context(), session.Messages, req.Message)
	now := time.Now()
	history := append(session.Messages,
		model.Message{Role: model.RoleUser, Content: req.Message, Timestamp: now},
		model.Message{Role: model.RoleAssistant, Content: reply, Timestamp: now},
	)
	if err := h.db.UpdateSessionTurn(r.Context(), id, history, string(stage)); err != nil {
		h.writeInternalError(w, r, "failed to persist session turn", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"response": reply, "stage": stage, "messages": history})
}

func (h *Handlers) handleSessionComplete(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	if h.interview == nil {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInvalidInput, "interviews are not configured")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid session id")
		return
	}
	session, ok := h.getSessionOr404(w, r, claims.UserID, id)
	if !ok {
		return
	}

	decisions, err := h.interview.Finalize(r.Context(), claims.UserID, session.Messages)
	if err != nil {
		h.writeInternalError(w, r, "failed to finalize session", err)
		return
	}
	ids := make([]uuid.UUID, 0, len(decisions))
	for _, d := range decisions {
		ids = append(ids, d.ID)
	}
	if err := h.db.FinalizeSession(r.Context(), id, ids); err != nil {
		h.writeInternalError(w, r, "failed to mark session finalized", err)
		return
	}
	if h.agentCtx != nil {
		_ = h.agentCtx.InvalidateUser(r.Context(), claims.UserID)
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"decisions": decisions})
}

type wsInboundMessage struct {
	Message string `json:"message"`
}

type wsOutboundMessage struct {
	Response string `json:"response"`
	Stage    string `json:"stage"`
}

// handleSessionWS upgrades to a WebSocket for live back-and-forth on an
// interview session. There is no ServeWS helper in internal/notify (that
// package only tracks already-upgraded connections for push delivery), so
// the upgrade handshake, per-connection rate limiting, and history capping
// spec.md's capture-session surface calls for are implemented directly
// here using github.com/coder/websocket, the teacher's WebSocket library.
func (h *Handlers) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing claims")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid session id")
		return
	}
	session, err := h.db.GetSession(r.Context(), claims.UserID, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "session not found")
			return
		}
		h.writeInternalError(w, r, "failed to load session", err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err, "session_id", id)
		return
	}
	defer conn.CloseNow()

	if h.notifyRegistry != nil {
		h.notifyRegistry.Register(claims.UserID, conn)
		defer h.notifyRegistry.Unregister(claims.UserID, conn)
	}

	conn.SetReadLimit(h.wsMaxMessageBytesOrDefault())
	h.sessionWSLoop(r, conn, session)
}

func (h *Handlers) wsMaxMessageBytesOrDefault() int64 {
	if h.wsMaxMessageBytes > 0 {
		return h.wsMaxMessageBytes
	}
	return 10 * 1024
}

func (h *Handlers) wsMessagesPerMinuteOrDefault() int {
	if h.wsMessagesPerMinute > 0 {
		return h.wsMessagesPerMinute
	}
	return 20
}

func (h *Handlers) wsHistoryCapOrDefault() int {
	if h.wsHistoryCap > 0 {
		return h.wsHistoryCap
	}
	return 50
}

// sessionWSLoop reads one message at a time, enforcing a fixed-window
// message-per-minute cap (spec.md: 20/min default) alongside the per-frame
// size limit already set on conn, runs the turn through interview.Process,
// persists it, trims history to the cap, and writes the reply back.
func (h *Handlers) sessionWSLoop(r *http.Request, conn *websocket.Conn, session model.InterviewSession) {
	ctxBg := r.Context()
	history := session.Messages
	limiter := newFixedWindowCounter(h.wsMessagesPerMinuteOrDefault(), time.Minute)

	for {
		var in wsInboundMessage
		if err := wsjson.Read(ctxBg, conn, &in); err != nil {
			return
		}
		if !limiter.Allow() {
			_ = wsjson.Write(ctxBg, conn, wsOutboundMessage{Response: "rate limit exceeded, slow down", Stage: "rate_limited"})
			continue
		}

		var reply string
		var stage interview.Stage
		if h.interview != nil {
			reply, stage = h.interview.Process(ctxBg, history, in.Message)
		} else {
			reply, stage = "interviews are not configured", ""
		}

		now := time.Now()
		history = append(history, model.Message{Role: model.RoleUser, Content: in.Message, Timestamp: now})
		history = append(history, model.Message{Role: model.RoleAssistant, Content: reply, Timestamp: now})
		if cap := h.wsHistoryCapOrDefault(); len(history) > cap {
			history = history[len(history)-cap:]
		}

		if err := h.db.UpdateSessionTurn(ctxBg, session.ID, history, string(stage)); err != nil {
			h.logger.Warn("failed to persist websocket session turn", "error", err, "session_id", session.ID)
		}

		if err := wsjson.Write(ctxBg, conn, wsOutboundMessage{Response: reply, Stage: string(stage)}); err != nil {
			return
		}
	}
}

// fixedWindowCounter is a minimal per-connection rate limiter: it does not
// need internal/ratelimit's Redis-backed, multi-process Limiter since a
// WebSocket connection's message cadence is inherently single-process,
// single-connection state.
type fixedWindowCounter struct {
	limit      int
	window     time.Duration
	windowOpen time.Time
	count      int
}

func newFixedWindowCounter(limit int, window time.Duration) *fixedWindowCounter {
	return &fixedWindowCounter{limit: limit, window: window, windowOpen: time.Now()}
}

func (f *fixedWindowCounter) Allow() bool {
	now := time.Now()
	if now.Sub(f.windowOpen) > f.window {
		f.windowOpen = now
		f.count = 0
	}
	f.count++
	return f.count <= f.limit
}
