// Package notify implements spec.md §4.10's notification delivery: durable
// persistence plus best-effort push to any open WebSocket connections for
// the recipient user.
//
// Grounded on the teacher's internal/server.Broker (Postgres LISTEN/NOTIFY
// fanned out to SSE subscribers, org-scoped, non-blocking broadcast that
// drops slow subscribers) — adapted from SSE/org-scoped to WebSocket/
// user-scoped, and from a single Postgres channel to a direct Go-level
// registry since spec.md's delivery model has no external bus between the
// analyzer (the producer) and the connection registry (the consumer): both
// live in the same process.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// writeTimeout bounds how long Push waits for a single connection's write,
// mirroring the broker's "a slow subscriber never blocks the others"
// guarantee without a channel-based buffer (coder/websocket.Conn has no
// buffered send queue of its own).
const writeTimeout = 5 * time.Second

// Registry is a process-local user_id -> set<connection> map. It has no
// cross-process fan-out: a deployment with more than one server process
// needs a pub/sub layer in front of it (this is the same limitation the
// teacher's Broker has per-process, just one hop earlier).
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[uuid.UUID]map[*websocket.Conn]struct{}
}

// NewRegistry returns an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger, conns: make(map[uuid.UUID]map[*websocket.Conn]struct{})}
}

// Register adds a connection for userID. Callers must Unregister the same
// connection when it closes.
func (r *Registry) Register(userID uuid.UUID, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[*websocket.Conn]struct{})
		r.conns[userID] = set
	}
	set[conn] = struct{}{}
}

// Unregister removes a connection, pruning the user's entry entirely once
// empty so Registry never accumulates empty sets for users who disconnect.
func (r *Registry) Unregister(userID uuid.UUID, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[userID]
	if !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(r.conns, userID)
	}
}

// Push writes data as a text WebSocket frame to every open connection for
// userID. A connection whose write fails or times out is treated as dead:
// it is closed and pruned from the registry rather than retried.
func (r *Registry) Push(ctx context.Context, userID uuid.UUID, data []byte) {
	r.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(r.conns[userID]))
	for conn := range r.conns[userID] {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			r.logger.Warn("notify: dropping dead connection", "user_id", userID, "error", err)
			conn.CloseNow()
			r.Unregister(userID, conn)
		}
	}
}
