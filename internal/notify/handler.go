package notify

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// ServeWS upgrades the request to a WebSocket connection and registers it
// for userID's push notifications. It blocks until the connection closes
// (by the client, by a read error, or by the request context being cancelled),
// then unregisters and closes it. The connection is push-only from the
// server's side: CloseRead hands the read loop to the library so pings and
// the close handshake are answered without a caller-managed read loop.
func (s *Service) ServeWS(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	if s.registry == nil {
		http.Error(w, "notifications: push disabled", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("notify: websocket accept failed", "user_id", userID, "error", err)
		return
	}
	defer conn.CloseNow()

	s.registry.Register(userID, conn)
	defer s.registry.Unregister(userID, conn)

	ctx := conn.CloseRead(r.Context())
	<-ctx.Done()
	conn.Close(websocket.StatusNormalClosure, "")
}
