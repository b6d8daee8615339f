package notify

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/deciolog/deciolog/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeStore struct {
	inserted []model.Notification
	listed   []model.Notification
	readIDs  []uuid.UUID
	markAll  bool
}

func (f *fakeStore) InsertNotification(_ context.Context, n model.Notification) error {
	f.inserted = append(f.inserted, n)
	return nil
}

func (f *fakeStore) ListNotifications(_ context.Context, _ uuid.UUID, _ bool, _ int) ([]model.Notification, error) {
	return f.listed, nil
}

func (f *fakeStore) MarkNotificationRead(_ context.Context, _, id uuid.UUID) error {
	f.readIDs = append(f.readIDs, id)
	return nil
}

func (f *fakeStore) MarkAllNotificationsRead(_ context.Context, _ uuid.UUID) error {
	f.markAll = true
	return nil
}

func TestNotifyPersistsAndAssignsDefaults(t *testing.T) {
	store := &fakeStore{}
	svc := New(store, nil, testLogger())

	userID := uuid.New()
	err := svc.Notify(context.Background(), model.Notification{
		UserID: userID, Type: model.NotificationContradiction, Title: "conflict", Body: "a vs b",
	})
	require.NoError(t, err)
	require.Len(t, store.inserted, 1)
	require.NotEqual(t, uuid.Nil, store.inserted[0].ID)
	require.False(t, store.inserted[0].CreatedAt.IsZero())
}

func TestMarkReadAndMarkAllRead(t *testing.T) {
	store := &fakeStore{}
	svc := New(store, nil, testLogger())
	userID, notifID := uuid.New(), uuid.New()

	require.NoError(t, svc.MarkRead(context.Background(), userID, notifID))
	require.Equal(t, []uuid.UUID{notifID}, store.readIDs)

	require.NoError(t, svc.MarkAllRead(context.Background(), userID))
	require.True(t, store.markAll)
}

// TestRegistryPushDeliversAndPrunesOnClose exercises the full WebSocket
// round trip: a real connection is registered via ServeWS, a push is
// delivered over it, then the client disconnects and ServeWS unregisters
// the closed connection from the registry.
func TestRegistryPushDeliversAndPrunesOnClose(t *testing.T) {
	userID := uuid.New()
	store := &fakeStore{}
	registry := NewRegistry(testLogger())
	svc := New(store, registry, testLogger())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		svc.ServeWS(w, r, userID)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	require.NoError(t, err)

	// Give ServeWS a moment to register the connection before pushing.
	require.Eventually(t, func() bool {
		registry.mu.RLock()
		defer registry.mu.RUnlock()
		return len(registry.conns[userID]) == 1
	}, time.Second, 10*time.Millisecond)

	registry.Push(context.Background(), userID, []byte(`{"title":"hello"}`))

	readCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, data, err := conn.Read(readCtx)
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"hello"}`, string(data))

	conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		registry.mu.RLock()
		defer registry.mu.RUnlock()
		return len(registry.conns[userID]) == 0
	}, time.Second, 10*time.Millisecond)
}
