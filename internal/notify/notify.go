package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
)

// Store is the subset of *storage.DB the notification service needs.
type Store interface {
	InsertNotification(ctx context.Context, n model.Notification) error
	ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) error
	MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) error
}

// Service persists notifications and pushes them to open WebSocket
// connections. It implements internal/analyzer.Notifier.
type Service struct {
	store    Store
	registry *Registry
	logger   *slog.Logger
}

// New returns a Service. registry may be nil to disable the WebSocket push
// half entirely (notifications are still persisted and listable).
func New(store Store, registry *Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, registry: registry, logger: logger}
}

// Notify persists n (assigning ID/CreatedAt if unset) and pushes it
// best-effort to any open connections for n.UserID. Push failures never
// fail the call — the notification is already durable once persisted.
func (s *Service) Notify(ctx context.Context, n model.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	if err := s.store.InsertNotification(ctx, n); err != nil {
		return fmt.Errorf("notify: persist notification: %w", err)
	}

	if s.registry != nil {
		data, err := json.Marshal(n)
		if err != nil {
			s.logger.Warn("notify: marshal notification for push failed", "notification_id", n.ID, "error", err)
			return nil
		}
		s.registry.Push(ctx, n.UserID, data)
	}
	return nil
}

// List returns userID's notifications newest-first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]model.Notification, error) {
	notifications, err := s.store.ListNotifications(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: list: %w", err)
	}
	return notifications, nil
}

// MarkRead marks one notification read.
func (s *Service) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	if err := s.store.MarkNotificationRead(ctx, userID, id); err != nil {
		return fmt.Errorf("notify: mark read: %w", err)
	}
	return nil
}

// MarkAllRead marks every unread notification for userID read.
func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	if err := s.store.MarkAllNotificationsRead(ctx, userID); err != nil {
		return fmt.Errorf("notify: mark all read: %w", err)
	}
	return nil
}
