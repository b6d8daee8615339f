package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
)

// InsertNotification persists a new Notification row. The row's ID and
// CreatedAt are assigned by the caller (internal/notify), matching this
// package's convention of generating IDs application-side rather than via a
// DEFAULT clause.
func (db *DB) InsertNotification(ctx context.Context, n model.Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("storage: marshal notification payload: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO notifications (id, user_id, type, title, body, payload, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)`,
		n.ID, n.UserID, n.Type, n.Title, n.Body, payload, n.Read, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns a user's notifications newest-first, optionally
// restricted to unread ones.
func (db *DB) ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, user_id, type, title, body, payload, read, created_at
	          FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += " AND read = false"
	}
	query += " ORDER BY created_at DESC LIMIT $2"

	rows, err := db.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list notifications: %w", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		var payload []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &payload, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan notification: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &n.Payload); err != nil {
				return nil, fmt.Errorf("storage: unmarshal notification payload: %w", err)
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead marks one notification read, scoped to userID so a
// caller can never mark another user's notification.
func (db *DB) MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE notifications SET read = true WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("storage: mark notification read: %w", err)
	}
	return nil
}

// MarkAllNotificationsRead marks every unread notification for userID read.
func (db *DB) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE notifications SET read = true WHERE user_id = $1 AND read = false`, userID)
	if err != nil {
		return fmt.Errorf("storage: mark all notifications read: %w", err)
	}
	return nil
}
