package model

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType classifies a Notification row.
type NotificationType string

const (
	NotificationContradiction     NotificationType = "contradiction"
	NotificationAssumptionInvalid NotificationType = "assumption_invalid"
	NotificationStaleDecision     NotificationType = "stale_decision"
	NotificationDormantAlternative NotificationType = "dormant_alternative"
)

// Notification is a relational row: a durable, user-facing alert that is
// also pushed best-effort to any open WebSocket connections for the
// recipient user.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    uuid.UUID        `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Payload   map[string]any   `json:"payload,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}
