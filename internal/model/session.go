package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is an InterviewSession's lifecycle state.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionFinalized SessionStatus = "finalized"
	SessionAbandoned SessionStatus = "abandoned"
)

// InterviewSession is a relational row backing internal/interview's
// turn-by-turn clarification flow: the HTTP layer persists the message
// history and current stage here between turns, since internal/interview's
// Service itself holds no per-session state (SPEC_FULL.md §4's Interview
// mode, "the HTTP layer tracks" the session record).
type InterviewSession struct {
	ID                uuid.UUID     `json:"id"`
	UserID            uuid.UUID     `json:"user_id"`
	Status            SessionStatus `json:"status"`
	Stage             string        `json:"stage"`
	Messages          []Message     `json:"messages"`
	ProjectName       *string       `json:"project_name,omitempty"`
	ResultDecisionIDs []uuid.UUID   `json:"result_decision_ids,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}
