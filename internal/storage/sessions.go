package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
)

// CreateSession persists a new interview session row. internal/interview's
// Service holds no per-session state itself; this is the record the HTTP
// layer creates on the first turn and updates on every subsequent one.
func (db *DB) CreateSession(ctx context.Context, s model.InterviewSession) error {
	messages, err := json.Marshal(s.Messages)
	if err != nil {
		return fmt.Errorf("storage: marshal session messages: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO interview_sessions (id, user_id, status, stage, messages, project_name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8)`,
		s.ID, s.UserID, s.Status, s.Stage, messages, s.ProjectName, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create session: %w", err)
	}
	return nil
}

// GetSession returns one session scoped to userID, so a caller can never
// read another user's in-progress interview.
func (db *DB) GetSession(ctx context.Context, userID, id uuid.UUID) (model.InterviewSession, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT id, user_id, status, stage, messages, project_name,
		        result_decision_ids, created_at, updated_at
		 FROM interview_sessions WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	return scanSession(row)
}

// ListActiveSessions returns a user's not-yet-finalized/abandoned sessions,
// most recently updated first.
func (db *DB) ListActiveSessions(ctx context.Context, userID uuid.UUID) ([]model.InterviewSession, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, user_id, status, stage, messages, project_name,
		        result_decision_ids, created_at, updated_at
		 FROM interview_sessions
		 WHERE user_id = $1 AND status = $2
		 ORDER BY updated_at DESC`,
		userID, model.SessionActive,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list active sessions: %w", err)
	}
	defer rows.Close()

	var out []model.InterviewSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateSessionTurn persists the message history and stage after one
// interview turn.
func (db *DB) UpdateSessionTurn(ctx context.Context, id uuid.UUID, messages []model.Message, stage string) error {
	encoded, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("storage: marshal session messages: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`UPDATE interview_sessions SET messages = $2::jsonb, stage = $3, updated_at = now()
		 WHERE id = $1`,
		id, encoded, stage,
	)
	if err != nil {
		return fmt.Errorf("storage: update session turn: %w", err)
	}
	return nil
}

// FinalizeSession marks a session finalized and records the decisions it
// produced.
func (db *DB) FinalizeSession(ctx context.Context, id uuid.UUID, decisionIDs []uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE interview_sessions
		 SET status = $2, result_decision_ids = $3, updated_at = now()
		 WHERE id = $1`,
		id, model.SessionFinalized, decisionIDs,
	)
	if err != nil {
		return fmt.Errorf("storage: finalize session: %w", err)
	}
	return nil
}

// AbandonSession marks a session abandoned without recording any decisions.
func (db *DB) AbandonSession(ctx context.Context, userID, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE interview_sessions SET status = $3, updated_at = now()
		 WHERE id = $1 AND user_id = $2`,
		id, userID, model.SessionAbandoned,
	)
	if err != nil {
		return fmt.Errorf("storage: abandon session: %w", err)
	}
	return nil
}

// scanRow is the subset of pgx.Row/pgx.Rows scanSession needs.
type scanRow interface {
	Scan(dest ...any) error
}

func scanSession(row scanRow) (model.InterviewSession, error) {
	var s model.InterviewSession
	var messages []byte
	var resultIDs []uuid.UUID
	if err := row.Scan(&s.ID, &s.UserID, &s.Status, &s.Stage, &messages, &s.ProjectName,
		&resultIDs, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return model.InterviewSession{}, fmt.Errorf("storage: scan session: %w", err)
	}
	if len(messages) > 0 {
		if err := json.Unmarshal(messages, &s.Messages); err != nil {
			return model.InterviewSession{}, fmt.Errorf("storage: unmarshal session messages: %w", err)
		}
	}
	s.ResultDecisionIDs = resultIDs
	return s, nil
}
