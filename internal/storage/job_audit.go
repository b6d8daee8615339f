package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
)

// RecordJobAudit persists one completed ingestion job's final outcome,
// independent of internal/ingest/coordinator's Redis-backed live Progress
// (which expires after jobTTL). Called once per job, at completion.
func (db *DB) RecordJobAudit(ctx context.Context, a model.JobAudit) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO job_audit (id, job_id, user_id, status, total_files, processed_files,
		 decisions_extracted, errors, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.JobID, a.UserID, a.Status, a.TotalFiles, a.ProcessedFiles,
		a.DecisionsExtracted, a.Errors, a.StartedAt, a.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: record job audit: %w", err)
	}
	return nil
}

// ListJobAudits returns a user's completed ingestion jobs, newest first.
func (db *DB) ListJobAudits(ctx context.Context, userID uuid.UUID, limit int) ([]model.JobAudit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, job_id, user_id, status, total_files, processed_files,
		        decisions_extracted, errors, started_at, completed_at
		 FROM job_audit WHERE user_id = $1
		 ORDER BY completed_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list job audits: %w", err)
	}
	defer rows.Close()

	var out []model.JobAudit
	for rows.Next() {
		var a model.JobAudit
		if err := rows.Scan(&a.ID, &a.JobID, &a.UserID, &a.Status, &a.TotalFiles, &a.ProcessedFiles,
			&a.DecisionsExtracted, &a.Errors, &a.StartedAt, &a.CompletedAt); err != nil {
			return nil, fmt.Errorf("storage: scan job audit: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
