package model

import (
	"time"

	"github.com/google/uuid"
)

// JobAudit is a durable record of one completed ingestion job, distinct
// from internal/ingest/coordinator's Redis-backed live Progress: Progress
// answers "what is running right now" and expires after jobTTL, JobAudit
// answers "what ran, ever" for a user's own history and troubleshooting.
type JobAudit struct {
	ID                 uuid.UUID `json:"id"`
	JobID              string    `json:"job_id"`
	UserID             uuid.UUID `json:"user_id"`
	Status             string    `json:"status"`
	TotalFiles         int       `json:"total_files"`
	ProcessedFiles     int       `json:"processed_files"`
	DecisionsExtracted int       `json:"decisions_extracted"`
	Errors             []string  `json:"errors,omitempty"`
	StartedAt          time.Time `json:"started_at"`
	CompletedAt        time.Time `json:"completed_at"`
}
