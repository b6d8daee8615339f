package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deciolog/deciolog/internal/model"
)

func newJobAudit(userID uuid.UUID) model.JobAudit {
	now := time.Now().UTC().Truncate(time.Second)
	return model.JobAudit{
		ID:                 uuid.New(),
		JobID:              uuid.New().String(),
		UserID:             userID,
		Status:             "completed",
		TotalFiles:         3,
		ProcessedFiles:     3,
		DecisionsExtracted: 7,
		StartedAt:          now.Add(-time.Minute),
		CompletedAt:        now,
	}
}

func TestRecordAndListJobAudit(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	a := newJobAudit(userID)

	require.NoError(t, testDB.RecordJobAudit(ctx, a))

	audits, err := testDB.ListJobAudits(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, a.JobID, audits[0].JobID)
	assert.Equal(t, 7, audits[0].DecisionsExtracted)
}

func TestListJobAudits_ScopedToUser(t *testing.T) {
	ctx := context.Background()
	userA, userB := uuid.New(), uuid.New()
	require.NoError(t, testDB.RecordJobAudit(ctx, newJobAudit(userA)))
	require.NoError(t, testDB.RecordJobAudit(ctx, newJobAudit(userB)))

	audits, err := testDB.ListJobAudits(ctx, userA, 10)
	require.NoError(t, err)
	for _, a := range audits {
		assert.Equal(t, userA, a.UserID)
	}
}

func TestRecordJobAudit_WithErrors(t *testing.T) {
	ctx := context.Background()
	a := newJobAudit(uuid.New())
	a.Status = "completed_with_errors"
	a.Errors = []string{"file:bad.jsonl", "extract:weird.jsonl"}

	require.NoError(t, testDB.RecordJobAudit(ctx, a))

	audits, err := testDB.ListJobAudits(ctx, a.UserID, 10)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, a.Errors, audits[0].Errors)
}
