package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrIdempotencyInProgress is returned by BeginIdempotency when another
// request with the same key is still being processed.
var ErrIdempotencyInProgress = errors.New("storage: idempotency key already in progress")

// ErrIdempotencyPayloadMismatch is returned by BeginIdempotency when a key is
// reused with a request body that hashes differently than the original.
var ErrIdempotencyPayloadMismatch = errors.New("storage: idempotency key reused with different payload")

// IdempotencyLookup is the result of reserving or replaying an idempotency key.
type IdempotencyLookup struct {
	Completed    bool
	StatusCode   int
	ResponseData []byte
}

// BeginIdempotency reserves (userID, endpoint, key) for an in-flight write, or
// replays the stored response if the same request already completed. A row
// already marked in-progress (request_hash set, completed_at null) younger
// than inProgressTTL yields ErrIdempotencyInProgress; once expired, a retry
// is allowed to claim the slot (the original caller is assumed dead).
func (db *DB) BeginIdempotency(ctx context.Context, userID uuid.UUID, endpoint, key, requestHash string, inProgressTTL time.Duration) (IdempotencyLookup, error) {
	var (
		existingHash       string
		completed          bool
		statusCode         int
		responseData       []byte
		reservedAt         time.Time
		existingFound      bool
	)
	err := db.pool.QueryRow(ctx,
		`SELECT request_hash, completed, status_code, response_data, reserved_at
		 FROM idempotency_keys WHERE user_id = $1 AND endpoint = $2 AND idempotency_key = $3`,
		userID, endpoint, key,
	).Scan(&existingHash, &completed, &statusCode, &responseData, &reservedAt)

	switch {
	case err == nil:
		existingFound = true
	case errors.Is(err, pgx.ErrNoRows):
		existingFound = false
	default:
		return IdempotencyLookup{}, fmt.Errorf("storage: lookup idempotency key: %w", err)
	}

	if existingFound {
		if completed {
			if existingHash != requestHash {
				return IdempotencyLookup{}, ErrIdempotencyPayloadMismatch
			}
			return IdempotencyLookup{Completed: true, StatusCode: statusCode, ResponseData: responseData}, nil
		}
		if time.Since(reservedAt) < inProgressTTL {
			if existingHash != requestHash {
				return IdempotencyLookup{}, ErrIdempotencyPayloadMismatch
			}
			return IdempotencyLookup{}, ErrIdempotencyInProgress
		}
		// Stale in-progress reservation; fall through and re-claim it.
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO idempotency_keys (user_id, endpoint, idempotency_key, request_hash, completed, reserved_at)
		 VALUES ($1, $2, $3, $4, false, now())
		 ON CONFLICT (user_id, endpoint, idempotency_key)
		 DO UPDATE SET request_hash = EXCLUDED.request_hash, completed = false,
		               status_code = NULL, response_data = NULL, reserved_at = now()`,
		userID, endpoint, key, requestHash,
	)
	if err != nil {
		return IdempotencyLookup{}, fmt.Errorf("storage: reserve idempotency key: %w", err)
	}
	return IdempotencyLookup{}, nil
}

// CompleteIdempotency records the final response for a reserved key so
// subsequent retries replay it instead of re-running the write.
func (db *DB) CompleteIdempotency(ctx context.Context, userID uuid.UUID, endpoint, key string, statusCode int, data any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("storage: marshal idempotency response: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`UPDATE idempotency_keys SET completed = true, status_code = $4, response_data = $5
		 WHERE user_id = $1 AND endpoint = $2 AND idempotency_key = $3`,
		userID, endpoint, key, statusCode, encoded,
	)
	if err != nil {
		return fmt.Errorf("storage: complete idempotency key: %w", err)
	}
	return nil
}

// ClearInProgressIdempotency removes a reservation that never completed
// (e.g. the handler errored before reaching CompleteIdempotency), so a retry
// with the same key does not wait out the in-progress TTL unnecessarily.
func (db *DB) ClearInProgressIdempotency(ctx context.Context, userID uuid.UUID, endpoint, key string) error {
	_, err := db.pool.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE user_id = $1 AND endpoint = $2 AND idempotency_key = $3 AND completed = false`,
		userID, endpoint, key,
	)
	if err != nil {
		return fmt.Errorf("storage: clear in-progress idempotency key: %w", err)
	}
	return nil
}
