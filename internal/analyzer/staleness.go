package analyzer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
)

// StaleDecision is one decision past its scope's staleness threshold,
// carrying enough of the node to rank and report it without a second fetch.
type StaleDecision struct {
	ID            uuid.UUID
	Scope         model.Scope
	AgentDecision string
	Anchor        time.Time // max(created_at, last_reviewed_at)
	OverdueBy     time.Duration
}

// ScanStale reports every stale decision for a user, sorted by how far past
// its threshold it is (worst first), per spec.md §4.5's staleness sweep:
// days_since_anchor = now - coalesce(last_reviewed_at, created_at); stale if
// it exceeds the scope's threshold (model.StalenessThreshold).
func (a *Analyzer) ScanStale(ctx context.Context, userID uuid.UUID, now time.Time) ([]StaleDecision, error) {
	rows, err := a.run(ctx, `
		MATCH (d:DecisionTrace {user_id: $user_id})
		RETURN d.id AS id, d.scope AS scope, d.agent_decision AS agent_decision,
			d.created_at AS created_at, d.last_reviewed_at AS last_reviewed_at
	`, map[string]any{"user_id": userID.String()})
	if err != nil {
		return nil, fmt.Errorf("analyzer: scan stale: %w", err)
	}

	var out []StaleDecision
	for _, row := range rows {
		id, ok := parseRowUUID(row, "id")
		if !ok {
			continue
		}
		scope := model.Scope(asString(row["scope"]))
		createdAt := parseGraphTime(row["created_at"])

		var lastReviewed *time.Time
		if row["last_reviewed_at"] != nil {
			t := parseGraphTime(row["last_reviewed_at"])
			if !t.IsZero() {
				lastReviewed = &t
			}
		}

		if !model.IsStale(scope, createdAt, lastReviewed, now) {
			continue
		}

		anchor := createdAt
		if lastReviewed != nil && lastReviewed.After(anchor) {
			anchor = *lastReviewed
		}
		overdue := now.Sub(anchor) - model.StalenessThreshold(scope)

		out = append(out, StaleDecision{
			ID: id, Scope: scope, AgentDecision: asString(row["agent_decision"]),
			Anchor: anchor, OverdueBy: overdue,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].OverdueBy > out[j].OverdueBy })
	return out, nil
}

// MarkReviewed stamps last_reviewed_at on a decision, resetting its
// staleness anchor to now.
func (a *Analyzer) MarkReviewed(ctx context.Context, decisionID uuid.UUID, now time.Time) error {
	_, err := a.run(ctx, `
		MATCH (d:DecisionTrace {id: $id})
		SET d.last_reviewed_at = $now
	`, map[string]any{"id": decisionID.String(), "now": now.Format(time.RFC3339Nano)})
	if err != nil {
		return fmt.Errorf("analyzer: mark reviewed: %w", err)
	}
	return nil
}
