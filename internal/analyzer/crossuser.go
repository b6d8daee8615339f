package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
)

// crossUserScanLimit is "up to 20 most recent decisions from other users"
// per spec.md §4.5.
const crossUserScanLimit = 20

// ScanOnSave implements graph.CrossUserScanner: on save, compares the newly
// saved decision against the most recent decisions from other users in the
// same named project, and on a confident CONTRADICTS verdict writes a
// cross_user-flagged CONTRADICTS edge and notifies both users. Fire-and-
// forget by construction — called from the Graph Writer's background
// goroutine, so errors are logged, never returned.
func (a *Analyzer) ScanOnSave(ctx context.Context, saved model.DecisionTrace) {
	if saved.ProjectName == nil || *saved.ProjectName == "" {
		return
	}

	others, err := a.otherUsersRecentDecisions(ctx, saved.UserID, *saved.ProjectName)
	if err != nil {
		a.logger.Error("analyzer: cross-user scan: load candidates", "error", err, "decision", saved.ID)
		return
	}

	for _, other := range others {
		result, err := a.AnalyzePair(ctx, saved, other)
		if err != nil {
			a.logger.Error("analyzer: cross-user scan: pair analysis failed", "error", err, "a", saved.ID, "b", other.ID)
			continue
		}
		if result == nil || result.Type != relContradicts || result.Confidence < a.minPairConfidence {
			continue
		}

		if err := a.writeCrossUserContradicts(ctx, saved.ID, other.ID, result.Confidence, result.Reasoning); err != nil {
			a.logger.Error("analyzer: cross-user scan: write contradicts failed", "error", err, "a", saved.ID, "b", other.ID)
			continue
		}

		a.notifyContradiction(ctx, saved.UserID, saved, other, result)
		a.notifyContradiction(ctx, other.UserID, other, saved, result)
	}
}

func (a *Analyzer) otherUsersRecentDecisions(ctx context.Context, userID uuid.UUID, projectName string) ([]model.DecisionTrace, error) {
	rows, err := a.run(ctx, `
		MATCH (d:DecisionTrace {project_name: $project})
		WHERE d.user_id <> $user_id
		RETURN d.id AS id, d.user_id AS user_id, d.created_at AS created_at,
			d.trigger AS trigger, d.agent_decision AS decision, d.agent_rationale AS rationale
		ORDER BY d.created_at DESC
		LIMIT $limit
	`, map[string]any{"user_id": userID.String(), "project": projectName, "limit": crossUserScanLimit})
	if err != nil {
		return nil, err
	}

	out := make([]model.DecisionTrace, 0, len(rows))
	for _, row := range rows {
		id, ok1 := parseRowUUID(row, "id")
		otherUser, ok2 := parseRowUUID(row, "user_id")
		if !ok1 || !ok2 {
			continue
		}
		out = append(out, model.DecisionTrace{
			ID: id, UserID: otherUser, CreatedAt: parseGraphTime(row["created_at"]),
			Trigger: asString(row["trigger"]), AgentDecision: asString(row["decision"]), AgentRationale: asString(row["rationale"]),
		})
	}
	return out, nil
}

// writeCrossUserContradicts is WriteContradicts plus the cross_user flag
// spec.md §4.5 requires on this specific path, so downstream consumers can
// distinguish a same-user conflict from a cross-user one.
func (a *Analyzer) writeCrossUserContradicts(ctx context.Context, aID, bID uuid.UUID, confidence float64, reasoning string) error {
	_, err := a.run(ctx, `
		MATCH (a:DecisionTrace {id: $a_id}), (b:DecisionTrace {id: $b_id})
		MERGE (a)-[r:CONTRADICTS]-(b)
		SET r.confidence = $confidence, r.reasoning = $reasoning, r.cross_user = true
	`, map[string]any{"a_id": aID.String(), "b_id": bID.String(), "confidence": confidence, "reasoning": reasoning})
	if err != nil {
		return fmt.Errorf("analyzer: write cross-user contradicts: %w", err)
	}
	return nil
}

func (a *Analyzer) notifyContradiction(ctx context.Context, recipient uuid.UUID, mine, theirs model.DecisionTrace, result *PairResult) {
	if a.notifier == nil {
		return
	}
	n := model.Notification{
		ID:        uuid.New(),
		UserID:    recipient,
		Type:      model.NotificationContradiction,
		Title:     "Cross-team contradiction detected",
		Body:      fmt.Sprintf("Your decision %q may conflict with another team's decision: %s", mine.AgentDecision, result.Reasoning),
		Payload:   map[string]any{"decision_id": mine.ID.String(), "conflicting_decision_id": theirs.ID.String(), "confidence": result.Confidence},
		CreatedAt: time.Now(),
	}
	if err := a.notifier.Notify(ctx, n); err != nil {
		a.logger.Error("analyzer: cross-user scan: notify failed", "error", err, "user", recipient)
	}
}
