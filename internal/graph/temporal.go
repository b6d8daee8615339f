package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StampSupersedes writes a SUPERSEDES edge from newer to older and applies
// the bi-temporal stamp spec.md §3/§7 requires: older's expired_at is set to
// newer's created_at, and every INVOLVES edge older still has outstanding is
// marked invalid_at at the same instant. Called by internal/analyzer's pair
// analyzer once it classifies a pair as SUPERSEDES; kept here because it is
// the Graph Writer that owns DecisionTrace/INVOLVES mutation.
func (w *Writer) StampSupersedes(ctx context.Context, newerID, olderID uuid.UUID, newerCreatedAt time.Time) error {
	_, err := w.run(ctx, `
		MATCH (newer:DecisionTrace {id: $newer_id})
		MATCH (older:DecisionTrace {id: $older_id})
		MERGE (newer)-[:SUPERSEDES]->(older)
		SET older.expired_at = datetime($newer_created_at)
		WITH older
		MATCH (older)-[inv:INVOLVES]->(:Entity)
		WHERE inv.invalid_at IS NULL
		SET inv.invalid_at = datetime($newer_created_at)
	`, map[string]any{
		"newer_id": newerID.String(), "older_id": olderID.String(),
		"newer_created_at": newerCreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("graph: stamp supersedes %s -> %s: %w", newerID, olderID, err)
	}
	return nil
}

// WriteContradicts writes a CONTRADICTS edge between two decisions, produced
// by the pair analyzer's LLM classification pass. Undirected in practice;
// stored as a single directed edge per spec.md's edge table.
func (w *Writer) WriteContradicts(ctx context.Context, aID, bID uuid.UUID, confidence float64, reasoning string) error {
	_, err := w.run(ctx, `
		MATCH (a:DecisionTrace {id: $a_id})
		MATCH (b:DecisionTrace {id: $b_id})
		MERGE (a)-[r:CONTRADICTS]->(b)
		SET r.confidence = $confidence, r.reasoning = $reasoning
	`, map[string]any{"a_id": aID.String(), "b_id": bID.String(), "confidence": confidence, "reasoning": reasoning})
	if err != nil {
		return fmt.Errorf("graph: write contradicts %s <-> %s: %w", aID, bID, err)
	}
	return nil
}
