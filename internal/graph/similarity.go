package graph

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
)

// writeSimilarTo implements spec.md §4.4 step 5: find other same-user
// DecisionTrace nodes with cosine similarity >= similarityThreshold, tier
// them high/moderate against highConfidenceSimilarityThreshold, and keep
// only the top 5 by score.
func (w *Writer) writeSimilarTo(ctx context.Context, d model.DecisionTrace) error {
	rows, err := w.run(ctx, `
		MATCH (other:DecisionTrace)
		WHERE other.user_id = $user_id AND other.id <> $id AND other.embedding IS NOT NULL
		RETURN other.id AS id, other.embedding AS embedding
	`, map[string]any{"user_id": d.UserID.String(), "id": d.ID.String()})
	if err != nil {
		return fmt.Errorf("similar_to candidates: %w", err)
	}

	candidates := make([]scoredRow, 0, len(rows))
	for _, row := range rows {
		idStr, _ := row["id"].(string)
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		embedding, ok := toFloat32Slice(row["embedding"])
		if !ok {
			continue
		}
		score := cosineSimilarity(d.Embedding, embedding)
		if score >= w.similarityThreshold {
			candidates = append(candidates, scoredRow{ID: id, Score: score})
		}
	}

	sortByScoreDesc(candidates)
	if len(candidates) > 5 {
		candidates = candidates[:5]
	}

	for _, c := range candidates {
		tier := model.SimilarityModerate
		if c.Score >= w.highConfidenceSimilarityThreshold {
			tier = model.SimilarityHigh
		}
		_, err := w.run(ctx, `
			MATCH (d:DecisionTrace {id: $decision_id})
			MATCH (o:DecisionTrace {id: $other_id})
			MERGE (d)-[r:SIMILAR_TO]->(o)
			SET r.score = $score, r.tier = $tier
		`, map[string]any{
			"decision_id": d.ID.String(), "other_id": c.ID.String(),
			"score": c.Score, "tier": string(tier),
		})
		if err != nil {
			return fmt.Errorf("write similar_to %s: %w", c.ID, err)
		}
	}
	return nil
}

// writeInfluencedBy implements spec.md §4.4 step 6: older same-user
// decisions sharing at least 2 entities with this one.
func (w *Writer) writeInfluencedBy(ctx context.Context, d model.DecisionTrace) error {
	_, err := w.run(ctx, `
		MATCH (d:DecisionTrace {id: $decision_id})-[:INVOLVES]->(e:Entity)<-[:INVOLVES]-(other:DecisionTrace)
		WHERE other.user_id = $user_id AND other.id <> $decision_id AND other.created_at < d.created_at
		WITH other, count(DISTINCT e) AS shared
		WHERE shared >= 2
		MATCH (d:DecisionTrace {id: $decision_id})
		MERGE (d)-[r:INFLUENCED_BY]->(other)
		SET r.shared_entities = shared
	`, map[string]any{"decision_id": d.ID.String(), "user_id": d.UserID.String()})
	return err
}

// writeFollowsPrecedes implements spec.md §4.4 step 7: link to every
// same-(user,project) decision with a strictly lower turn_index.
func (w *Writer) writeFollowsPrecedes(ctx context.Context, d model.DecisionTrace) error {
	var projectName string
	if d.ProjectName != nil {
		projectName = *d.ProjectName
	}
	_, err := w.run(ctx, `
		MATCH (d:DecisionTrace {id: $decision_id})
		MATCH (other:DecisionTrace)
		WHERE other.user_id = $user_id AND other.project_name = $project_name
			AND other.id <> $decision_id AND other.turn_index < $turn_index
		MERGE (d)-[:FOLLOWS]->(other)
		MERGE (other)-[:PRECEDES]->(d)
	`, map[string]any{
		"decision_id": d.ID.String(), "user_id": d.UserID.String(),
		"project_name": projectName, "turn_index": *d.TurnIndex,
	})
	return err
}

// toFloat32Slice coerces a Cypher-returned numeric list (driver values come
// back as []any of float64) into []float32 for cosine comparison.
func toFloat32Slice(v any) ([]float32, bool) {
	switch vals := v.(type) {
	case []float32:
		return vals, true
	case []any:
		out := make([]float32, len(vals))
		for i, item := range vals {
			f, ok := item.(float64)
			if !ok {
				return nil, false
			}
			out[i] = float32(f)
		}
		return out, true
	default:
		return nil, false
	}
}

// cosineSimilarity mirrors resolver's unexported helper of the same name;
// duplicated rather than exported across packages for a three-line function.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
