package retrieval

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
	"github.com/deciolog/deciolog/internal/resolver"
)

// semanticScanCap bounds the manual-cosine fallback scan, mirroring
// resolver's fuzzyBatchCap for the embedding-similarity stage.
const semanticScanCap = 500

type semanticHit struct {
	id       uuid.UUID
	score    float64
	decision *model.DecisionTrace
	entity   *model.Entity
}

// semanticSearchDecisions tries the optional ANN accelerator first (if
// configured), then a Neo4j-native gds.similarity.cosine query, then falls
// back to a manual cosine scan over a capped batch when GDS is not
// installed — the same two-tier graph pattern resolver.findByEmbedding
// uses for entity resolution, generalized from "best match" to "top-N
// above threshold", with the accelerator as an optional zeroth tier.
func (r *Retriever) semanticSearchDecisions(ctx context.Context, userID uuid.UUID, embedding []float32, threshold float64) ([]semanticHit, error) {
	if r.vectorIndex != nil {
		hits, err := r.semanticSearchDecisionsViaIndex(ctx, userID, embedding, threshold)
		if err != nil {
			r.logger.Warn("retrieval: vector index search failed, falling back to graph-native search", "error", err)
		} else {
			return hits, nil
		}
	}

	rows, err := r.runner.Run(ctx, `
		MATCH (d:DecisionTrace)
		WHERE d.user_id = $user_id AND d.embedding IS NOT NULL
		WITH d, gds.similarity.cosine(d.embedding, $embedding) AS similarity
		WHERE similarity > $threshold
		RETURN d.id AS id, d.trigger AS trigger, d.agent_decision AS agent_decision,
			d.agent_rationale AS agent_rationale, d.context AS context,
			d.confidence AS confidence, d.scope AS scope, d.source AS source,
			d.created_at AS created_at, similarity
		ORDER BY similarity DESC
		LIMIT $limit
	`, map[string]any{"user_id": userID.String(), "embedding": embedding, "threshold": threshold, "limit": lexicalCandidateLimit})
	if err == nil {
		return decisionHitsFromRows(rows, userID), nil
	}
	r.logger.Debug("retrieval: gds cosine similarity unavailable for decisions, falling back to manual scan", "error", err)
	return r.manualSemanticScanDecisions(ctx, userID, embedding, threshold)
}

func (r *Retriever) manualSemanticScanDecisions(ctx context.Context, userID uuid.UUID, embedding []float32, threshold float64) ([]semanticHit, error) {
	rows, err := r.runner.Run(ctx, `
		MATCH (d:DecisionTrace)
		WHERE d.user_id = $user_id AND d.embedding IS NOT NULL
		RETURN d.id AS id, d.trigger AS trigger, d.agent_decision AS agent_decision,
			d.agent_rationale AS agent_rationale, d.context AS context,
			d.confidence AS confidence, d.scope AS scope, d.source AS source,
			d.created_at AS created_at, d.embedding AS embedding
		LIMIT $limit
	`, map[string]any{"user_id": userID.String(), "limit": semanticScanCap})
	if err != nil {
		return nil, fmt.Errorf("retrieval: manual decision embedding scan: %w", err)
	}

	out := make([]semanticHit, 0, len(rows))
	for _, row := range rows {
		id, parseErr := uuid.Parse(rowStr(row, "id"))
		if parseErr != nil {
			continue
		}
		sim := cosineSimilarity(embedding, rowF32Slice(row, "embedding"))
		if sim <= threshold {
			continue
		}
		d := decisionFromRow(row, userID, id)
		out = append(out, semanticHit{id: id, score: sim, decision: &d})
	}
	return out, nil
}

// semanticSearchDecisionsViaIndex queries the configured ANN accelerator for
// matching decision IDs, then hydrates each from Neo4j (the source of
// truth for decision content). Results below threshold are dropped here
// since Qdrant's cosine score and gds.similarity.cosine use the same
// scale.
func (r *Retriever) semanticSearchDecisionsViaIndex(ctx context.Context, userID uuid.UUID, embedding []float32, threshold float64) ([]semanticHit, error) {
	hits, err := r.vectorIndex.Search(ctx, userID, embedding, model.QueryFilters{UserID: userID.String()}, lexicalCandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("retrieval: vector index search: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(hits))
	scoreByID := make(map[uuid.UUID]float64, len(hits))
	for _, h := range hits {
		if float64(h.Score) <= threshold {
			continue
		}
		ids = append(ids, h.DecisionID.String())
		scoreByID[h.DecisionID] = float64(h.Score)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.runner.Run(ctx, `
		MATCH (d:DecisionTrace)
		WHERE d.user_id = $user_id AND d.id IN $ids
		RETURN d.id AS id, d.trigger AS trigger, d.agent_decision AS agent_decision,
			d.agent_rationale AS agent_rationale, d.context AS context,
			d.confidence AS confidence, d.scope AS scope, d.source AS source,
			d.created_at AS created_at
	`, map[string]any{"user_id": userID.String(), "ids": ids})
	if err != nil {
		return nil, fmt.Errorf("retrieval: hydrate vector index hits: %w", err)
	}

	out := make([]semanticHit, 0, len(rows))
	for _, row := range rows {
		id, parseErr := uuid.Parse(rowStr(row, "id"))
		if parseErr != nil {
			continue
		}
		score, ok := scoreByID[id]
		if !ok {
			continue
		}
		d := decisionFromRow(row, userID, id)
		out = append(out, semanticHit{id: id, score: score, decision: &d})
	}
	return out, nil
}

func decisionHitsFromRows(rows []resolver.Row, userID uuid.UUID) []semanticHit {
	out := make([]semanticHit, 0, len(rows))
	for _, row := range rows {
		id, err := uuid.Parse(rowStr(row, "id"))
		if err != nil {
			continue
		}
		d := decisionFromRow(row, userID, id)
		out = append(out, semanticHit{id: id, score: rowF64(row, "similarity"), decision: &d})
	}
	return out
}

func decisionFromRow(row map[string]any, userID, id uuid.UUID) model.DecisionTrace {
	return model.DecisionTrace{
		ID:             id,
		UserID:         userID,
		Trigger:        rowStr(row, "trigger"),
		Context:        rowStr(row, "context"),
		AgentDecision:  rowStr(row, "agent_decision"),
		AgentRationale: rowStr(row, "agent_rationale"),
		Confidence:     rowF64(row, "confidence"),
		Scope:          model.Scope(rowStr(row, "scope")),
		Source:         model.Source(rowStr(row, "source")),
		CreatedAt:      parseRowTime(row["created_at"]),
	}
}

func (r *Retriever) semanticSearchEntities(ctx context.Context, userID uuid.UUID, embedding []float32, threshold float64) ([]semanticHit, error) {
	rows, err := r.runner.Run(ctx, `
		MATCH (d:DecisionTrace)-[:INVOLVES]->(e:Entity)
		WHERE (d.user_id = $user_id OR d.user_id IS NULL) AND e.embedding IS NOT NULL
		WITH DISTINCT e, gds.similarity.cosine(e.embedding, $embedding) AS similarity
		WHERE similarity > $threshold
		RETURN e.id AS id, e.name AS name, e.type AS type, similarity
		ORDER BY similarity DESC
		LIMIT $limit
	`, map[string]any{"user_id": userID.String(), "embedding": embedding, "threshold": threshold, "limit": lexicalCandidateLimit})
	if err == nil {
		return entityHitsFromRows(rows), nil
	}
	r.logger.Debug("retrieval: gds cosine similarity unavailable for entities, falling back to manual scan", "error", err)
	return r.manualSemanticScanEntities(ctx, userID, embedding, threshold)
}

func (r *Retriever) manualSemanticScanEntities(ctx context.Context, userID uuid.UUID, embedding []float32, threshold float64) ([]semanticHit, error) {
	rows, err := r.runner.Run(ctx, `
		MATCH (d:DecisionTrace)-[:INVOLVES]->(e:Entity)
		WHERE (d.user_id = $user_id OR d.user_id IS NULL) AND e.embedding IS NOT NULL
		RETURN DISTINCT e.id AS id, e.name AS name, e.type AS type, e.embedding AS embedding
		LIMIT $limit
	`, map[string]any{"user_id": userID.String(), "limit": semanticScanCap})
	if err != nil {
		return nil, fmt.Errorf("retrieval: manual entity embedding scan: %w", err)
	}

	out := make([]semanticHit, 0, len(rows))
	for _, row := range rows {
		id, parseErr := uuid.Parse(rowStr(row, "id"))
		if parseErr != nil {
			continue
		}
		sim := cosineSimilarity(embedding, rowF32Slice(row, "embedding"))
		if sim <= threshold {
			continue
		}
		e := model.Entity{ID: id, Name: rowStr(row, "name"), Type: model.EntityType(rowStr(row, "type"))}
		out = append(out, semanticHit{id: id, score: sim, entity: &e})
	}
	return out, nil
}

func entityHitsFromRows(rows []resolver.Row) []semanticHit {
	out := make([]semanticHit, 0, len(rows))
	for _, row := range rows {
		id, err := uuid.Parse(rowStr(row, "id"))
		if err != nil {
			continue
		}
		e := model.Entity{ID: id, Name: rowStr(row, "name"), Type: model.EntityType(rowStr(row, "type"))}
		out = append(out, semanticHit{id: id, score: rowF64(row, "similarity"), entity: &e})
	}
	return out
}

// cosineSimilarity is the manual-fallback formula; duplicated from
// resolver.cosineSimilarity rather than exported across the package
// boundary for a five-line arithmetic helper with no library equivalent
// in the pack.
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
