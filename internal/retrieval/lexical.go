package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
)

// lexicalScoreDivisor and the [0,1] clip are spec.md §4.7 step 2's raw
// full-text score normalization.
const lexicalScoreDivisor = 10.0

// lexicalCandidateLimit bounds how many fulltext hits are considered before
// the combine step; over-fetched the same way the teacher's QdrantIndex
// over-fetches limit*3 to allow downstream re-scoring.
const lexicalCandidateLimit = 50

type lexicalDecisionHit struct {
	decision      model.DecisionTrace
	score         float64
	matchedFields []model.MatchedField
}

type lexicalEntityHit struct {
	entity model.Entity
	score  float64
}

// lexicalSearchDecisions queries the decision_fulltext index (assumed
// provisioned over trigger/context/agent_decision/agent_rationale) and
// separately checks which of those fields actually contains the query
// text, since Neo4j's fulltext score alone doesn't say which property
// matched.
func (r *Retriever) lexicalSearchDecisions(ctx context.Context, userID uuid.UUID, query string) ([]lexicalDecisionHit, error) {
	rows, err := r.runner.Run(ctx, fmt.Sprintf(`
		CALL db.index.fulltext.queryNodes('%s', $query)
		YIELD node, score
		WHERE node.user_id = $user_id
		RETURN node.id AS id, node.trigger AS trigger, node.context AS context,
			node.agent_decision AS agent_decision, node.agent_rationale AS agent_rationale,
			node.confidence AS confidence, node.created_at AS created_at,
			node.scope AS scope, node.source AS source, score
		ORDER BY score DESC
		LIMIT $limit
	`, decisionFulltextIndex), map[string]any{"query": query, "user_id": userID.String(), "limit": lexicalCandidateLimit})
	if err != nil {
		return nil, fmt.Errorf("retrieval: lexical decision search: %w", err)
	}

	lowerQuery := strings.ToLower(query)
	out := make([]lexicalDecisionHit, 0, len(rows))
	for _, row := range rows {
		id, err := uuid.Parse(rowStr(row, "id"))
		if err != nil {
			continue
		}
		d := model.DecisionTrace{
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

		var matched []model.MatchedField
		if strings.Contains(strings.ToLower(d.Trigger), lowerQuery) {
			matched = append(matched, model.MatchedTrigger)
		}
		if strings.Contains(strings.ToLower(d.AgentDecision), lowerQuery) {
			matched = append(matched, model.MatchedDecision)
		}
		if strings.Contains(strings.ToLower(d.Context), lowerQuery) {
			matched = append(matched, model.MatchedContext)
		}
		if strings.Contains(strings.ToLower(d.AgentRationale), lowerQuery) {
			matched = append(matched, model.MatchedRationale)
		}

		out = append(out, lexicalDecisionHit{
			decision:      d,
			score:         normalizeLexicalScore(rowF64(row, "score")),
			matchedFields: matched,
		})
	}
	return out, nil
}

func (r *Retriever) lexicalSearchEntities(ctx context.Context, userID uuid.UUID, query string) ([]lexicalEntityHit, error) {
	rows, err := r.runner.Run(ctx, `
		CALL db.index.fulltext.queryNodes('entity_fulltext', $query)
		YIELD node, score
		MATCH (d:DecisionTrace)-[:INVOLVES]->(node)
		WHERE d.user_id = $user_id OR d.user_id IS NULL
		RETURN DISTINCT node.id AS id, node.name AS name, node.type AS type, score
		ORDER BY score DESC
		LIMIT $limit
	`, map[string]any{"query": query, "user_id": userID.String(), "limit": lexicalCandidateLimit})
	if err != nil {
		return nil, fmt.Errorf("retrieval: lexical entity search: %w", err)
	}

	out := make([]lexicalEntityHit, 0, len(rows))
	for _, row := range rows {
		id, err := uuid.Parse(rowStr(row, "id"))
		if err != nil {
			continue
		}
		out = append(out, lexicalEntityHit{
			entity: model.Entity{ID: id, Name: rowStr(row, "name"), Type: model.EntityType(rowStr(row, "type"))},
			score:  normalizeLexicalScore(rowF64(row, "score")),
		})
	}
	return out, nil
}

func normalizeLexicalScore(raw float64) float64 {
	n := raw / lexicalScoreDivisor
	if n > 1 {
		return 1
	}
	if n < 0 {
		return 0
	}
	return n
}

func rowStr(row map[string]any, key string) string {
	s, _ := row[key].(string)
	return s
}

func rowF64(row map[string]any, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

func rowF32Slice(row map[string]any, key string) []float32 {
	raw, ok := row[key].([]any)
	if !ok {
		if s, ok := row[key].([]float32); ok {
			return s
		}
		return nil
	}
	out := make([]float32, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			out = append(out, float32(n))
		case float32:
			out = append(out, n)
		}
	}
	return out
}

func parseRowTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err == nil {
			return parsed
		}
	}
	return time.Time{}
}
