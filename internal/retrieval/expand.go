package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
	"github.com/deciolog/deciolog/internal/resolver"
)

// expansionRelPattern renders expansionRelationships into a Cypher
// relationship-type disjunction, e.g. "INVOLVES|FOLLOWS|PRECEDES|RELATED_TO".
func expansionRelPattern() string {
	types := make([]string, len(expansionRelationships))
	for i, t := range expansionRelationships {
		types[i] = string(t)
	}
	return strings.Join(types, "|")
}

// expand traverses 1-2 hops from each seed candidate across
// expansionRelationships (spec.md §4.7 step 4), scoring each newly
// discovered node at origin-score × graphExpansionDecay per hop.
func (r *Retriever) expand(ctx context.Context, userID uuid.UUID, seeds []*candidate, depth int) ([]*candidate, error) {
	if depth > 2 {
		depth = 2
	}

	out := make(map[uuid.UUID]*candidate)
	for _, seed := range seeds {
		originScore := seed.lexicalScore + seed.semanticScore
		if originScore == 0 {
			continue
		}
		if seed.decision != nil {
			if err := r.expandFromDecision(ctx, userID, seed.decision.ID, originScore, depth, out); err != nil {
				return nil, err
			}
		} else if seed.entity != nil {
			if err := r.expandFromEntity(ctx, userID, seed.entity.ID, originScore, depth, out); err != nil {
				return nil, err
			}
		}
	}

	expanded := make([]*candidate, 0, len(out))
	for _, c := range out {
		expanded = append(expanded, c)
	}
	return expanded, nil
}

func (r *Retriever) expandFromDecision(ctx context.Context, userID, decisionID uuid.UUID, originScore float64, depth int, out map[uuid.UUID]*candidate) error {
	rows, err := r.runner.Run(ctx, `
		MATCH (origin:DecisionTrace {id: $origin_id})
		MATCH path = (origin)-[:`+expansionRelPattern()+`*1..`+hopRange(depth)+`]-(n)
		WHERE (n.user_id = $user_id OR n.user_id IS NULL) AND n <> origin
		RETURN DISTINCT n.id AS id, labels(n) AS labels, n.name AS name, n.type AS type,
			n.trigger AS trigger, n.agent_decision AS agent_decision, n.agent_rationale AS agent_rationale,
			n.context AS context, n.confidence AS confidence, n.scope AS scope, n.source AS source,
			n.created_at AS created_at, length(path) AS hops
	`, map[string]any{"origin_id": decisionID.String(), "user_id": userID.String()})
	if err != nil {
		return fmt.Errorf("retrieval: graph expansion from decision %s: %w", decisionID, err)
	}
	absorbExpansionRows(rows, userID, originScore, out)
	return nil
}

func (r *Retriever) expandFromEntity(ctx context.Context, userID, entityID uuid.UUID, originScore float64, depth int, out map[uuid.UUID]*candidate) error {
	rows, err := r.runner.Run(ctx, `
		MATCH (origin:Entity {id: $origin_id})
		MATCH path = (origin)-[:`+expansionRelPattern()+`*1..`+hopRange(depth)+`]-(n)
		WHERE (n.user_id = $user_id OR n.user_id IS NULL) AND n <> origin
		RETURN DISTINCT n.id AS id, labels(n) AS labels, n.name AS name, n.type AS type,
			n.trigger AS trigger, n.agent_decision AS agent_decision, n.agent_rationale AS agent_rationale,
			n.context AS context, n.confidence AS confidence, n.scope AS scope, n.source AS source,
			n.created_at AS created_at, length(path) AS hops
	`, map[string]any{"origin_id": entityID.String(), "user_id": userID.String()})
	if err != nil {
		return fmt.Errorf("retrieval: graph expansion from entity %s: %w", entityID, err)
	}
	absorbExpansionRows(rows, userID, originScore, out)
	return nil
}

func hopRange(depth int) string {
	if depth <= 1 {
		return "1"
	}
	return "2"
}

func absorbExpansionRows(rows []resolver.Row, userID uuid.UUID, originScore float64, out map[uuid.UUID]*candidate) {
	for _, row := range rows {
		id, err := uuid.Parse(rowStr(row, "id"))
		if err != nil {
			continue
		}
		hops := int(rowF64(row, "hops"))
		if hops < 1 {
			hops = 1
		}
		score := originScore
		for i := 0; i < hops; i++ {
			score *= graphExpansionDecay
		}

		c := &candidate{fromExpansion: true, lexicalScore: score}
		c.addMatchedFields(model.MatchedGraphExpansion)
		if isDecisionRow(row) {
			d := decisionFromRow(row, userID, id)
			c.decision = &d
		} else {
			c.entity = &model.Entity{ID: id, Name: rowStr(row, "name"), Type: model.EntityType(rowStr(row, "type"))}
		}

		if existing, ok := out[id]; !ok || score > existing.lexicalScore {
			out[id] = c
		}
	}
}

func isDecisionRow(row resolver.Row) bool {
	labels, ok := row["labels"].([]any)
	if !ok {
		return false
	}
	for _, l := range labels {
		if s, ok := l.(string); ok && s == "DecisionTrace" {
			return true
		}
	}
	return false
}
