package agentctx

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
)

const (
	topEntitiesLimit          = 15
	relatedEntitiesPerTop     = 5
	topDecisionsLimit         = 10
	knowledgeGapMaxDecisions  = 2
	knowledgeGapMinConfidence = 0.6
)

// entityRelationTypes are the entity-entity edges relatedEntities (used by
// Summary and Entity Context) traverses — the same set
// model.ResolveEntityRelation can produce, plus the untyped fallback.
var entityRelationTypes = []model.EdgeType{
	model.EdgeIsA, model.EdgePartOf, model.EdgeDependsOn,
	model.EdgeRequires, model.EdgeEnables, model.EdgeRefines, model.EdgeRelatedTo,
}

func entityRelPattern() string {
	types := make([]string, len(entityRelationTypes))
	for i, t := range entityRelationTypes {
		types[i] = string(t)
	}
	return strings.Join(types, "|")
}

// Summary implements spec.md §4.8's Summary operation, cached 120s.
func (s *Service) Summary(ctx context.Context, userID uuid.UUID) (model.SummaryResponse, error) {
	var cached model.SummaryResponse
	if s.cache != nil && s.cache.Get(ctx, "summary", userID.String(), nil, &cached) {
		return cached, nil
	}

	decisionCount, entityCount, err := s.summaryCounts(ctx, userID)
	if err != nil {
		return model.SummaryResponse{}, err
	}
	topEntities, err := s.topEntities(ctx, userID)
	if err != nil {
		return model.SummaryResponse{}, err
	}
	topDecisions, err := s.topDecisions(ctx, userID)
	if err != nil {
		return model.SummaryResponse{}, err
	}
	contradictions, err := s.unresolvedContradictions(ctx, userID)
	if err != nil {
		return model.SummaryResponse{}, err
	}
	gaps, err := s.knowledgeGaps(ctx, userID)
	if err != nil {
		return model.SummaryResponse{}, err
	}

	resp := model.SummaryResponse{
		DecisionCount:  decisionCount,
		EntityCount:    entityCount,
		TopEntities:    topEntities,
		TopDecisions:   topDecisions,
		Contradictions: contradictions,
		KnowledgeGaps:  gaps,
	}
	if s.cache != nil {
		s.cache.Set(ctx, "summary", userID.String(), nil, SummaryTTL, resp)
	}
	return resp, nil
}

func (s *Service) summaryCounts(ctx context.Context, userID uuid.UUID) (int, int, error) {
	rows, err := s.run(ctx, `
		MATCH (d:DecisionTrace {user_id: $user_id})
		OPTIONAL MATCH (d)-[:INVOLVES]->(e:Entity)
		RETURN count(DISTINCT d) AS decisions, count(DISTINCT e) AS entities
	`, map[string]any{"user_id": userID.String()})
	if err != nil {
		return 0, 0, fmt.Errorf("summary counts: %w", err)
	}
	if len(rows) == 0 {
		return 0, 0, nil
	}
	return int(rowF64(rows[0], "decisions")), int(rowF64(rows[0], "entities")), nil
}

func (s *Service) topEntities(ctx context.Context, userID uuid.UUID) ([]model.EntitySummary, error) {
	rows, err := s.run(ctx, `
		MATCH (d:DecisionTrace {user_id: $user_id})-[:INVOLVES]->(e:Entity)
		WITH e, count(DISTINCT d) AS decision_count
		ORDER BY decision_count DESC, e.name ASC
		LIMIT $limit
		RETURN e.id AS id, e.name AS name, e.type AS type, e.aliases AS aliases, decision_count
	`, map[string]any{"user_id": userID.String(), "limit": topEntitiesLimit})
	if err != nil {
		return nil, fmt.Errorf("top entities: %w", err)
	}

	out := make([]model.EntitySummary, 0, len(rows))
	for _, row := range rows {
		entity := entityFromRow(row)
		if entity.ID == uuid.Nil {
			continue
		}
		related, err := s.relatedEntities(ctx, entity.ID)
		if err != nil {
			s.logger.Warn("agentctx: related entities lookup failed", "entity_id", entity.ID, "error", err)
		}
		out = append(out, model.EntitySummary{
			Entity:          entity,
			DecisionCount:   int(rowF64(row, "decision_count")),
			RelatedEntities: related,
		})
	}
	return out, nil
}

func (s *Service) relatedEntities(ctx context.Context, entityID uuid.UUID) ([]model.Entity, error) {
	rows, err := s.run(ctx, `
		MATCH (e:Entity {id: $entity_id})-[:`+entityRelPattern()+`]-(related:Entity)
		RETURN DISTINCT related.id AS id, related.name AS name, related.type AS type, related.aliases AS aliases
		LIMIT $limit
	`, map[string]any{"entity_id": entityID.String(), "limit": relatedEntitiesPerTop})
	if err != nil {
		return nil, fmt.Errorf("related entities %s: %w", entityID, err)
	}
	out := make([]model.Entity, 0, len(rows))
	for _, row := range rows {
		out = append(out, entityFromRow(row))
	}
	return out, nil
}

// topDecisions ranks every decision by
// 0.4*confidence + 0.3*min(entity_count/10,1) + 0.3*has_timestamp (spec.md
// §4.8), where has_timestamp is whether the decision carries a turn_index
// (i.e. is grounded in an actual conversation turn rather than, e.g., an
// agent Remember call with no conversational anchor).
func (s *Service) topDecisions(ctx context.Context, userID uuid.UUID) ([]model.RankedDecision, error) {
	rows, err := s.run(ctx, `
		MATCH (d:DecisionTrace {user_id: $user_id})
		OPTIONAL MATCH (d)-[:INVOLVES]->(e:Entity)
		WITH d, count(DISTINCT e) AS entity_count
		RETURN d.id AS id, d.trigger AS trigger, d.context AS context, d.agent_decision AS agent_decision,
			d.agent_rationale AS agent_rationale, d.options AS options, d.confidence AS confidence,
			d.created_at AS created_at, d.scope AS scope, d.source AS source, d.turn_index AS turn_index,
			d.project_name AS project_name, entity_count,
			NOT (()-[:SUPERSEDES]->(d)) AS is_current
	`, map[string]any{"user_id": userID.String()})
	if err != nil {
		return nil, fmt.Errorf("top decisions: %w", err)
	}

	ranked := make([]model.RankedDecision, 0, len(rows))
	for _, row := range rows {
		id, err := uuid.Parse(rowStr(row, "id"))
		if err != nil {
			continue
		}
		decision := decisionFromRow(row, userID, id)
		entityCount := rowF64(row, "entity_count")
		hasTimestamp := 0.0
		if decision.TurnIndex != nil {
			hasTimestamp = 1.0
		}
		score := 0.4*decision.Confidence + 0.3*math.Min(entityCount/10, 1) + 0.3*hasTimestamp
		ranked = append(ranked, model.RankedDecision{Decision: decision, Score: score, IsCurrent: rowBool(row, "is_current")})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > topDecisionsLimit {
		ranked = ranked[:topDecisionsLimit]
	}
	return ranked, nil
}

// unresolvedContradictions returns CONTRADICTS pairs where neither side has
// been superseded — the conflict is still live and actionable.
func (s *Service) unresolvedContradictions(ctx context.Context, userID uuid.UUID) ([]model.ContradictionPair, error) {
	rows, err := s.run(ctx, `
		MATCH (a:DecisionTrace {user_id: $user_id})-[r:CONTRADICTS]->(b:DecisionTrace)
		WHERE NOT (()-[:SUPERSEDES]->(a)) AND NOT (()-[:SUPERSEDES]->(b))
		RETURN a.id AS a_id, a.trigger AS a_trigger, a.context AS a_context,
			a.agent_decision AS a_agent_decision, a.agent_rationale AS a_agent_rationale,
			a.options AS a_options, a.confidence AS a_confidence, a.created_at AS a_created_at,
			a.scope AS a_scope, a.source AS a_source,
			b.id AS b_id, b.trigger AS b_trigger, b.context AS b_context,
			b.agent_decision AS b_agent_decision, b.agent_rationale AS b_agent_rationale,
			b.options AS b_options, b.confidence AS b_confidence, b.created_at AS b_created_at,
			b.scope AS b_scope, b.source AS b_source,
			r.confidence AS confidence, r.reasoning AS reasoning
	`, map[string]any{"user_id": userID.String()})
	if err != nil {
		return nil, fmt.Errorf("unresolved contradictions: %w", err)
	}

	out := make([]model.ContradictionPair, 0, len(rows))
	for _, row := range rows {
		aID, errA := uuid.Parse(rowStr(row, "a_id"))
		bID, errB := uuid.Parse(rowStr(row, "b_id"))
		if errA != nil || errB != nil {
			continue
		}
		out = append(out, model.ContradictionPair{
			A:          decisionFromRow(prefixed(row, "a_"), userID, aID),
			B:          decisionFromRow(prefixed(row, "b_"), userID, bID),
			Confidence: rowF64(row, "confidence"),
			Reasoning:  rowStr(row, "reasoning"),
		})
	}
	return out, nil
}

// prefixed strips a "a_"/"b_" prefix off every key so the shared
// decisionFromRow helper can be reused against a joined two-decision row.
func prefixed(row map[string]any, prefix string) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		if stripped, ok := strings.CutPrefix(k, prefix); ok {
			out[stripped] = v
		}
	}
	return out
}

// knowledgeGaps flags entity types with too few decisions or too low average
// confidence — areas where the graph doesn't yet reflect enough considered
// decision-making to be trusted.
func (s *Service) knowledgeGaps(ctx context.Context, userID uuid.UUID) ([]model.KnowledgeGap, error) {
	rows, err := s.run(ctx, `
		MATCH (d:DecisionTrace {user_id: $user_id})-[:INVOLVES]->(e:Entity)
		WITH e.type AS entity_type, count(DISTINCT d) AS decision_count, avg(d.confidence) AS avg_confidence
		WHERE decision_count <= $max_decisions OR avg_confidence < $min_confidence
		RETURN entity_type, decision_count, avg_confidence
	`, map[string]any{"user_id": userID.String(), "max_decisions": knowledgeGapMaxDecisions, "min_confidence": knowledgeGapMinConfidence})
	if err != nil {
		return nil, fmt.Errorf("knowledge gaps: %w", err)
	}

	out := make([]model.KnowledgeGap, 0, len(rows))
	for _, row := range rows {
		out = append(out, model.KnowledgeGap{
			EntityType:    model.EntityType(rowStr(row, "entity_type")),
			DecisionCount: int(rowF64(row, "decision_count")),
			AvgConfidence: rowF64(row, "avg_confidence"),
		})
	}
	return out, nil
}
