package agentctx

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
	"github.com/deciolog/deciolog/internal/resolver"
)

// EntityContext implements spec.md §4.8's Entity Context operation, cached
// 60s. It refuses to create a new entity (unlike the resolver cascade's
// normal Resolve behavior) since this is a read-only lookup.
func (s *Service) EntityContext(ctx context.Context, req model.EntityContextRequest) (model.EntityContextResponse, error) {
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return model.EntityContextResponse{}, fmt.Errorf("agentctx: invalid user id: %w", err)
	}

	cacheParts := []string{req.EntityName, string(req.EntityType)}
	var cached model.EntityContextResponse
	if s.cache != nil && s.cache.Get(ctx, "entity", req.UserID, cacheParts, &cached) {
		return cached, nil
	}

	res := resolver.New(s.runner, nil, s.embedder, userID, s.logger)
	resolved, err := res.Resolve(ctx, req.EntityName, req.EntityType)
	if err != nil {
		return model.EntityContextResponse{}, fmt.Errorf("agentctx: resolve entity %q: %w", req.EntityName, err)
	}
	if resolved.IsNew {
		return model.EntityContextResponse{}, ErrEntityNotFound
	}
	entity := model.Entity{ID: resolved.ID, Name: resolved.Name, Type: resolved.Type, Aliases: resolved.Aliases}

	decisions, err := s.entityDecisions(ctx, userID, resolved.ID)
	if err != nil {
		return model.EntityContextResponse{}, err
	}
	related, err := s.relatedEntities(ctx, resolved.ID)
	if err != nil {
		return model.EntityContextResponse{}, err
	}

	resp := model.EntityContextResponse{
		Entity:          entity,
		Decisions:       decisions,
		RelatedEntities: related,
		Timeline:        buildTimeline(decisions),
	}
	if s.cache != nil {
		s.cache.Set(ctx, "entity", req.UserID, cacheParts, EntityContextTTL, resp)
	}
	return resp, nil
}

func (s *Service) entityDecisions(ctx context.Context, userID, entityID uuid.UUID) ([]model.DecisionWithStatus, error) {
	rows, err := s.run(ctx, `
		MATCH (d:DecisionTrace {user_id: $user_id})-[:INVOLVES]->(e:Entity {id: $entity_id})
		RETURN d.id AS id, d.trigger AS trigger, d.context AS context, d.agent_decision AS agent_decision,
			d.agent_rationale AS agent_rationale, d.options AS options, d.confidence AS confidence,
			d.created_at AS created_at, d.scope AS scope, d.source AS source, d.turn_index AS turn_index,
			d.project_name AS project_name,
			NOT (()-[:SUPERSEDES]->(d)) AS is_current
		ORDER BY d.created_at DESC
	`, map[string]any{"user_id": userID.String(), "entity_id": entityID.String()})
	if err != nil {
		return nil, fmt.Errorf("entity decisions %s: %w", entityID, err)
	}

	out := make([]model.DecisionWithStatus, 0, len(rows))
	for _, row := range rows {
		id, err := uuid.Parse(rowStr(row, "id"))
		if err != nil {
			continue
		}
		out = append(out, model.DecisionWithStatus{
			Decision:   decisionFromRow(row, userID, id),
			Superseded: !rowBool(row, "is_current"),
		})
	}
	return out, nil
}

// buildTimeline renders one TimelineEvent per decision, preserving the
// newest-first order entityDecisions already queried in.
func buildTimeline(decisions []model.DecisionWithStatus) []model.TimelineEvent {
	out := make([]model.TimelineEvent, 0, len(decisions))
	for _, dw := range decisions {
		out = append(out, model.TimelineEvent{
			At:         dw.Decision.CreatedAt,
			DecisionID: dw.Decision.ID,
			Summary:    fmt.Sprintf("%s -> %s", dw.Decision.Trigger, dw.Decision.AgentDecision),
		})
	}
	return out
}
