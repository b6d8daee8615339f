package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
	"github.com/deciolog/deciolog/internal/resolver"
)

// Reader answers the direct graph-read queries behind the HTTP API's
// /decisions, /entities, and /graph/* surface (spec.md §6) that have no
// counterpart among the Writer's write-path steps or the agentctx Service's
// four agent-facing operations. It shares the Writer's run(ctx, cypher,
// params) idiom and resolver.Row decoding conventions (see
// internal/agentctx/rows.go) rather than introducing a new query layer.
type Reader struct {
	runner resolver.Runner
}

// NewReader returns a Reader backed by runner.
func NewReader(runner resolver.Runner) *Reader {
	return &Reader{runner: runner}
}

func (r *Reader) run(ctx context.Context, cypher string, params map[string]any) ([]resolver.Row, error) {
	rows, err := r.runner.Run(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("graph: %w", err)
	}
	return rows, nil
}

func rrStr(row resolver.Row, key string) string {
	s, _ := row[key].(string)
	return s
}

func rrF64(row resolver.Row, key string) float64 {
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

func rrStrSlice(row resolver.Row, key string) []string {
	raw, ok := row[key].([]any)
	if !ok {
		if s, ok := row[key].([]string); ok {
			return s
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func rrTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

func decisionFromRow(row resolver.Row) model.DecisionTrace {
	id, _ := uuid.Parse(rrStr(row, "id"))
	userID, _ := uuid.Parse(rrStr(row, "user_id"))
	d := model.DecisionTrace{
		ID:             id,
		UserID:         userID,
		Trigger:        rrStr(row, "trigger"),
		Context:        rrStr(row, "context"),
		AgentDecision:  rrStr(row, "agent_decision"),
		AgentRationale: rrStr(row, "agent_rationale"),
		Options:        rrStrSlice(row, "options"),
		Confidence:     rrF64(row, "confidence"),
		RawConfidence:  rrF64(row, "raw_confidence"),
		Scope:          model.Scope(rrStr(row, "scope")),
		Source:         model.Source(rrStr(row, "source")),
		CreatedAt:      rrTime(row["created_at"]),
		RawRationale:   rrStr(row, "raw_rationale"),
	}
	if pn := rrStr(row, "project_name"); pn != "" {
		d.ProjectName = &pn
	}
	if v, ok := row["edited_at"]; ok && v != nil {
		t := rrTime(v)
		d.EditedAt = &t
	}
	if v, ok := row["edit_count"]; ok && v != nil {
		d.EditCount = int(rrF64(row, "edit_count"))
	}
	return d
}

func entityFromRow(row resolver.Row) model.Entity {
	id, _ := uuid.Parse(rrStr(row, "id"))
	e := model.Entity{
		ID:        id,
		Name:      rrStr(row, "name"),
		Type:      model.EntityType(rrStr(row, "type")),
		Aliases:   rrStrSlice(row, "aliases"),
		CreatedAt: rrTime(row["created_at"]),
	}
	if uidStr := rrStr(row, "user_id"); uidStr != "" {
		uid, err := uuid.Parse(uidStr)
		if err == nil {
			e.UserID = &uid
		}
	}
	return e
}

// GraphStats summarizes the size and composition of a user's reachable
// subgraph for GET /graph/stats.
type GraphStats struct {
	DecisionCount     int            `json:"decision_count"`
	EntityCount       int            `json:"entity_count"`
	EdgeCount         int            `json:"edge_count"`
	EntitiesByType    map[string]int `json:"entities_by_type"`
	DecisionsByScope  map[string]int `json:"decisions_by_scope"`
	ContradictCount   int            `json:"contradiction_count"`
	SupersedesCount   int            `json:"supersedes_count"`
}

// Stats computes GET /graph/stats.
func (r *Reader) Stats(ctx context.Context, userID uuid.UUID) (GraphStats, error) {
	stats := GraphStats{EntitiesByType: map[string]int{}, DecisionsByScope: map[string]int{}}

	rows, err := r.run(ctx, `
		MATCH (d:DecisionTrace) WHERE d.user_id = $user_id
		RETURN count(d) AS decision_count, collect(d.scope) AS scopes
	`, map[string]any{"user_id": userID.String()})
	if err != nil {
		return stats, err
	}
	if len(rows) > 0 {
		stats.DecisionCount = int(rrF64(rows[0], "decision_count"))
		for _, s := range rrStrSlice(rows[0], "scopes") {
			stats.DecisionsByScope[s]++
		}
	}

	entRows, err := r.run(ctx, `
		MATCH (d:DecisionTrace)-[:INVOLVES]->(e:Entity)
		WHERE d.user_id = $user_id
		RETURN count(DISTINCT e) AS entity_count, collect(DISTINCT e.type) AS types
	`, map[string]any{"user_id": userID.String()})
	if err != nil {
		return stats, err
	}
	if len(entRows) > 0 {
		stats.EntityCount = int(rrF64(entRows[0], "entity_count"))
	}

	typeRows, err := r.run(ctx, `
		MATCH (d:DecisionTrace)-[:INVOLVES]->(e:Entity)
		WHERE d.user_id = $user_id
		RETURN e.type AS type, count(DISTINCT e) AS n
	`, map[string]any{"user_id": userID.String()})
	if err != nil {
		return stats, err
	}
	for _, row := range typeRows {
		stats.EntitiesByType[rrStr(row, "type")] = int(rrF64(row, "n"))
	}

	edgeRows, err := r.run(ctx, `
		MATCH (d:DecisionTrace)-[rel]-()
		WHERE d.user_id = $user_id
		RETURN count(rel) AS edge_count
	`, map[string]any{"user_id": userID.String()})
	if err != nil {
		return stats, err
	}
	if len(edgeRows) > 0 {
		stats.EdgeCount = int(rrF64(edgeRows[0], "edge_count"))
	}

	contraRows, err := r.run(ctx, `
		MATCH (a:DecisionTrace)-[:CONTRADICTS]-(b:DecisionTrace)
		WHERE a.user_id = $user_id
		RETURN count(DISTINCT a) AS n
	`, map[string]any{"user_id": userID.String()})
	if err == nil && len(contraRows) > 0 {
		stats.ContradictCount = int(rrF64(contraRows[0], "n"))
	}

	superRows, err := r.run(ctx, `
		MATCH (:DecisionTrace)-[:SUPERSEDES]->(:DecisionTrace {user_id: $user_id})
		RETURN count(*) AS n
	`, map[string]any{"user_id": userID.String()})
	if err == nil && len(superRows) > 0 {
		stats.SupersedesCount = int(rrF64(superRows[0], "n"))
	}

	return stats, nil
}

// ListDecisions returns a page of userID's decisions, newest first, honoring
// the optional project/scope/source filters from model.QueryFilters.
func (r *Reader) ListDecisions(ctx context.Context, f model.QueryFilters) ([]model.DecisionTrace, error) {
	clauses := "d.user_id = $user_id"
	params := map[string]any{"user_id": f.UserID, "limit": f.Limit, "offset": f.Offset}
	if f.ProjectName != nil {
		clauses += " AND d.project_name = $project_name"
		params["project_name"] = *f.ProjectName
	}
	if f.Scope != nil {
		clauses += " AND d.scope = $scope"
		params["scope"] = string(*f.Scope)
	}
	if f.Source != nil {
		clauses += " AND d.source = $source"
		params["source"] = string(*f.Source)
	}

	rows, err := r.run(ctx, fmt.Sprintf(`
		MATCH (d:DecisionTrace) WHERE %s
		RETURN d.id AS id, d.trigger AS trigger, d.context AS context,
			d.agent_decision AS agent_decision, d.agent_rationale AS agent_rationale,
			d.options AS options, d.confidence AS confidence, d.raw_confidence AS raw_confidence,
			d.created_at AS created_at, d.source AS source, d.user_id AS user_id,
			d.project_name AS project_name, d.scope AS scope
		ORDER BY d.created_at DESC
		SKIP $offset LIMIT $limit
	`, clauses), params)
	if err != nil {
		return nil, err
	}

	out := make([]model.DecisionTrace, 0, len(rows))
	for _, row := range rows {
		out = append(out, decisionFromRow(row))
	}
	return out, nil
}

// ErrDecisionNotFound is returned when no decision with the given id is
// visible to the requesting user.
var ErrDecisionNotFound = fmt.Errorf("graph: decision not found")

// GetDecision fetches one decision by id, scoped to userID.
func (r *Reader) GetDecision(ctx context.Context, userID, id uuid.UUID) (model.DecisionTrace, error) {
	rows, err := r.run(ctx, `
		MATCH (d:DecisionTrace {id: $id})
		WHERE d.user_id = $user_id
		RETURN d.id AS id, d.trigger AS trigger, d.context AS context,
			d.agent_decision AS agent_decision, d.agent_rationale AS agent_rationale,
			d.options AS options, d.confidence AS confidence, d.raw_confidence AS raw_confidence,
			d.created_at AS created_at, d.source AS source, d.user_id AS user_id,
			d.project_name AS project_name, d.scope AS scope, d.raw_rationale AS raw_rationale
	`, map[string]any{"id": id.String(), "user_id": userID.String()})
	if err != nil {
		return model.DecisionTrace{}, err
	}
	if len(rows) == 0 {
		return model.DecisionTrace{}, ErrDecisionNotFound
	}
	return decisionFromRow(rows[0]), nil
}

// AllowedDecisionUpdateFields are the only properties PUT /decisions/{id}
// may modify (spec.md §6: "partial update to allow-listed fields only").
var AllowedDecisionUpdateFields = map[string]bool{
	"agent_decision": true, "agent_rationale": true, "context": true,
	"scope": true, "project_name": true,
}

// UpdateDecision applies a partial update restricted to
// AllowedDecisionUpdateFields, bumping edit_count and edited_at.
func (r *Reader) UpdateDecision(ctx context.Context, userID, id uuid.UUID, fields map[string]any) error {
	set := "d.edited_at = datetime($now), d.edit_count = coalesce(d.edit_count, 0) + 1"
	params := map[string]any{"id": id.String(), "user_id": userID.String(), "now": time.Now().UTC().Format(time.RFC3339Nano)}
	for k, v := range fields {
		if !AllowedDecisionUpdateFields[k] {
			return fmt.Errorf("graph: field %q is not editable", k)
		}
		set += fmt.Sprintf(", d.%s = $%s", k, k)
		params[k] = v
	}

	rows, err := r.run(ctx, fmt.Sprintf(`
		MATCH (d:DecisionTrace {id: $id}) WHERE d.user_id = $user_id
		SET %s
		RETURN d.id AS id
	`, set), params)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrDecisionNotFound
	}
	return nil
}

// DeleteDecision removes a decision node and every edge touching it.
func (r *Reader) DeleteDecision(ctx context.Context, userID, id uuid.UUID) error {
	rows, err := r.run(ctx, `
		MATCH (d:DecisionTrace {id: $id}) WHERE d.user_id = $user_id
		DETACH DELETE d
		RETURN $id AS id
	`, map[string]any{"id": id.String(), "user_id": userID.String()})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrDecisionNotFound
	}
	return nil
}

// NeedsReview returns decisions below the high-confidence threshold that
// have never been reviewed, for GET /decisions/needs-review.
func (r *Reader) NeedsReview(ctx context.Context, userID uuid.UUID, threshold float64, limit int) ([]model.DecisionTrace, error) {
	rows, err := r.run(ctx, `
		MATCH (d:DecisionTrace)
		WHERE d.user_id = $user_id AND d.confidence < $threshold AND d.last_reviewed_at IS NULL
		RETURN d.id AS id, d.trigger AS trigger, d.context AS context,
			d.agent_decision AS agent_decision, d.agent_rationale AS agent_rationale,
			d.options AS options, d.confidence AS confidence, d.raw_confidence AS raw_confidence,
			d.created_at AS created_at, d.source AS source, d.user_id AS user_id,
			d.project_name AS project_name, d.scope AS scope
		ORDER BY d.confidence ASC
		LIMIT $limit
	`, map[string]any{"user_id": userID.String(), "threshold": threshold, "limit": limit})
	if err != nil {
		return nil, err
	}
	out := make([]model.DecisionTrace, 0, len(rows))
	for _, row := range rows {
		out = append(out, decisionFromRow(row))
	}
	return out, nil
}

// ListEntities returns userID's entities, optionally filtered by type.
func (r *Reader) ListEntities(ctx context.Context, userID uuid.UUID, entityType *model.EntityType, limit, offset int) ([]model.Entity, error) {
	clauses := "(e.user_id = $user_id OR e.user_id IS NULL)"
	params := map[string]any{"user_id": userID.String(), "limit": limit, "offset": offset}
	if entityType != nil {
		clauses += " AND e.type = $type"
		params["type"] = string(*entityType)
	}

	rows, err := r.run(ctx, fmt.Sprintf(`
		MATCH (e:Entity) WHERE %s
		RETURN e.id AS id, e.name AS name, e.type AS type, e.aliases AS aliases,
			e.user_id AS user_id, e.created_at AS created_at
		ORDER BY e.name
		SKIP $offset LIMIT $limit
	`, clauses), params)
	if err != nil {
		return nil, err
	}
	out := make([]model.Entity, 0, len(rows))
	for _, row := range rows {
		out = append(out, entityFromRow(row))
	}
	return out, nil
}

// CreateEntity persists a manually-entered entity for POST /entities. Unlike
// decision-derived entities (which resolver.Resolver dedupes against
// existing nodes), a direct creation always produces a new node — callers
// wanting dedup should hit POST /entities/suggest first.
func (r *Reader) CreateEntity(ctx context.Context, userID uuid.UUID, e model.Entity) (model.Entity, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	params := map[string]any{
		"id": e.ID.String(), "name": e.Name, "type": string(e.Type),
		"aliases": e.Aliases, "user_id": userID.String(),
	}
	rows, err := r.run(ctx, `
		CREATE (e:Entity {id: $id, name: $name, type: $type, aliases: $aliases,
			user_id: $user_id, created_at: datetime()})
		RETURN e.id AS id, e.name AS name, e.type AS type, e.aliases AS aliases,
			e.user_id AS user_id, e.created_at AS created_at
	`, params)
	if err != nil {
		return model.Entity{}, err
	}
	if len(rows) == 0 {
		return model.Entity{}, fmt.Errorf("graph: entity create returned no row")
	}
	return entityFromRow(rows[0]), nil
}

// ErrEntityNotFound is returned when no entity with the given id is visible
// to the requesting user.
var ErrEntityNotFound = fmt.Errorf("graph: entity not found")

// GetEntity fetches one entity by id.
func (r *Reader) GetEntity(ctx context.Context, userID, id uuid.UUID) (model.Entity, error) {
	rows, err := r.run(ctx, `
		MATCH (e:Entity {id: $id}) WHERE e.user_id = $user_id OR e.user_id IS NULL
		RETURN e.id AS id, e.name AS name, e.type AS type, e.aliases AS aliases,
			e.user_id AS user_id, e.created_at AS created_at
	`, map[string]any{"id": id.String(), "user_id": userID.String()})
	if err != nil {
		return model.Entity{}, err
	}
	if len(rows) == 0 {
		return model.Entity{}, ErrEntityNotFound
	}
	return entityFromRow(rows[0]), nil
}

// DeleteEntity removes an entity. Unless force is true, the delete is
// refused when the entity still has an INVOLVES edge from some decision.
func (r *Reader) DeleteEntity(ctx context.Context, userID, id uuid.UUID, force bool) error {
	if !force {
		rows, err := r.run(ctx, `
			MATCH (d:DecisionTrace)-[:INVOLVES]->(e:Entity {id: $id})
			RETURN count(d) AS n
		`, map[string]any{"id": id.String()})
		if err != nil {
			return err
		}
		if len(rows) > 0 && rrF64(rows[0], "n") > 0 {
			return fmt.Errorf("graph: entity %s still has decisions involving it; pass force=true to delete anyway", id)
		}
	}

	rows, err := r.run(ctx, `
		MATCH (e:Entity {id: $id}) WHERE e.user_id = $user_id OR e.user_id IS NULL
		DETACH DELETE e
		RETURN $id AS id
	`, map[string]any{"id": id.String(), "user_id": userID.String()})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrEntityNotFound
	}
	return nil
}

// LinkEntities creates a typed edge between two entities for POST
// /entities/link, resolved against the same entity-relationship matrix the
// writer enforces on decision-derived edges (model.ResolveEntityRelation,
// internal/model/edges.go) — an unlisted (type pair, relation) combination
// falls back to RELATED_TO at a discounted confidence rather than erroring.
func (r *Reader) LinkEntities(ctx context.Context, fromID, toID uuid.UUID, edgeType model.EdgeType, confidence float64) error {
	from, err := r.entityTypeOf(ctx, fromID)
	if err != nil {
		return err
	}
	to, err := r.entityTypeOf(ctx, toID)
	if err != nil {
		return err
	}
	resolvedType, resolvedConfidence := model.ResolveEntityRelation(from, to, edgeType, confidence)

	_, err = r.run(ctx, fmt.Sprintf(`
		MATCH (a:Entity {id: $from_id}), (b:Entity {id: $to_id})
		MERGE (a)-[rel:%s]->(b)
		SET rel.confidence = $confidence
	`, string(resolvedType)), map[string]any{
		"from_id": fromID.String(), "to_id": toID.String(), "confidence": resolvedConfidence,
	})
	return err
}

func (r *Reader) entityTypeOf(ctx context.Context, id uuid.UUID) (model.EntityType, error) {
	rows, err := r.run(ctx, `MATCH (e:Entity {id: $id}) RETURN e.type AS type`, map[string]any{"id": id.String()})
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	return model.EntityType(rrStr(rows[0], "type")), nil
}

// NeighborEdge is one edge reachable from a node in Neighbors.
type NeighborEdge struct {
	NeighborID   uuid.UUID `json:"neighbor_id"`
	NeighborName string    `json:"neighbor_name,omitempty"`
	EdgeType     string    `json:"edge_type"`
	Direction    string    `json:"direction"` // "out" or "in"
}

// Neighbors returns the nodes directly connected to id, optionally filtered
// to a set of relationship type names, for GET /graph/nodes/{id}/neighbors.
func (r *Reader) Neighbors(ctx context.Context, id uuid.UUID, relTypes []string, limit int) ([]NeighborEdge, error) {
	typeFilter := ""
	params := map[string]any{"id": id.String(), "limit": limit}
	if len(relTypes) > 0 {
		typeFilter = ":" + joinRelTypes(relTypes)
	}

	rows, err := r.run(ctx, fmt.Sprintf(`
		MATCH (n {id: $id})-[rel%s]-(m)
		RETURN m.id AS neighbor_id, coalesce(m.name, m.agent_decision) AS neighbor_name,
			type(rel) AS edge_type,
			CASE WHEN startNode(rel) = n THEN "out" ELSE "in" END AS direction
		LIMIT $limit
	`, typeFilter), params)
	if err != nil {
		return nil, err
	}

	out := make([]NeighborEdge, 0, len(rows))
	for _, row := range rows {
		nid, _ := uuid.Parse(rrStr(row, "neighbor_id"))
		out = append(out, NeighborEdge{
			NeighborID:   nid,
			NeighborName: rrStr(row, "neighbor_name"),
			EdgeType:     rrStr(row, "edge_type"),
			Direction:    rrStr(row, "direction"),
		})
	}
	return out, nil
}

func joinRelTypes(types []string) string {
	out := ""
	for i, t := range types {
		if i > 0 {
			out += "|"
		}
		out += t
	}
	return out
}

// SimilarNode is one hit from Similar.
type SimilarNode struct {
	ID         uuid.UUID `json:"id"`
	Similarity float64   `json:"similarity"`
}

// Similar finds nodes of the same label as id whose embedding cosine
// similarity exceeds threshold, for GET /graph/nodes/{id}/similar. Uses the
// graph store's native vector index the same way resolver.gdsSimilarity
// does, since both are answering "what else is near this embedding".
func (r *Reader) Similar(ctx context.Context, id uuid.UUID, label string, topK int, threshold float64) ([]SimilarNode, error) {
	rows, err := r.run(ctx, fmt.Sprintf(`
		MATCH (n:%s {id: $id})
		CALL db.index.vector.queryNodes('%s_embedding_idx', $top_k, n.embedding)
		YIELD node, score
		WHERE node.id <> $id AND score >= $threshold
		RETURN node.id AS id, score AS similarity
	`, label, label), map[string]any{
		"id": id.String(), "top_k": topK, "threshold": threshold,
	})
	if err != nil {
		return nil, err
	}
	out := make([]SimilarNode, 0, len(rows))
	for _, row := range rows {
		nid, _ := uuid.Parse(rrStr(row, "id"))
		out = append(out, SimilarNode{ID: nid, Similarity: rrF64(row, "similarity")})
	}
	return out, nil
}

// Sources returns the distinct Source values present in userID's decisions.
func (r *Reader) Sources(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := r.run(ctx, `
		MATCH (d:DecisionTrace) WHERE d.user_id = $user_id
		RETURN DISTINCT d.source AS source
	`, map[string]any{"user_id": userID.String()})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, rrStr(row, "source"))
	}
	return out, nil
}

// Projects returns the distinct project names present in userID's decisions.
func (r *Reader) Projects(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := r.run(ctx, `
		MATCH (d:DecisionTrace) WHERE d.user_id = $user_id AND d.project_name IS NOT NULL
		RETURN DISTINCT d.project_name AS project_name
	`, map[string]any{"user_id": userID.String()})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, rrStr(row, "project_name"))
	}
	return out, nil
}

// ContradictionsForDecision returns decisions CONTRADICTS-linked to id, for
// GET /graph/decisions/{id}/contradictions.
func (r *Reader) ContradictionsForDecision(ctx context.Context, id uuid.UUID) ([]model.ContradictionPair, error) {
	rows, err := r.run(ctx, `
		MATCH (a:DecisionTrace {id: $id})-[rel:CONTRADICTS]-(b:DecisionTrace)
		RETURN a.id AS a_id, a.agent_decision AS a_decision, a.user_id AS a_user_id,
			a.created_at AS a_created_at, a.scope AS a_scope, a.source AS a_source,
			b.id AS b_id, b.agent_decision AS b_decision, b.user_id AS b_user_id,
			b.created_at AS b_created_at, b.scope AS b_scope, b.source AS b_source,
			rel.confidence AS confidence, rel.reasoning AS reasoning
	`, map[string]any{"id": id.String()})
	if err != nil {
		return nil, err
	}
	out := make([]model.ContradictionPair, 0, len(rows))
	for _, row := range rows {
		aID, _ := uuid.Parse(rrStr(row, "a_id"))
		aUser, _ := uuid.Parse(rrStr(row, "a_user_id"))
		bID, _ := uuid.Parse(rrStr(row, "b_id"))
		bUser, _ := uuid.Parse(rrStr(row, "b_user_id"))
		out = append(out, model.ContradictionPair{
			A: model.DecisionTrace{
				ID: aID, UserID: aUser, AgentDecision: rrStr(row, "a_decision"),
				CreatedAt: rrTime(row["a_created_at"]), Scope: model.Scope(rrStr(row, "a_scope")),
				Source: model.Source(rrStr(row, "a_source")),
			},
			B: model.DecisionTrace{
				ID: bID, UserID: bUser, AgentDecision: rrStr(row, "b_decision"),
				CreatedAt: rrTime(row["b_created_at"]), Scope: model.Scope(rrStr(row, "b_scope")),
				Source: model.Source(rrStr(row, "b_source")),
			},
			Confidence: rrF64(row, "confidence"),
			Reasoning:  rrStr(row, "reasoning"),
		})
	}
	return out, nil
}

// EvolutionStep is one link in a decision's supersession chain.
type EvolutionStep struct {
	DecisionID uuid.UUID `json:"decision_id"`
	Decision   string    `json:"decision"`
	CreatedAt  time.Time `json:"created_at"`
}

// Evolution walks the SUPERSEDES chain both directions from id, oldest
// first, for GET /graph/decisions/{id}/evolution.
func (r *Reader) Evolution(ctx context.Context, id uuid.UUID) ([]EvolutionStep, error) {
	rows, err := r.run(ctx, `
		MATCH (d:DecisionTrace {id: $id})
		OPTIONAL MATCH path = (oldest:DecisionTrace)-[:SUPERSEDES*0..]->(d)
		WHERE NOT (()-[:SUPERSEDES]->(oldest))
		WITH d, oldest, path
		OPTIONAL MATCH chain = (oldest)-[:SUPERSEDES*0..]->(newest:DecisionTrace)
		WHERE NOT (newest)-[:SUPERSEDES]->()
		UNWIND nodes(chain) AS step
		RETURN DISTINCT step.id AS decision_id, step.agent_decision AS decision, step.created_at AS created_at
		ORDER BY created_at ASC
	`, map[string]any{"id": id.String()})
	if err != nil {
		return nil, err
	}
	out := make([]EvolutionStep, 0, len(rows))
	for _, row := range rows {
		did, _ := uuid.Parse(rrStr(row, "decision_id"))
		out = append(out, EvolutionStep{DecisionID: did, Decision: rrStr(row, "decision"), CreatedAt: rrTime(row["created_at"])})
	}
	return out, nil
}

// Reset deletes every node belonging to userID (DecisionTrace, CandidateDecision,
// CodeEntity) plus any Entity left orphaned afterward, for
// DELETE /graph/reset?confirm=true. This is destructive and irreversible;
// the handler gates it behind EnableDestructiveDelete and the confirm flag.
func (r *Reader) Reset(ctx context.Context, userID uuid.UUID) error {
	_, err := r.run(ctx, `
		MATCH (d:DecisionTrace) WHERE d.user_id = $user_id
		DETACH DELETE d
	`, map[string]any{"user_id": userID.String()})
	if err != nil {
		return err
	}
	_, err = r.run(ctx, `
		MATCH (c:CandidateDecision) WHERE c.user_id = $user_id
		DETACH DELETE c
	`, map[string]any{"user_id": userID.String()})
	if err != nil {
		return err
	}
	_, err = r.run(ctx, `
		MATCH (c:CodeEntity) WHERE c.user_id = $user_id
		DETACH DELETE c
	`, map[string]any{"user_id": userID.String()})
	if err != nil {
		return err
	}
	_, err = r.run(ctx, `
		MATCH (e:Entity) WHERE (e.user_id = $user_id OR e.user_id IS NULL) AND NOT ()-[:INVOLVES]->(e)
		DETACH DELETE e
	`, map[string]any{"user_id": userID.String()})
	return err
}
