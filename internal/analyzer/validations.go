package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/google/uuid"
)

// duplicateEntityFuzzyFloor mirrors resolver's fuzzy-match threshold for
// flagging near-duplicate entity names spec.md §4.5 wants surfaced (not
// auto-merged — that's resolver.MergeDuplicates's job, run manually).
const duplicateEntityFuzzyFloor = 0.85

// ValidationIssue is one graph-health finding from spec.md §4.5's "Other
// validations" list.
type ValidationIssue struct {
	Kind        string // orphan_entity, low_confidence_edge, duplicate_entity, missing_embedding, self_referential_edge, cross_kind_edge
	Description string
	NodeIDs     []uuid.UUID
}

// Validate runs every graph-health check from spec.md §4.5 ("Other
// validations") for one user and returns every issue found.
func (a *Analyzer) Validate(ctx context.Context, userID uuid.UUID) ([]ValidationIssue, error) {
	var issues []ValidationIssue

	checks := []func(context.Context, uuid.UUID) ([]ValidationIssue, error){
		a.orphanEntities,
		a.lowConfidenceEdges,
		a.duplicateEntities,
		a.missingEmbeddings,
		a.selfReferentialEdges,
		a.crossKindEdges,
	}
	for _, check := range checks {
		found, err := check(ctx, userID)
		if err != nil {
			return nil, err
		}
		issues = append(issues, found...)
	}
	return issues, nil
}

func (a *Analyzer) orphanEntities(ctx context.Context, userID uuid.UUID) ([]ValidationIssue, error) {
	rows, err := a.run(ctx, `
		MATCH (e:Entity {user_id: $user_id})
		WHERE NOT (e)<-[:INVOLVES]-(:DecisionTrace)
		RETURN e.id AS id, e.name AS name
	`, map[string]any{"user_id": userID.String()})
	if err != nil {
		return nil, fmt.Errorf("orphan entities: %w", err)
	}
	var out []ValidationIssue
	for _, row := range rows {
		id, ok := parseRowUUID(row, "id")
		if !ok {
			continue
		}
		out = append(out, ValidationIssue{
			Kind: "orphan_entity", NodeIDs: []uuid.UUID{id},
			Description: fmt.Sprintf("entity %q has no remaining INVOLVES edge", asString(row["name"])),
		})
	}
	return out, nil
}

func (a *Analyzer) lowConfidenceEdges(ctx context.Context, userID uuid.UUID) ([]ValidationIssue, error) {
	rows, err := a.run(ctx, `
		MATCH (d:DecisionTrace {user_id: $user_id})-[r:INVOLVES]->(e:Entity)
		WHERE r.weight < 0.5
		RETURN d.id AS decision_id, e.id AS entity_id, r.weight AS weight
	`, map[string]any{"user_id": userID.String()})
	if err != nil {
		return nil, fmt.Errorf("low confidence edges: %w", err)
	}
	var out []ValidationIssue
	for _, row := range rows {
		decisionID, ok1 := parseRowUUID(row, "decision_id")
		entityID, ok2 := parseRowUUID(row, "entity_id")
		if !ok1 || !ok2 {
			continue
		}
		out = append(out, ValidationIssue{
			Kind: "low_confidence_edge", NodeIDs: []uuid.UUID{decisionID, entityID},
			Description: fmt.Sprintf("INVOLVES weight %.2f below 0.5", asFloat(row["weight"])),
		})
	}
	return out, nil
}

func (a *Analyzer) duplicateEntities(ctx context.Context, userID uuid.UUID) ([]ValidationIssue, error) {
	rows, err := a.run(ctx, `
		MATCH (e:Entity {user_id: $user_id})
		RETURN e.id AS id, e.name AS name
	`, map[string]any{"user_id": userID.String()})
	if err != nil {
		return nil, fmt.Errorf("duplicate entities: %w", err)
	}

	type entity struct {
		id   uuid.UUID
		name string
	}
	entities := make([]entity, 0, len(rows))
	for _, row := range rows {
		id, ok := parseRowUUID(row, "id")
		if !ok {
			continue
		}
		entities = append(entities, entity{id: id, name: asString(row["name"])})
	}

	var out []ValidationIssue
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			if strings.EqualFold(entities[i].name, entities[j].name) {
				continue // exact (case-insensitive) match is resolver's job, not a "duplicate" finding
			}
			ratio := matchr.JaroWinkler(strings.ToLower(entities[i].name), strings.ToLower(entities[j].name), true)
			if ratio >= duplicateEntityFuzzyFloor && ratio < 1.0 {
				out = append(out, ValidationIssue{
					Kind:        "duplicate_entity",
					NodeIDs:     []uuid.UUID{entities[i].id, entities[j].id},
					Description: fmt.Sprintf("entities %q and %q are %.2f similar", entities[i].name, entities[j].name, ratio),
				})
			}
		}
	}
	return out, nil
}

func (a *Analyzer) missingEmbeddings(ctx context.Context, userID uuid.UUID) ([]ValidationIssue, error) {
	rows, err := a.run(ctx, `
		MATCH (n)
		WHERE (n:DecisionTrace OR n:Entity) AND n.user_id = $user_id AND n.embedding IS NULL
		RETURN n.id AS id, labels(n) AS labels
	`, map[string]any{"user_id": userID.String()})
	if err != nil {
		return nil, fmt.Errorf("missing embeddings: %w", err)
	}
	var out []ValidationIssue
	for _, row := range rows {
		id, ok := parseRowUUID(row, "id")
		if !ok {
			continue
		}
		out = append(out, ValidationIssue{
			Kind: "missing_embedding", NodeIDs: []uuid.UUID{id},
			Description: "node has no embedding",
		})
	}
	return out, nil
}

func (a *Analyzer) selfReferentialEdges(ctx context.Context, userID uuid.UUID) ([]ValidationIssue, error) {
	rows, err := a.run(ctx, `
		MATCH (n)-[r]->(n)
		WHERE n.user_id = $user_id
		RETURN n.id AS id, type(r) AS rel_type
	`, map[string]any{"user_id": userID.String()})
	if err != nil {
		return nil, fmt.Errorf("self-referential edges: %w", err)
	}
	var out []ValidationIssue
	for _, row := range rows {
		id, ok := parseRowUUID(row, "id")
		if !ok {
			continue
		}
		out = append(out, ValidationIssue{
			Kind: "self_referential_edge", NodeIDs: []uuid.UUID{id},
			Description: fmt.Sprintf("%s edge points back to its own source node", asString(row["rel_type"])),
		})
	}
	return out, nil
}

// crossKindEdges finds entity-typed edges (IS_A, PART_OF, DEPENDS_ON, etc.)
// wired between two DecisionTraces, or a DecisionTrace-only edge type
// (SIMILAR_TO, INFLUENCED_BY, ...) wired between two Entities — both indicate a
// Graph Writer bug that wrote the wrong node labels into an edge.
func (a *Analyzer) crossKindEdges(ctx context.Context, userID uuid.UUID) ([]ValidationIssue, error) {
	rows, err := a.run(ctx, `
		MATCH (a:DecisionTrace {user_id: $user_id})-[r:IS_A|PART_OF|DEPENDS_ON|REQUIRES|ENABLES|REFINES]->(b:DecisionTrace)
		RETURN a.id AS a_id, b.id AS b_id, type(r) AS rel_type
		UNION
		MATCH (a:Entity {user_id: $user_id})-[r:SIMILAR_TO|INFLUENCED_BY|FOLLOWS|PRECEDES|SUPERSEDES|CONTRADICTS]->(b:Entity)
		RETURN a.id AS a_id, b.id AS b_id, type(r) AS rel_type
	`, map[string]any{"user_id": userID.String()})
	if err != nil {
		return nil, fmt.Errorf("cross-kind edges: %w", err)
	}
	var out []ValidationIssue
	for _, row := range rows {
		aID, ok1 := parseRowUUID(row, "a_id")
		bID, ok2 := parseRowUUID(row, "b_id")
		if !ok1 || !ok2 {
			continue
		}
		out = append(out, ValidationIssue{
			Kind: "cross_kind_edge", NodeIDs: []uuid.UUID{aID, bID},
			Description: fmt.Sprintf("%s edge wired between two nodes of the wrong kind", asString(row["rel_type"])),
		})
	}
	return out, nil
}

func parseRowUUID(row map[string]any, key string) (uuid.UUID, bool) {
	s, ok := row[key].(string)
	if !ok {
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(s)
	return id, err == nil
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}
