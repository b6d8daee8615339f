package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
)

// entityEntityEdgeTypes are transferred, in both directions, between
// primary and secondary during a merge. Grounded on _merge_entities'
// rel_type loop (IS_A, PART_OF, RELATED_TO, DEPENDS_ON, ALTERNATIVE_TO);
// deciolog's ontology (internal/model/edges.go) doesn't carry a distinct
// ALTERNATIVE_TO type, so entities that were alternatives to one another
// fall under RELATED_TO instead, and REQUIRES/ENABLES/REFINES are added
// since this module's entity-relationship matrix recognizes them too.
var entityEntityEdgeTypes = []model.EdgeType{
	model.EdgeIsA, model.EdgePartOf, model.EdgeRelatedTo,
	model.EdgeDependsOn, model.EdgeRequires, model.EdgeEnables, model.EdgeRefines,
}

// MergeStats summarizes one MergeDuplicates run.
type MergeStats struct {
	GroupsFound    int
	EntitiesMerged int
}

// MergeDuplicates groups the user's entities by pairwise fuzzy-name
// similarity and merges each group into a single representative: the
// group member whose name appears in the static canonical dictionary if
// one exists, else the first member encountered. Grounded on
// entity_resolver.py's merge_duplicate_entities/_merge_entities.
func (r *Resolver) MergeDuplicates(ctx context.Context) (MergeStats, error) {
	all, err := r.batchedEntityNames(ctx)
	if err != nil {
		return MergeStats{}, fmt.Errorf("resolver: merge duplicates: load entities: %w", err)
	}

	groups := groupByFuzzySimilarity(all, duplicateMergeThreshold)
	stats := MergeStats{GroupsFound: len(groups)}

	for _, group := range groups {
		primary := pickRepresentative(group)
		for _, other := range group {
			if other.str("id") == primary.str("id") {
				continue
			}
			primaryID, err := uuid.Parse(primary.str("id"))
			if err != nil {
				return stats, fmt.Errorf("resolver: merge duplicates: parse primary id: %w", err)
			}
			otherID, err := uuid.Parse(other.str("id"))
			if err != nil {
				return stats, fmt.Errorf("resolver: merge duplicates: parse secondary id: %w", err)
			}
			if err := r.mergeEntities(ctx, primaryID, otherID); err != nil {
				return stats, fmt.Errorf("resolver: merge duplicates: merge %s into %s: %w", otherID, primaryID, err)
			}
			stats.EntitiesMerged++
		}
	}

	if len(groups) > 0 && r.cache != nil {
		r.cache.Invalidate(ctx, r.userID)
	}
	return stats, nil
}

func groupByFuzzySimilarity(entities []Row, threshold float64) [][]Row {
	processed := make(map[string]bool, len(entities))
	var groups [][]Row

	for i, entity := range entities {
		id := entity.str("id")
		if processed[id] {
			continue
		}
		group := []Row{entity}
		processed[id] = true

		for _, other := range entities[i+1:] {
			otherID := other.str("id")
			if processed[otherID] {
				continue
			}
			score := matchr.JaroWinkler(strings.ToLower(entity.str("name")), strings.ToLower(other.str("name")), true)
			if score >= threshold {
				group = append(group, other)
				processed[otherID] = true
			}
		}

		if len(group) > 1 {
			groups = append(groups, group)
		}
	}
	return groups
}

func pickRepresentative(group []Row) Row {
	for _, e := range group {
		if _, isCanonical := canonicalValue(e.str("name")); isCanonical {
			return e
		}
	}
	return group[0]
}

// canonicalValue reports whether name is itself one of CanonicalNames'
// display-name values (i.e. it is already the canonical spelling, not an
// alias of one).
func canonicalValue(name string) (string, bool) {
	for _, canonical := range model.CanonicalNames {
		if canonical == name {
			return canonical, true
		}
	}
	return "", false
}

// mergeEntities transfers every INVOLVES edge and every typed entity-entity
// edge from secondary to primary, appends secondary's name as an alias on
// primary, and deletes secondary.
func (r *Resolver) mergeEntities(ctx context.Context, primaryID, secondaryID uuid.UUID) error {
	_, err := r.runner.Run(ctx, `
		MATCH (primary:Entity {id: $primary_id})
		MATCH (secondary:Entity {id: $secondary_id})
		OPTIONAL MATCH (d:DecisionTrace)-[:INVOLVES]->(secondary)
		WITH primary, secondary, collect(DISTINCT d) AS decisions
		FOREACH (d IN decisions |
			MERGE (d)-[:INVOLVES]->(primary)
		)
	`, map[string]any{"primary_id": primaryID.String(), "secondary_id": secondaryID.String()})
	if err != nil {
		return fmt.Errorf("transfer INVOLVES: %w", err)
	}

	for _, relType := range entityEntityEdgeTypes {
		if err := r.transferTypedEdge(ctx, primaryID, secondaryID, relType, true); err != nil {
			return err
		}
		if err := r.transferTypedEdge(ctx, primaryID, secondaryID, relType, false); err != nil {
			return err
		}
	}

	_, err = r.runner.Run(ctx, `
		MATCH (primary:Entity {id: $primary_id})
		MATCH (secondary:Entity {id: $secondary_id})
		SET primary.aliases = COALESCE(primary.aliases, []) + secondary.name
		DETACH DELETE secondary
	`, map[string]any{"primary_id": primaryID.String(), "secondary_id": secondaryID.String()})
	if err != nil {
		return fmt.Errorf("alias + delete secondary: %w", err)
	}
	return nil
}

func (r *Resolver) transferTypedEdge(ctx context.Context, primaryID, secondaryID uuid.UUID, relType model.EdgeType, outgoing bool) error {
	var cypher string
	if outgoing {
		cypher = fmt.Sprintf(`
			MATCH (primary:Entity {id: $primary_id})
			MATCH (secondary:Entity {id: $secondary_id})
			OPTIONAL MATCH (secondary)-[:%s]->(other:Entity)
			WHERE other <> primary
			WITH primary, collect(DISTINCT other) AS targets
			FOREACH (t IN targets |
				MERGE (primary)-[:%s]->(t)
			)
		`, relType, relType)
	} else {
		cypher = fmt.Sprintf(`
			MATCH (primary:Entity {id: $primary_id})
			MATCH (secondary:Entity {id: $secondary_id})
			OPTIONAL MATCH (other:Entity)-[:%s]->(secondary)
			WHERE other <> primary
			WITH primary, collect(DISTINCT other) AS sources
			FOREACH (s IN sources |
				MERGE (s)-[:%s]->(primary)
			)
		`, relType, relType)
	}
	_, err := r.runner.Run(ctx, cypher, map[string]any{"primary_id": primaryID.String(), "secondary_id": secondaryID.String()})
	if err != nil {
		return fmt.Errorf("transfer %s (outgoing=%v): %w", relType, outgoing, err)
	}
	return nil
}

// AddAlias appends alias to entityID's alias list and invalidates the
// user's resolution cache.
func (r *Resolver) AddAlias(ctx context.Context, entityID uuid.UUID, alias string) error {
	_, err := r.runner.Run(ctx, `
		MATCH (e:Entity {id: $id})
		SET e.aliases = COALESCE(e.aliases, []) + $alias
	`, map[string]any{"id": entityID.String(), "alias": alias})
	if err != nil {
		return fmt.Errorf("resolver: add alias: %w", err)
	}
	if r.cache != nil {
		r.cache.Invalidate(ctx, r.userID)
	}
	return nil
}
