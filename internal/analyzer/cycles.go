package analyzer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
)

const (
	defaultMaxCycleDepth = 20
	maxCyclesPerType     = 10
)

// Cycle is one detected entity-entity cycle: the ordered node names that
// form it, the relationship type traversed, and its length.
type Cycle struct {
	RelationType model.EdgeType
	NodeNames    []string
	Length       int
	Severity     string // "error" or "warning"
}

// DetectCycles walks each cycle-sensitive relationship type
// (model.CycleSensitiveRelationships) for up to maxDepth hops looking for a
// path back to its starting entity, deduplicating by node set and capping
// at maxCyclesPerType per relationship. maxDepth <= 0 uses the spec default
// of 20. Severity is "error" for every cycle-sensitive type except
// RELATED_TO, which spec.md §4.5 marks "warning" (RELATED_TO is absent from
// CycleSensitiveRelationships, so in practice every cycle reported here is
// an error; the field is still carried for a future RELATED_TO cycle scan).
func (a *Analyzer) DetectCycles(ctx context.Context, userID uuid.UUID, maxDepth int) ([]Cycle, error) {
	if maxDepth <= 0 {
		maxDepth = defaultMaxCycleDepth
	}

	var cycles []Cycle
	for _, relType := range model.CycleSensitiveRelationships {
		found, err := a.detectCyclesForType(ctx, userID, relType, maxDepth)
		if err != nil {
			return nil, fmt.Errorf("analyzer: detect cycles for %s: %w", relType, err)
		}
		cycles = append(cycles, found...)
	}
	return cycles, nil
}

func (a *Analyzer) detectCyclesForType(ctx context.Context, userID uuid.UUID, relType model.EdgeType, maxDepth int) ([]Cycle, error) {
	cypher := fmt.Sprintf(`
		MATCH (start:Entity {user_id: $user_id})
		MATCH path = (start)-[:%s*2..%d]->(start)
		RETURN [n IN nodes(path) | n.name] AS names
		LIMIT %d
	`, relType, maxDepth, maxCyclesPerType*4)

	rows, err := a.run(ctx, cypher, map[string]any{"user_id": userID.String()})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []Cycle
	for _, row := range rows {
		names := asStringSlice(row["names"])
		if len(names) < 2 {
			continue
		}
		key := cycleKey(names)
		if seen[key] {
			continue
		}
		seen[key] = true

		severity := "error"
		if relType == model.EdgeRelatedTo {
			severity = "warning"
		}
		out = append(out, Cycle{RelationType: relType, NodeNames: names, Length: len(names) - 1, Severity: severity})
		if len(out) >= maxCyclesPerType {
			break
		}
	}
	return out, nil
}

// cycleKey dedupes cycles by node set (not order, since a cycle reported
// starting from any of its members is the same cycle).
func cycleKey(names []string) string {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	sorted := make([]string, 0, len(set))
	for n := range set {
		sorted = append(sorted, n)
	}
	return fmt.Sprint(sortedJoin(sorted))
}

func sortedJoin(items []string) string {
	// insertion sort is fine here: node-set sizes are tiny (cycle lengths
	// are bounded by maxDepth, itself capped well below any real entity count)
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j] < items[j-1]; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
	out := ""
	for _, it := range items {
		out += it + "|"
	}
	return out
}

func asStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
