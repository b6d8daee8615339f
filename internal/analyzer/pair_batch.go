package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
)

// decisionRow is the subset of DecisionTrace fields AnalyzeAllPairs needs
// from the graph, avoiding a full node hydrate for every candidate.
type decisionRow struct {
	id        uuid.UUID
	createdAt time.Time
	trigger   string
	decision  string
	rationale string
}

// AnalyzeAllPairs batch-analyzes a user's decisions for SUPERSEDES/
// CONTRADICTS, grouping by shared entities (>= 2) before running the
// pairwise LLM call on each intra-group pair once (spec.md §4.5's "Batch
// mode groups decisions whose entity sets intersect by >= 2"). Returns the
// number of SUPERSEDES and CONTRADICTS edges written.
func (a *Analyzer) AnalyzeAllPairs(ctx context.Context, userID uuid.UUID) (supersedesCount, contradictsCount int, err error) {
	decisions, err := a.decisionsWithEntities(ctx, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("analyzer: load decisions: %w", err)
	}
	if len(decisions) < 2 {
		return 0, 0, nil
	}

	groups := groupBySharedEntities(decisions, 2)
	analyzed := make(map[[2]uuid.UUID]bool)

	for _, group := range groups {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				x, y := group[i], group[j]
				key := pairKey(x.id, y.id)
				if analyzed[key] {
					continue
				}
				analyzed[key] = true

				result, aerr := a.AnalyzePair(ctx, toTrace(x), toTrace(y))
				if aerr != nil {
					a.logger.Error("analyzer: pair analysis failed", "error", aerr, "a", x.id, "b", y.id)
					continue
				}
				if result == nil || result.Confidence < a.minPairConfidence {
					continue
				}
				if serr := a.SavePairResult(ctx, toTrace(x), toTrace(y), result); serr != nil {
					a.logger.Error("analyzer: save pair result failed", "error", serr, "a", x.id, "b", y.id)
					continue
				}
				switch result.Type {
				case relSupersedes:
					supersedesCount++
				case relContradicts:
					contradictsCount++
				}
			}
		}
	}
	return supersedesCount, contradictsCount, nil
}

func pairKey(a, b uuid.UUID) [2]uuid.UUID {
	if a.String() < b.String() {
		return [2]uuid.UUID{a, b}
	}
	return [2]uuid.UUID{b, a}
}

func toTrace(r decisionRow) model.DecisionTrace {
	return model.DecisionTrace{ID: r.id, CreatedAt: r.createdAt, Trigger: r.trigger, AgentDecision: r.decision, AgentRationale: r.rationale}
}

func (a *Analyzer) decisionsWithEntities(ctx context.Context, userID uuid.UUID) ([]decisionRowWithEntities, error) {
	rows, err := a.run(ctx, `
		MATCH (d:DecisionTrace)
		WHERE d.user_id = $user_id
		OPTIONAL MATCH (d)-[:INVOLVES]->(e:Entity)
		RETURN d.id AS id, d.created_at AS created_at, d.trigger AS trigger,
			d.agent_decision AS decision, d.agent_rationale AS rationale,
			collect(DISTINCT e.id) AS entity_ids
	`, map[string]any{"user_id": userID.String()})
	if err != nil {
		return nil, err
	}

	out := make([]decisionRowWithEntities, 0, len(rows))
	for _, row := range rows {
		idStr, _ := row["id"].(string)
		id, perr := uuid.Parse(idStr)
		if perr != nil {
			continue
		}
		createdAt := parseGraphTime(row["created_at"])
		entityIDs := stringSet(row["entity_ids"])
		out = append(out, decisionRowWithEntities{
			decisionRow: decisionRow{
				id: id, createdAt: createdAt,
				trigger: asString(row["trigger"]), decision: asString(row["decision"]), rationale: asString(row["rationale"]),
			},
			entityIDs: entityIDs,
		})
	}
	return out, nil
}

type decisionRowWithEntities struct {
	decisionRow
	entityIDs map[string]bool
}

// groupBySharedEntities partitions decisions into connected components
// where an edge exists between two decisions sharing >= minShared entities.
// Mirrors decision_analyzer.py's _group_by_shared_entities.
func groupBySharedEntities(decisions []decisionRowWithEntities, minShared int) [][]decisionRow {
	n := len(decisions)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(x, y int) {
		rx, ry := find(x), find(y)
		if rx != ry {
			parent[rx] = ry
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if sharedCount(decisions[i].entityIDs, decisions[j].entityIDs) >= minShared {
				union(i, j)
			}
		}
	}

	groupsByRoot := make(map[int][]decisionRow)
	for i, d := range decisions {
		root := find(i)
		groupsByRoot[root] = append(groupsByRoot[root], d.decisionRow)
	}

	var groups [][]decisionRow
	for _, g := range groupsByRoot {
		if len(g) >= 2 {
			groups = append(groups, g)
		}
	}
	return groups
}

func sharedCount(a, b map[string]bool) int {
	n := 0
	for id := range a {
		if b[id] {
			n++
		}
	}
	return n
}

func stringSet(v any) map[string]bool {
	out := make(map[string]bool)
	items, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out[s] = true
		}
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func parseGraphTime(v any) time.Time {
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
