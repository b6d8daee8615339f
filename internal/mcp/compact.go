package mcp

import (
	"github.com/deciolog/deciolog/internal/model"
)

const maxCompactRationale = 200

// compactDecision returns a minimal representation of a decision for MCP
// responses. Drops provenance, verbatim spans, and embeddings that agents
// don't act on.
func compactDecision(d model.DecisionTrace) map[string]any {
	m := map[string]any{
		"id":              d.ID,
		"trigger":         truncate(d.Trigger, maxCompactRationale),
		"agent_decision":  d.AgentDecision,
		"agent_rationale": truncate(d.AgentRationale, maxCompactRationale),
		"confidence":      d.Confidence,
		"scope":           d.Scope,
		"source":          d.Source,
		"created_at":      d.CreatedAt,
	}
	if d.ProjectName != nil {
		m["project_name"] = *d.ProjectName
	}
	if d.EditedAt != nil {
		m["edited_at"] = *d.EditedAt
		m["edit_count"] = d.EditCount
	}
	return m
}

// compactFocusedHits reduces deciolog_check's result set to the fields an
// agent needs to act on: the decision, its relevance scores, whether it's
// still current, and what INVOLVES'd entities it touches.
func compactFocusedHits(hits []model.FocusedHit) []map[string]any {
	out := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		m := map[string]any{
			"is_current":     h.IsCurrent,
			"combined_score": h.Result.CombinedScore,
			"lexical_score":  h.Result.LexicalScore,
			"semantic_score": h.Result.SemanticScore,
		}
		if h.Result.Decision != nil {
			m["decision"] = compactDecision(*h.Result.Decision)
		}
		if h.Result.Entity != nil {
			m["entity"] = h.Result.Entity
		}
		if h.SupersededBy != nil {
			m["superseded_by"] = *h.SupersededBy
		}
		if len(h.Entities) > 0 {
			m["entities"] = h.Entities
		}
		out = append(out, m)
	}
	return out
}

// compactContradictions reduces a set of unresolved CONTRADICTS pairs to
// their compact decision forms plus the edge's own confidence/reasoning.
func compactContradictions(pairs []model.ContradictionPair) []map[string]any {
	out := make([]map[string]any, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, map[string]any{
			"a":          compactDecision(p.A),
			"b":          compactDecision(p.B),
			"confidence": p.Confidence,
			"reasoning":  p.Reasoning,
		})
	}
	return out
}

// compactSearchResults wraps hybrid search results with their similarity
// scores for deciolog_remember's "similar decisions" field.
func compactSearchResults(results []model.SearchResult) []map[string]any {
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		m := map[string]any{
			"combined_score": r.CombinedScore,
			"semantic_score": r.SemanticScore,
		}
		if r.Decision != nil {
			m["decision"] = compactDecision(*r.Decision)
		}
		out = append(out, m)
	}
	return out
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
