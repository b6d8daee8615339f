package agentctx

import (
	"time"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
)

// rowStr/rowF64/rowStrSlice/parseRowTime mirror internal/retrieval's and
// internal/analyzer's identically-named row helpers; duplicated rather than
// exported across the package boundary per this codebase's convention for
// small per-package Cypher-row coercion helpers.

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

func rowBool(row map[string]any, key string) bool {
	b, _ := row[key].(bool)
	return b
}

func rowStrSlice(row map[string]any, key string) []string {
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

// decisionFromRow builds a DecisionTrace from a row carrying the common set
// of DecisionTrace properties this package's queries project; turn_index is
// included (unlike internal/retrieval's narrower version) since Summary's
// ranking needs it for the has_timestamp term.
func decisionFromRow(row map[string]any, userID, id uuid.UUID) model.DecisionTrace {
	d := model.DecisionTrace{
		ID:             id,
		UserID:         userID,
		Trigger:        rowStr(row, "trigger"),
		Context:        rowStr(row, "context"),
		AgentDecision:  rowStr(row, "agent_decision"),
		AgentRationale: rowStr(row, "agent_rationale"),
		Options:        rowStrSlice(row, "options"),
		Confidence:     rowF64(row, "confidence"),
		Scope:          model.Scope(rowStr(row, "scope")),
		Source:         model.Source(rowStr(row, "source")),
		CreatedAt:      parseRowTime(row["created_at"]),
	}
	if v, ok := row["turn_index"]; ok && v != nil {
		n := int(rowF64(row, "turn_index"))
		d.TurnIndex = &n
	}
	if pn := rowStr(row, "project_name"); pn != "" {
		d.ProjectName = &pn
	}
	return d
}

func entityFromRow(row map[string]any) model.Entity {
	id, _ := uuid.Parse(rowStr(row, "id"))
	return model.Entity{
		ID:      id,
		Name:    rowStr(row, "name"),
		Type:    model.EntityType(rowStr(row, "type")),
		Aliases: rowStrSlice(row, "aliases"),
	}
}
