package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/llm"
)

// InvalidAssumption is a stored assumption a later decision appears to
// contradict.
type InvalidAssumption struct {
	DecisionID     uuid.UUID
	Assumption     string
	ContradictedBy uuid.UUID
	Confidence     float64
	Reasoning      string
}

// assumptionPrompt asks whether a later decision invalidates one specific
// assumption from an earlier one — narrower than the full pair-analysis
// prompt since the earlier decision's full context isn't the question, just
// whether this one stated belief still holds.
const assumptionPrompt = `An earlier decision assumed the following to be true:

Assumption: %s
(From decision made %s: %q)

A later decision was then made:

Decision (%s): %s

Does the later decision contradict or invalidate the assumption? Return ONLY
valid JSON:
{"invalid": true|false, "confidence": 0.0-1.0, "reasoning": "Brief explanation"}`

// ScanAssumptions tests every stored assumption on every decision in a
// user's project against later same-project decisions, per spec.md §4.5's
// assumption monitor. Only decisions in the same named project are
// compared; decisions with no project_name are skipped (nothing to anchor
// the comparison to).
func (a *Analyzer) ScanAssumptions(ctx context.Context, userID uuid.UUID, projectName string) ([]InvalidAssumption, error) {
	rows, err := a.run(ctx, `
		MATCH (d:DecisionTrace {user_id: $user_id, project_name: $project})
		WHERE size(d.assumptions) > 0
		RETURN d.id AS id, d.created_at AS created_at, d.agent_decision AS decision, d.assumptions AS assumptions
		ORDER BY d.created_at
	`, map[string]any{"user_id": userID.String(), "project": projectName})
	if err != nil {
		return nil, fmt.Errorf("analyzer: load assumptions: %w", err)
	}

	decisions := make([]decisionWithAssumptions, 0, len(rows))
	for _, row := range rows {
		id, ok := parseRowUUID(row, "id")
		if !ok {
			continue
		}
		decisions = append(decisions, decisionWithAssumptions{
			id: id, createdAt: parseGraphTime(row["created_at"]),
			decision: asString(row["decision"]), assumptions: asStringSlice(row["assumptions"]),
		})
	}

	var out []InvalidAssumption
	for i, earlier := range decisions {
		for _, assumption := range earlier.assumptions {
			for j := i + 1; j < len(decisions); j++ {
				later := decisions[j]
				if !later.createdAt.After(earlier.createdAt) {
					continue
				}

				result, err := a.testAssumption(ctx, assumption, earlier, later)
				if err != nil {
					a.logger.Error("analyzer: assumption test failed", "error", err, "decision", earlier.id)
					continue
				}
				if result == nil {
					continue
				}
				out = append(out, InvalidAssumption{
					DecisionID: earlier.id, Assumption: assumption, ContradictedBy: later.id,
					Confidence: result.Confidence, Reasoning: result.Reasoning,
				})
			}
		}
	}
	return out, nil
}

type decisionWithAssumptions struct {
	id          uuid.UUID
	createdAt   time.Time
	decision    string
	assumptions []string
}

type assumptionVerdict struct {
	Confidence float64
	Reasoning  string
}

func (a *Analyzer) testAssumption(ctx context.Context, assumption string, earlier, later decisionWithAssumptions) (*assumptionVerdict, error) {
	prompt := fmt.Sprintf(assumptionPrompt,
		assumption, earlier.createdAt.Format(time.RFC3339), earlier.decision,
		later.createdAt.Format(time.RFC3339), later.decision,
	)
	response, err := a.llm.Generate(ctx, prompt, llm.GenerateOptions{Temperature: 0.3, MaxTokens: 256})
	if err != nil {
		return nil, fmt.Errorf("assumption test: %w", err)
	}

	var parsed struct {
		Invalid    bool    `json:"invalid"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := extractJSONObject(response, &parsed); err != nil {
		a.logger.Warn("analyzer: failed to parse assumption verdict", "error", err)
		return nil, nil
	}
	if !parsed.Invalid || parsed.Confidence < a.minPairConfidence {
		return nil, nil
	}
	return &assumptionVerdict{Confidence: parsed.Confidence, Reasoning: parsed.Reasoning}, nil
}
