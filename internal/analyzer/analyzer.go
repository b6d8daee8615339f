// Package analyzer implements the background analysis sweeps of spec.md
// §4.5: pairwise SUPERSEDES/CONTRADICTS classification, cycle detection,
// graph-health validations, staleness, dormant alternatives, the assumption
// monitor, and the cross-user contradiction scan fired from the Graph
// Writer's save path.
//
// Grounded on the teacher's internal/conflicts package (PairwiseScorer/
// Validator two-stage design: a cheap candidate-finding stage followed by a
// precise LLM classification stage) generalized from conflict-pairs to the
// full analyzer set, and on
// original_source/apps/api/services/decision_analyzer.py's DecisionAnalyzer.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/graph"
	"github.com/deciolog/deciolog/internal/llm"
	"github.com/deciolog/deciolog/internal/model"
	"github.com/deciolog/deciolog/internal/resolver"
)

// GraphWriter is the subset of *graph.Writer the analyzer needs to persist
// its findings back into the graph. Narrowed to an interface so tests can
// inject a fake without a live Neo4j instance.
type GraphWriter interface {
	StampSupersedes(ctx context.Context, newerID, olderID uuid.UUID, newerCreatedAt time.Time) error
	WriteContradicts(ctx context.Context, aID, bID uuid.UUID, confidence float64, reasoning string) error
}

// Notifier delivers a Notification to its recipient; implemented by
// internal/notify. A nil Notifier disables notification fan-out.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

var _ graph.CrossUserScanner = (*Analyzer)(nil)

// Analyzer bundles every background sweep. All graph reads/writes are
// user-scoped except the cross-user contradiction scan, which is explicitly
// cross-user by design (spec.md §4.5).
type Analyzer struct {
	runner   resolver.Runner
	llm      *llm.Client
	writer   GraphWriter
	notifier Notifier
	logger   *slog.Logger

	minPairConfidence float64 // default 0.6, spec.md §4.5/§3 edges table
}

// New returns an Analyzer. notifier may be nil to disable notification
// delivery (findings are still written to the graph).
func New(runner resolver.Runner, llmClient *llm.Client, writer GraphWriter, notifier Notifier, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{runner: runner, llm: llmClient, writer: writer, notifier: notifier, logger: logger, minPairConfidence: 0.6}
}

func (a *Analyzer) run(ctx context.Context, cypher string, params map[string]any) ([]resolver.Row, error) {
	rows, err := a.runner.Run(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("analyzer: %w", err)
	}
	return rows, nil
}

// pairRelationship is the LLM's classification of a candidate decision pair.
type pairRelationship string

const (
	relSupersedes pairRelationship = "SUPERSEDES"
	relContradicts pairRelationship = "CONTRADICTS"
	relNone        pairRelationship = "NONE"
)

// PairResult is one classified decision pair, confidence-gated at the
// caller.
type PairResult struct {
	Type       pairRelationship
	Confidence float64
	Reasoning  string
}

// pairAnalysisPrompt mirrors decision_analyzer.py's analyze_decision_pair
// prompt: classify a candidate pair as SUPERSEDES/CONTRADICTS/NONE. %s args:
// decision A created_at/trigger/decision/rationale, decision B same.
const pairAnalysisPrompt = `Analyze if these two decisions have a significant relationship.

Types:
- SUPERSEDES: The newer decision explicitly replaces or changes the older decision
- CONTRADICTS: The decisions fundamentally conflict (choosing opposite approaches)
- NONE: No significant relationship (different topics or compatible decisions)

## Decision A (%s):
Trigger: %s
Decision: %s
Rationale: %s

## Decision B (%s):
Trigger: %s
Decision: %s
Rationale: %s

Important guidelines:
- SUPERSEDES means the newer decision explicitly changes or replaces the older one
- CONTRADICTS means the decisions are fundamentally incompatible
- If decisions are about different topics or are compatible, return NONE
- Consider temporal order: only newer decisions can supersede older ones

Return ONLY valid JSON:
{"relationship": "SUPERSEDES" | "CONTRADICTS" | "NONE", "confidence": 0.0-1.0, "reasoning": "Brief explanation"}`

// AnalyzePair classifies one candidate decision pair. Returns nil when the
// LLM judges the pair unrelated or the response fails to parse (treated as
// NONE, matching decision_analyzer.py's catch-all-returns-None behavior).
func (a *Analyzer) AnalyzePair(ctx context.Context, x, y model.DecisionTrace) (*PairResult, error) {
	prompt := fmt.Sprintf(pairAnalysisPrompt,
		x.CreatedAt.Format(time.RFC3339), x.Trigger, x.AgentDecision, x.AgentRationale,
		y.CreatedAt.Format(time.RFC3339), y.Trigger, y.AgentDecision, y.AgentRationale,
	)
	response, err := a.llm.Generate(ctx, prompt, llm.GenerateOptions{Temperature: 0.3, MaxTokens: 512})
	if err != nil {
		return nil, fmt.Errorf("analyzer: pair analysis: %w", err)
	}

	var parsed struct {
		Relationship string  `json:"relationship"`
		Confidence   float64 `json:"confidence"`
		Reasoning    string  `json:"reasoning"`
	}
	if err := extractJSONObject(response, &parsed); err != nil {
		a.logger.Warn("analyzer: failed to parse pair analysis response", "error", err)
		return nil, nil
	}
	if parsed.Relationship == "" || pairRelationship(parsed.Relationship) == relNone {
		return nil, nil
	}
	return &PairResult{Type: pairRelationship(parsed.Relationship), Confidence: parsed.Confidence, Reasoning: parsed.Reasoning}, nil
}

// SavePairResult applies a confidence-gated PairResult: SUPERSEDES direction
// is newer->older by created_at (compared as time.Time values),
// CONTRADICTS is symmetric.
func (a *Analyzer) SavePairResult(ctx context.Context, x, y model.DecisionTrace, result *PairResult) error {
	if result == nil || result.Confidence < a.minPairConfidence {
		return nil
	}
	switch result.Type {
	case relSupersedes:
		newer, older := x, y
		if older.CreatedAt.After(newer.CreatedAt) {
			newer, older = older, newer
		}
		return a.writer.StampSupersedes(ctx, newer.ID, older.ID, newer.CreatedAt)
	case relContradicts:
		return a.writer.WriteContradicts(ctx, x.ID, y.ID, result.Confidence, result.Reasoning)
	default:
		return nil
	}
}
