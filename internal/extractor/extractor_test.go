package extractor

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/deciolog/deciolog/internal/llm"
	"github.com/deciolog/deciolog/internal/model"
)

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// scriptedGenerator returns responses in order, one per call, regardless of
// prompt content — good enough to drive the extractor pipeline through a
// deterministic sequence of LLM calls without a real provider.
type scriptedGenerator struct {
	responses []string
	calls     []string
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string, _ llm.GenerateOptions) (string, error) {
	g.calls = append(g.calls, prompt)
	if len(g.calls) > len(g.responses) {
		return "[]", nil
	}
	return g.responses[len(g.calls)-1], nil
}

func basicEpisode() model.Episode {
	conv := &model.Conversation{
		Messages: []model.Message{
			{Role: model.RoleUser, TurnIndex: 0, Content: "We need to pick a database. Let's go with PostgreSQL."},
			{Role: model.RoleAssistant, TurnIndex: 1, Content: "PostgreSQL seems better for our relational data needs and the team already knows SQL."},
		},
		SourceFile: "conv1.jsonl",
	}
	return model.Episode{
		Conversation: conv,
		Messages:     conv.Messages,
		Type:         model.EpisodeImplementation,
		StartTurn:    0,
		EndTurn:      1,
	}
}

func TestExtractDecisions_ValidDecisionSurvives(t *testing.T) {
	response := `[
		{
			"trigger": "We need to pick a database for the project",
			"context": "Team has SQL experience, data is relational in nature",
			"options": ["PostgreSQL", "MongoDB"],
			"decision": "Use PostgreSQL as the primary database",
			"rationale": "Better fit for relational data and team already has SQL expertise",
			"confidence": 0.9,
			"scope": "architectural",
			"verbatim_decision": "let's go with PostgreSQL",
			"turn_index": 0
		}
	]`
	gen := &scriptedGenerator{responses: []string{response}}
	x := &Extractor{llmClient: gen, highConfidenceThreshold: 0.5, logger: discardLogger()}

	traces, err := x.ExtractDecisions(context.Background(), basicEpisode(), uuid.New(), "conv1.jsonl")
	require.NoError(t, err)
	require.Len(t, traces, 1)
	require.Equal(t, "Use PostgreSQL as the primary database", traces[0].AgentDecision)
	require.Equal(t, model.ScopeArchitectural, traces[0].Scope)
	require.NotNil(t, traces[0].VerbatimDecisionSpan)
}

func TestExtractDecisions_EmptyResponseYieldsNoDecisions(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"[]"}}
	x := &Extractor{llmClient: gen, highConfidenceThreshold: 0.5, logger: discardLogger()}

	traces, err := x.ExtractDecisions(context.Background(), basicEpisode(), uuid.New(), "conv1.jsonl")
	require.NoError(t, err)
	require.Empty(t, traces)
}

func TestExtractDecisions_HallucinatedExampleTriggerRejected(t *testing.T) {
	response := `[{"trigger": "need to select a database for the project", "decision": "Use PostgreSQL as the primary database", "confidence": 0.9}]`
	gen := &scriptedGenerator{responses: []string{response}}
	x := &Extractor{llmClient: gen, highConfidenceThreshold: 0.5, logger: discardLogger()}

	traces, err := x.ExtractDecisions(context.Background(), basicEpisode(), uuid.New(), "conv1.jsonl")
	require.NoError(t, err)
	require.Empty(t, traces)
}

func TestExtractDecisions_LowConfidenceTriggersVerifyRejection(t *testing.T) {
	extraction := `[{"trigger": "We need to pick a database for the project", "context": "some context here that is long enough", "decision": "Use PostgreSQL as the primary database", "rationale": "a fairly detailed rationale spanning twenty chars", "confidence": 0.4, "scope": "architectural"}]`
	verifyResponse := `{"is_valid": false, "on_implemented_path": false, "issues": ["not actually implemented"], "corrected_fields": {}, "evidence_confidence": 0.1}`
	gen := &scriptedGenerator{responses: []string{extraction, verifyResponse}}
	x := &Extractor{llmClient: gen, highConfidenceThreshold: 0.9, logger: discardLogger()}

	traces, err := x.ExtractDecisions(context.Background(), basicEpisode(), uuid.New(), "conv1.jsonl")
	require.NoError(t, err)
	require.Empty(t, traces)
}

func TestExtractDecisions_JSONWrappedInProseIsRecovered(t *testing.T) {
	response := "Here is the extracted decision:\n```json\n" +
		`[{"trigger": "We need to pick a database for the project", "context": "relational data, SQL experience on team", "decision": "Use PostgreSQL as the primary database", "rationale": "better fit for relational data and existing SQL skills", "confidence": 0.9, "scope": "architectural"}]` +
		"\n```\nLet me know if you need anything else."
	gen := &scriptedGenerator{responses: []string{response}}
	x := &Extractor{llmClient: gen, highConfidenceThreshold: 0.3, logger: discardLogger()}

	traces, err := x.ExtractDecisions(context.Background(), basicEpisode(), uuid.New(), "conv1.jsonl")
	require.NoError(t, err)
	require.Len(t, traces, 1)
}

func TestCalibrateConfidence_HigherWithVerbatimGrounding(t *testing.T) {
	convText := "We need to pick a database. Let's go with PostgreSQL for the win."
	grounded := rawDecision{Confidence: 0.8, Trigger: "need db", Context: "some context that is reasonably long here", Decision: "use postgres for storage layer", Rationale: "because sql experience exists on the team", VerbatimDecision: "let's go with PostgreSQL"}
	ungrounded := grounded
	ungrounded.VerbatimDecision = "completely unrelated text not in source"

	groundedScore := calibrateConfidence(grounded, model.RationaleThinking, convText)
	ungroundedScore := calibrateConfidence(ungrounded, model.RationaleThinking, convText)
	require.Greater(t, groundedScore, ungroundedScore)
}

func TestMergeNonEmpty_OnlyFillsMissingFields(t *testing.T) {
	dst := rawDecision{Trigger: "existing trigger", Context: ""}
	patch := rawDecision{Trigger: "should not overwrite", Context: "filled in context field here"}
	mergeNonEmpty(&dst, patch)
	require.Equal(t, "filled in context field here", dst.Context)
	require.NotEqual(t, "should not overwrite", dst.Trigger)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", truncate("abc", 10))
	require.Equal(t, "ab", truncate("abcdef", 2))
}

