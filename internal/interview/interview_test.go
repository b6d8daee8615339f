package interview

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/deciolog/deciolog/internal/model"
)

func userMsg(turn int, content string) model.Message {
	return model.Message{Role: model.RoleUser, TurnIndex: turn, Content: content}
}

func assistantMsg(turn int, content string) model.Message {
	return model.Message{Role: model.RoleAssistant, TurnIndex: turn, Content: content}
}

func TestNextStageEmptyHistoryStartsAtTrigger(t *testing.T) {
	require.Equal(t, StageTrigger, nextStage(nil))
}

func TestNextStageByCountAdvancesOnePerSubstantialReply(t *testing.T) {
	history := []model.Message{
		userMsg(0, "We needed a database that could scale with our traffic growth"),
	}
	require.Equal(t, StageContext, nextStage(history))
}

func TestNextStageUsesCoverageAnalysisForLongerConversations(t *testing.T) {
	history := []model.Message{
		userMsg(0, "We had a problem because our existing database kept timing out under load"),
		assistantMsg(1, "What constraints were you working within?"),
		userMsg(2, "We already had an existing Postgres deployment, tight budget, small team"),
	}
	// Trigger and context keywords both present; options/decision/rationale
	// are not, so the next stage should be the first uncovered one: options.
	require.Equal(t, StageOptions, nextStage(history))
}

func TestNextStageReachesSummarizingWhenAllCovered(t *testing.T) {
	history := []model.Message{
		userMsg(0, "We had a problem because our existing database kept timing out under load, when traffic spiked"),
		userMsg(2, "We already had an existing stack, tight budget, small team experience, constraint on timeline"),
		userMsg(4, "We considered an alternative, evaluated a few options, and compared them versus the status quo, ruled out one"),
		userMsg(6, "We ultimately decided and went with option two, settled on it as the final choice"),
		userMsg(8, "We chose it because it was cheaper, faster, and simpler, accepting the trade-off of less flexibility, lower risk"),
	}
	require.Equal(t, StageSummarizing, nextStage(history))
}

type stubExtractor struct {
	decisions  []model.DecisionTrace
	err        error
	gotEpisode model.Episode
}

func (s *stubExtractor) ExtractDecisions(_ context.Context, episode model.Episode, _ uuid.UUID, _ string) ([]model.DecisionTrace, error) {
	s.gotEpisode = episode
	return s.decisions, s.err
}

func TestProcessFastModeUsesCannedFallback(t *testing.T) {
	svc := New(nil, nil, false, nil)
	response, stage := svc.Process(context.Background(), nil, "We needed a faster database")
	require.Equal(t, StageTrigger, stage)
	require.Contains(t, response, "underlying problem")
}

func TestFinalizeBuildsEpisodeAndDelegatesToExtractor(t *testing.T) {
	history := []model.Message{
		userMsg(0, "We needed a faster database"),
		assistantMsg(1, "What constraints did you have?"),
		userMsg(2, "Tight budget and a small team"),
	}
	want := []model.DecisionTrace{{ID: uuid.New(), AgentDecision: "Use PostgreSQL"}}
	stub := &stubExtractor{decisions: want}

	svc := New(nil, stub, true, nil)
	userID := uuid.New()
	got, err := svc.Finalize(context.Background(), userID, history)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, model.SourceInterview, got[0].Source)

	require.Equal(t, history, stub.gotEpisode.Messages)
	require.Equal(t, 0, stub.gotEpisode.StartTurn)
	require.Equal(t, 2, stub.gotEpisode.EndTurn)
	require.NotNil(t, stub.gotEpisode.Conversation)
}

func TestFinalizeRejectsEmptyHistory(t *testing.T) {
	svc := New(nil, &stubExtractor{}, true, nil)
	_, err := svc.Finalize(context.Background(), uuid.New(), nil)
	require.Error(t, err)
}

func TestFinalizeRequiresExtractor(t *testing.T) {
	svc := New(nil, nil, true, nil)
	_, err := svc.Finalize(context.Background(), uuid.New(), []model.Message{userMsg(0, "hi")})
	require.Error(t, err)
}

func TestFallbackResponseReferencesTopic(t *testing.T) {
	resp := fallbackResponse(StageTrigger, "we needed to migrate off the legacy queue")
	require.Contains(t, resp, "we needed to migrate off the")
}

func TestFallbackResponseHandlesEmptyMessage(t *testing.T) {
	resp := fallbackResponse(StageDecision, "")
	require.NotEmpty(t, resp)
}

func TestFormatGuidanceIncludesStageName(t *testing.T) {
	text := formatGuidance(StageOptions)
	require.Contains(t, text, "OPTIONS")
	require.Contains(t, text, "GOAL:")
}
