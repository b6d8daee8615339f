package segmenter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deciolog/deciolog/internal/model"
)

func msg(role model.Role, content string, tools ...string) model.Message {
	m := model.Message{Role: role, Content: content}
	for _, name := range tools {
		m.ToolCalls = append(m.ToolCalls, model.ToolCall{Name: name})
	}
	return m
}

func withTurns(msgs []model.Message) []model.Message {
	for i := range msgs {
		msgs[i].TurnIndex = i
	}
	return msgs
}

func TestSegment_WriteAfterExplorationBoundary(t *testing.T) {
	msgs := withTurns([]model.Message{
		msg(model.RoleUser, "investigate the config loader"),
		msg(model.RoleAssistant, "looking", "Read", "Grep"),
		msg(model.RoleAssistant, "updating it now", "Edit"),
		msg(model.RoleUser, "looks good, thanks"),
	})
	conv := &model.Conversation{Messages: msgs}

	episodes := Segment(conv)
	require.GreaterOrEqual(t, len(episodes), 1)
	require.Equal(t, 0, episodes[0].StartTurn)
	require.Equal(t, 2, episodes[0].EndTurn) // boundary fires on the Edit-carrying message
}

func TestSegment_TimestampGapBoundary(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := []model.Message{
		{Role: model.RoleUser, TurnIndex: 0, Content: "first topic", Timestamp: base},
		{Role: model.RoleAssistant, TurnIndex: 1, Content: "done with that", Timestamp: base.Add(time.Minute)},
		{Role: model.RoleUser, TurnIndex: 2, Content: "second topic", Timestamp: base.Add(20 * time.Minute)},
		{Role: model.RoleAssistant, TurnIndex: 3, Content: "on it", Timestamp: base.Add(21 * time.Minute)},
	}
	conv := &model.Conversation{Messages: msgs}

	episodes := Segment(conv)
	require.Len(t, episodes, 2)
	require.Equal(t, 0, episodes[0].StartTurn)
	require.Equal(t, 1, episodes[0].EndTurn)
	require.Equal(t, 2, episodes[1].StartTurn)
	require.Equal(t, 3, episodes[1].EndTurn)
}

func TestSegment_ToolCallBurstBoundary(t *testing.T) {
	msgs := withTurns([]model.Message{
		msg(model.RoleUser, "start"),
		msg(model.RoleAssistant, "working", "Read", "Grep", "Bash"),
		msg(model.RoleUser, "ok next thing"),
		msg(model.RoleAssistant, "sure"),
	})
	conv := &model.Conversation{Messages: msgs}

	episodes := Segment(conv)
	require.GreaterOrEqual(t, len(episodes), 1)
	require.Equal(t, 2, episodes[0].EndTurn)
}

func TestSegment_BoundaryPhrase(t *testing.T) {
	msgs := withTurns([]model.Message{
		msg(model.RoleUser, "what do you think about using Redis here"),
		msg(model.RoleAssistant, "Redis fits well for this"),
		msg(model.RoleUser, "great, thanks, moving on"),
		msg(model.RoleAssistant, "sounds good"),
	})
	conv := &model.Conversation{Messages: msgs}

	episodes := Segment(conv)
	require.GreaterOrEqual(t, len(episodes), 1)
	require.Equal(t, 2, episodes[0].EndTurn)
}

func TestSegment_NoBoundaryReturnsOneEpisode(t *testing.T) {
	msgs := withTurns([]model.Message{
		msg(model.RoleUser, "quick question"),
		msg(model.RoleAssistant, "quick answer"),
	})
	conv := &model.Conversation{Messages: msgs}

	episodes := Segment(conv)
	require.Len(t, episodes, 1)
	require.Equal(t, 0, episodes[0].StartTurn)
	require.Equal(t, 1, episodes[0].EndTurn)
}

func TestSegment_ShortEpisodeDropped(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := []model.Message{
		{Role: model.RoleUser, TurnIndex: 0, Content: "one-off", Timestamp: base},
		{Role: model.RoleUser, TurnIndex: 1, Content: "next topic", Timestamp: base.Add(time.Hour)},
		{Role: model.RoleAssistant, TurnIndex: 2, Content: "answer", Timestamp: base.Add(time.Hour + time.Minute)},
	}
	conv := &model.Conversation{Messages: msgs}

	episodes := Segment(conv)
	// the lone first message forms an episode of length 1 and is dropped by flush()
	require.Len(t, episodes, 1)
	require.Equal(t, 1, episodes[0].StartTurn)
	require.Equal(t, 2, episodes[0].EndTurn)
}

func TestSegment_EmptyConversation(t *testing.T) {
	conv := &model.Conversation{}
	require.Nil(t, Segment(conv))
}

func TestClassify_Implementation(t *testing.T) {
	msgs := []model.Message{msg(model.RoleAssistant, "writing the file", "Write")}
	require.Equal(t, model.EpisodeImplementation, classify(msgs))
}

func TestClassify_Exploration(t *testing.T) {
	msgs := []model.Message{msg(model.RoleAssistant, "reading around", "Read", "Grep")}
	require.Equal(t, model.EpisodeExploration, classify(msgs))
}

func TestClassify_Pivot(t *testing.T) {
	msgs := []model.Message{msg(model.RoleAssistant, "reading then rewriting", "Read", "Edit")}
	require.Equal(t, model.EpisodePivot, classify(msgs))
}

func TestClassify_SetupWhenShortAndToolless(t *testing.T) {
	msgs := []model.Message{
		msg(model.RoleUser, "hi"),
		msg(model.RoleAssistant, "hello"),
	}
	require.Equal(t, model.EpisodeSetup, classify(msgs))
}

func TestClassify_VerificationWhenLongAndToolless(t *testing.T) {
	msgs := []model.Message{
		msg(model.RoleUser, "does this look right"),
		msg(model.RoleAssistant, "yes"),
		msg(model.RoleUser, "confirmed"),
	}
	require.Equal(t, model.EpisodeVerification, classify(msgs))
}
