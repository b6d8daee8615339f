// Package segmenter splits a Conversation's messages into Episodes — one
// contiguous decision arc each — so the extractor sees a focused window of
// context instead of an entire conversation.
package segmenter

import (
	"strings"
	"time"

	"github.com/deciolog/deciolog/internal/model"
)

var explorationTools = map[string]bool{
	"Read": true, "Glob": true, "Grep": true, "Bash": true, "WebFetch": true, "WebSearch": true,
}

var writeTools = map[string]bool{
	"Edit": true, "Write": true, "NotebookEdit": true,
}

var boundaryPhrases = []string{
	"done", "looks good", "perfect", "let's move on", "next step",
	"lgtm", "approved", "thank you", "thanks", "great", "ship it",
}

const episodeGap = 10 * time.Minute

// Segment splits a Conversation into Episodes per the boundary rules:
// a write tool after >=2 exploration tools, a timestamp gap > 10 minutes,
// a user message after >=3 accumulated tool calls, or a user message
// containing a "done/moving on" phrase. Episodes of length < 2 are
// dropped; if no boundary fires, one episode covering all messages is
// returned.
func Segment(conv *model.Conversation) []model.Episode {
	msgs := conv.Messages
	if len(msgs) == 0 {
		return nil
	}

	var episodes []model.Episode
	var current []model.Message
	var clusterTools []string
	turnStart := msgs[0].TurnIndex

	flush := func(end int) {
		if len(current) < 2 {
			return
		}
		episodes = append(episodes, model.Episode{
			Conversation: conv,
			Messages:     append([]model.Message(nil), current...),
			Type:         classify(current),
			StartTurn:    turnStart,
			EndTurn:      end,
		})
	}

	for i, msg := range msgs {
		current = append(current, msg)
		for _, tc := range msg.ToolCalls {
			clusterTools = append(clusterTools, tc.Name)
		}

		var next *model.Message
		if i+1 < len(msgs) {
			next = &msgs[i+1]
		}

		if isBoundary(msg, next, clusterTools) {
			flush(msg.TurnIndex)
			turnStart = msg.TurnIndex + 1
			current = nil
			clusterTools = nil
		}
	}

	if len(current) >= 2 {
		episodes = append(episodes, model.Episode{
			Conversation: conv,
			Messages:     current,
			Type:         classify(current),
			StartTurn:    turnStart,
			EndTurn:      msgs[len(msgs)-1].TurnIndex,
		})
	}

	if len(episodes) == 0 {
		episodes = []model.Episode{{
			Conversation: conv,
			Messages:     msgs,
			Type:         classify(msgs),
			StartTurn:    msgs[0].TurnIndex,
			EndTurn:      msgs[len(msgs)-1].TurnIndex,
		}}
	}

	return episodes
}

// isBoundary implements the four boundary signals, in the order the spec
// lists them: write-after-exploration, timestamp gap, tool-call-burst
// break, and "done/moving on" phrasing.
func isBoundary(msg model.Message, next *model.Message, clusterTools []string) bool {
	readCount := 0
	hasWrite := false
	for _, t := range clusterTools {
		if explorationTools[t] {
			readCount++
		}
		if writeTools[t] {
			hasWrite = true
		}
	}
	if hasWrite && readCount >= 2 {
		return true
	}

	if next != nil && !msg.Timestamp.IsZero() && !next.Timestamp.IsZero() {
		if next.Timestamp.Sub(msg.Timestamp) > episodeGap {
			return true
		}
	}

	if msg.Role == model.RoleUser && len(clusterTools) >= 3 {
		return true
	}

	if msg.Role == model.RoleUser {
		lower := strings.ToLower(msg.Content)
		for _, phrase := range boundaryPhrases {
			if strings.Contains(lower, phrase) {
				return true
			}
		}
	}

	return false
}

// classify assigns an EpisodeType from the cluster's tool-call pattern.
func classify(messages []model.Message) model.EpisodeType {
	var toolNames []string
	for _, m := range messages {
		for _, tc := range m.ToolCalls {
			toolNames = append(toolNames, tc.Name)
		}
	}

	hasWrite, hasExplore := false, false
	for _, t := range toolNames {
		if writeTools[t] {
			hasWrite = true
		}
		if explorationTools[t] {
			hasExplore = true
		}
	}

	switch {
	case len(toolNames) == 0:
		if len(messages) <= 2 {
			return model.EpisodeSetup
		}
		return model.EpisodeVerification
	case hasWrite && !hasExplore:
		return model.EpisodeImplementation
	case hasWrite && hasExplore:
		return model.EpisodePivot
	case hasExplore && !hasWrite:
		return model.EpisodeExploration
	default:
		return model.EpisodeUnknown
	}
}
