package model

import (
	"fmt"
	"strings"
)

// EpisodeType classifies the dominant activity of an Episode, derived from
// its tool-call pattern.
type EpisodeType string

const (
	EpisodeSetup          EpisodeType = "setup"
	EpisodeExploration    EpisodeType = "exploration"
	EpisodePivot          EpisodeType = "pivot"
	EpisodeImplementation EpisodeType = "implementation"
	EpisodeVerification   EpisodeType = "verification"
	EpisodeUnknown        EpisodeType = "unknown"
)

// Episode is a contiguous slice of a Conversation's Messages representing
// one decision arc. Boundaries are detected by the segmenter; Episodes of
// length < 2 are never emitted (a conversation with no boundary yields
// exactly one episode covering all messages).
type Episode struct {
	Conversation *Conversation
	Messages     []Message
	Type         EpisodeType

	// StartTurn/EndTurn are the inclusive turn_index range this episode
	// spans within its parent Conversation.
	StartTurn int
	EndTurn   int
}

const (
	toolParamSummaryChars = 120
	toolResultChars       = 500
)

// StructuredText renders the episode as a turn-by-turn transcript suitable
// for LLM consumption: one `[Turn N | role]` header per message, the
// thinking block (if any) wrapped in markers, one line per tool call with a
// truncated parameter summary and result, and the plain response text.
func (e Episode) StructuredText() string {
	var b strings.Builder
	for _, m := range e.Messages {
		fmt.Fprintf(&b, "[Turn %d | %s]\n", m.TurnIndex, m.Role)
		if m.Thinking != nil && *m.Thinking != "" {
			fmt.Fprintf(&b, "<thinking>\n%s\n</thinking>\n", *m.Thinking)
		}
		for _, tc := range m.ToolCalls {
			b.WriteString(formatToolCallLine(tc))
			b.WriteByte('\n')
		}
		if m.Content != "" {
			b.WriteString(m.Content)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func formatToolCallLine(tc ToolCall) string {
	summary := fmt.Sprintf("%v", tc.Input)
	if len(summary) > toolParamSummaryChars {
		summary = summary[:toolParamSummaryChars] + "…"
	}
	line := fmt.Sprintf("Tool[%s](%s)", tc.Name, summary)
	if tc.Result != nil {
		result := *tc.Result
		if len(result) > toolResultChars {
			result = result[:toolResultChars] + "…"
		}
		line += " -> " + result
	}
	return line
}

// ThinkingText concatenates every thinking block in the episode, in turn
// order, separated by blank lines.
func (e Episode) ThinkingText() string {
	var parts []string
	for _, m := range e.Messages {
		if m.Thinking != nil && *m.Thinking != "" {
			parts = append(parts, *m.Thinking)
		}
	}
	return strings.Join(parts, "\n\n")
}

// HasThinking reports whether any message in the episode carries a
// thinking block.
func (e Episode) HasThinking() bool {
	for _, m := range e.Messages {
		if m.Thinking != nil && *m.Thinking != "" {
			return true
		}
	}
	return false
}

// ToolCallPaths returns the union of file paths referenced across all
// tool-call inputs in the episode, in first-seen order. These are the
// tool-call ground-truth paths the Graph Writer uses for AFFECTS edges at
// confidence 1.0.
func (e Episode) ToolCallPaths() []string {
	seen := make(map[string]struct{})
	var paths []string
	for _, m := range e.Messages {
		for _, tc := range m.ToolCalls {
			for _, key := range []string{"file_path", "path", "filePath"} {
				v, ok := tc.Input[key]
				if !ok {
					continue
				}
				s, ok := v.(string)
				if !ok || s == "" {
					continue
				}
				if _, dup := seen[s]; dup {
					continue
				}
				seen[s] = struct{}{}
				paths = append(paths, s)
			}
		}
	}
	return paths
}
