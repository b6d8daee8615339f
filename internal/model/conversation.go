// Package model defines the core domain types shared across the ingestion,
// extraction, resolution, and graph layers of deciolog.
package model

import "time"

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ToolCall is a single tool invocation on an assistant Message, with its
// matched result (if any was found in a subsequent user-turn tool_result
// block sharing the same correlation id).
type ToolCall struct {
	Name          string         `json:"name"`
	Input         map[string]any `json:"input"`
	Result        *string        `json:"result,omitempty"`
	CorrelationID string         `json:"correlation_id"`
}

// Message is one conversation-local turn. TurnIndex is 0-based and strictly
// monotonic within a Conversation. Thinking, when present, is the model's
// internal deliberation block — the highest-fidelity rationale signal
// available to the extractor.
type Message struct {
	Role      Role       `json:"role"`
	TurnIndex int        `json:"turn_index"`
	Content   string     `json:"content"`
	Thinking  *string    `json:"thinking,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Conversation is an ordered sequence of Messages read from one source file.
type Conversation struct {
	Messages []Message `json:"messages"`

	// ProjectName is the optional grouping tag. Falls back to the source
	// file's parent directory name when the log stream does not supply one
	// (see original_source/services/parser.py).
	ProjectName *string `json:"project_name,omitempty"`

	SourceFile  string    `json:"source_file"`
	ContentHash string    `json:"content_hash"` // SHA-256 of the source file's bytes.
	IngestedAt  time.Time `json:"ingested_at"`

	// PreviewSummary is the first ~200 chars of the first user message.
	// Used by the ingestion preview endpoint so a human can tell what an
	// import will produce before committing extraction calls to it.
	PreviewSummary string `json:"preview_summary,omitempty"`
}

// FullText concatenates every message's content, in turn order, separated
// by blank lines. Unlike Episode.StructuredText it carries no turn headers
// or tool-call lines — it exists purely as the haystack for verbatim-quote
// grounding and decision-type keyword detection against the whole source
// conversation, not just one episode's slice of it.
func (c Conversation) FullText() string {
	parts := make([]string, 0, len(c.Messages))
	for _, m := range c.Messages {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	text := ""
	for i, p := range parts {
		if i > 0 {
			text += "\n\n"
		}
		text += p
	}
	return text
}

// FirstUserMessage returns the first user-role Message, if any.
func (c Conversation) FirstUserMessage() (Message, bool) {
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			return m, true
		}
	}
	return Message{}, false
}
