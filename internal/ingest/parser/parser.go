// Package parser turns append-only JSONL conversation logs into structured
// Conversations, preserving thinking blocks and tool-call traces so the
// extractor sees the reasoning, not just the prose.
package parser

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deciolog/deciolog/internal/model"
)

// Parser reads JSONL log files rooted under LogsRoot and produces
// Conversations. It is not safe for concurrent use by multiple goroutines
// on the same file; the Ingestion Coordinator serializes file processing.
type Parser struct {
	LogsRoot string
}

// New returns a Parser confined to logsRoot for project-name derivation.
func New(logsRoot string) *Parser {
	return &Parser{LogsRoot: logsRoot}
}

// rawEvent is one JSONL line. A line is either a message event or a
// conversation_end boundary marker; anything else is skipped.
type rawEvent struct {
	Type      string      `json:"type"`
	Message   *rawMessage `json:"message"`
	Timestamp *time.Time  `json:"timestamp"`
}

type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// contentBlock covers the union of typed content block shapes: text,
// thinking, tool_use, tool_result.
type contentBlock struct {
	Type        string          `json:"type"`
	Text        string          `json:"text"`
	Thinking    string          `json:"thinking"`
	Name        string          `json:"name"`
	ID          string          `json:"id"`
	Input       map[string]any  `json:"input"`
	ToolUseID   string          `json:"tool_use_id"`
	Content     json.RawMessage `json:"content"` // tool_result content: string or []contentBlock
}

// HashFile returns the SHA-256 hex digest of a file's bytes, for the
// dedup set the Ingestion Coordinator maintains across a run.
func HashFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// ParseFile parses a single JSONL file into zero or more Conversations.
// Unrecognized lines are skipped; malformed JSON lines are skipped.
func (p *Parser) ParseFile(path string) ([]model.Conversation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("parser: open %s: %w", path, err)
	}
	defer f.Close()

	contentHash, err := HashFile(path)
	if err != nil {
		return nil, fmt.Errorf("parser: hash %s: %w", path, err)
	}

	projectName := p.extractProjectName(path)

	var conversations []model.Conversation
	var current []model.Message
	pending := map[string]string{} // tool_use_id -> result text
	turnIndex := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		conversations = append(conversations, buildConversation(current, path, projectName, contentHash))
		current = nil
		pending = map[string]string{}
		turnIndex = 0
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev rawEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}

		if ev.Message != nil {
			msg, ok := parseMessage(*ev.Message, ev.Timestamp, turnIndex, pending)
			// A user turn's tool_result blocks populate pending even when
			// the turn itself has no other visible content (ok == false);
			// attach them to the preceding assistant's ToolCalls either way.
			if model.Role(ev.Message.Role) == model.RoleUser && len(pending) > 0 {
				attachPendingResults(current, pending)
			}
			if ok {
				current = append(current, msg)
				turnIndex++
			}
		}

		if ev.Type == "conversation_end" {
			flush()
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parser: scan %s: %w", path, err)
	}
	flush()

	return conversations, nil
}

func buildConversation(messages []model.Message, sourceFile, projectName, contentHash string) model.Conversation {
	conv := model.Conversation{
		Messages:    messages,
		SourceFile:  sourceFile,
		ContentHash: contentHash,
		IngestedAt:  time.Now(),
	}
	if projectName != "" {
		conv.ProjectName = &projectName
	}
	if first, ok := conv.FirstUserMessage(); ok {
		conv.PreviewSummary = truncate(first.Content, 200)
	}
	return conv
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// parseMessage builds a Message from a raw JSONL message entry, matching
// any tool_result blocks it carries against the pending map, and returns
// ok=false when the message carries no content, tool calls, or thinking
// (an empty turn is not emitted).
func parseMessage(raw rawMessage, ts *time.Time, turnIndex int, pending map[string]string) (model.Message, bool) {
	role := model.Role(raw.Role)

	var blocks []contentBlock
	var contentText string

	if len(raw.Content) > 0 {
		var asString string
		if err := json.Unmarshal(raw.Content, &asString); err == nil {
			contentText = asString
		} else {
			_ = json.Unmarshal(raw.Content, &blocks)
		}
	}

	var toolCalls []model.ToolCall
	var thinkingParts []string
	var textParts []string

	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				textParts = append(textParts, b.Text)
			}
		case "thinking":
			text := b.Thinking
			if text == "" {
				text = b.Text
			}
			if text != "" {
				thinkingParts = append(thinkingParts, text)
			}
		case "tool_use":
			tc := model.ToolCall{
				Name:          b.Name,
				Input:         b.Input,
				CorrelationID: b.ID,
			}
			if tc.CorrelationID != "" {
				if result, ok := pending[tc.CorrelationID]; ok {
					r := result
					tc.Result = &r
					delete(pending, tc.CorrelationID)
				}
			}
			toolCalls = append(toolCalls, tc)
		case "tool_result":
			if b.ToolUseID == "" {
				continue
			}
			pending[b.ToolUseID] = extractResultText(b.Content)
		}
	}

	if contentText == "" && len(textParts) > 0 {
		contentText = strings.Join(textParts, "")
	}

	msg := model.Message{
		Role:      role,
		TurnIndex: turnIndex,
		Content:   contentText,
		ToolCalls: toolCalls,
	}
	if ts != nil {
		msg.Timestamp = *ts
	}
	if len(thinkingParts) > 0 {
		thinking := strings.Join(thinkingParts, "\n\n")
		msg.Thinking = &thinking
	}

	if msg.Content == "" && len(msg.ToolCalls) == 0 && msg.Thinking == nil {
		return model.Message{}, false
	}
	return msg, true
}

func extractResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "")
	}
	return ""
}

// attachPendingResults matches tool_result blocks carried by a user turn
// (collected into pending before this call) to ToolCalls on the most
// recent assistant Message, per the spec's correlation-id matching rule.
func attachPendingResults(messages []model.Message, pending map[string]string) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != model.RoleAssistant {
			continue
		}
		for j := range messages[i].ToolCalls {
			tc := &messages[i].ToolCalls[j]
			if tc.Result != nil {
				continue
			}
			if result, ok := pending[tc.CorrelationID]; ok {
				r := result
				tc.Result = &r
				delete(pending, tc.CorrelationID)
			}
		}
		return
	}
}

// extractProjectName derives a project name from the log file's path
// relative to LogsRoot, following the Claude Code directory convention
// (~/.claude/projects/-Users-username-projectname/xxx.jsonl): strip the
// leading -Users-<user>- segments and keep the remainder. The directory
// used is the first path component under LogsRoot, or the immediate parent
// directory when the path isn't under LogsRoot. The split is by hyphen
// count alone: a name with exactly three hyphen-separated segments yields
// its last segment, and only a name with fewer segments is kept whole.
func (p *Parser) extractProjectName(path string) string {
	dir := filepath.Dir(path)
	projectDir := filepath.Base(dir)

	rel, err := filepath.Rel(p.LogsRoot, path)
	if err == nil && !strings.HasPrefix(rel, "..") {
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) > 0 {
			projectDir = parts[0]
		}
	}

	segments := strings.Split(projectDir, "-")
	if len(segments) > 3 {
		return strings.Join(segments[3:], "-")
	}
	if len(segments) > 2 {
		return segments[len(segments)-1]
	}
	return projectDir
}
