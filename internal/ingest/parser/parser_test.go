package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deciolog/deciolog/internal/model"
)

func writeLog(t *testing.T, dir, name string, lines []string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseFile_BasicTurns(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "a.jsonl", []string{
		`{"type":"message","message":{"role":"user","content":"how should we store embeddings?"},"timestamp":"2026-01-01T00:00:00Z"}`,
		`{"type":"message","message":{"role":"assistant","content":"use Neo4j native vector indices"},"timestamp":"2026-01-01T00:00:05Z"}`,
		`{"type":"conversation_end"}`,
	})

	p := New(dir)
	convs, err := p.ParseFile(path)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Len(t, convs[0].Messages, 2)
	require.Equal(t, model.RoleUser, convs[0].Messages[0].Role)
	require.Equal(t, 0, convs[0].Messages[0].TurnIndex)
	require.Equal(t, 1, convs[0].Messages[1].TurnIndex)
	require.NotEmpty(t, convs[0].ContentHash)
	require.Equal(t, "how should we store embeddings?", convs[0].PreviewSummary)
}

func TestParseFile_ToolCallCorrelation(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "a.jsonl", []string{
		`{"type":"message","message":{"role":"user","content":"look at config.go"}}`,
		`{"type":"message","message":{"role":"assistant","content":[{"type":"thinking","thinking":"need to read the file first"},{"type":"tool_use","id":"tu_1","name":"Read","input":{"file_path":"internal/config/config.go"}}]}}`,
		`{"type":"message","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu_1","content":"package config"}]}}`,
		`{"type":"conversation_end"}`,
	})

	p := New(dir)
	convs, err := p.ParseFile(path)
	require.NoError(t, err)
	require.Len(t, convs, 1)

	msgs := convs[0].Messages
	require.Len(t, msgs, 2) // the tool_result-only user turn carries no content/tool calls/thinking, so it's dropped
	assistant := msgs[1]
	require.NotNil(t, assistant.Thinking)
	require.Len(t, assistant.ToolCalls, 1)
	require.NotNil(t, assistant.ToolCalls[0].Result)
	require.Equal(t, "package config", *assistant.ToolCalls[0].Result)
}

func TestParseFile_UnmatchedResultDiscarded(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "a.jsonl", []string{
		`{"type":"message","message":{"role":"user","content":"go"}}`,
		`{"type":"message","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu_missing","content":"orphaned"}]}}`,
		`{"type":"conversation_end"}`,
	})

	p := New(dir)
	convs, err := p.ParseFile(path)
	require.NoError(t, err)
	require.Len(t, convs, 1)
}

func TestParseFile_NoBoundaryFlushesAtEOF(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "a.jsonl", []string{
		`{"type":"message","message":{"role":"user","content":"hi"}}`,
		`{"type":"message","message":{"role":"assistant","content":"hello"}}`,
	})

	p := New(dir)
	convs, err := p.ParseFile(path)
	require.NoError(t, err)
	require.Len(t, convs, 1)
}

func TestExtractProjectName(t *testing.T) {
	p := New("/home/user/.claude/projects")
	name := p.extractProjectName("/home/user/.claude/projects/-Users-alice-myproject/session.jsonl")
	require.Equal(t, "myproject", name)
}

func TestDedup(t *testing.T) {
	d := NewDedup()
	require.False(t, d.Seen("abc"))
	require.True(t, d.Mark("abc"))
	require.True(t, d.Seen("abc"))
	require.False(t, d.Mark("abc"))
}
