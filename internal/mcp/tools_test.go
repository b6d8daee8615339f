package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/deciolog/deciolog/internal/agentctx"
	"github.com/deciolog/deciolog/internal/auth"
	"github.com/deciolog/deciolog/internal/ctxutil"
	"github.com/deciolog/deciolog/internal/model"
	"github.com/deciolog/deciolog/internal/resolver"
)

// scriptedRunner mirrors internal/agentctx's test idiom: dispatch on a
// Cypher substring, return canned rows.
type scriptedRunner struct {
	scripted map[string][]resolver.Row
}

func (r *scriptedRunner) Run(_ context.Context, cypher string, _ map[string]any) ([]resolver.Row, error) {
	for substr, rows := range r.scripted {
		if strings.Contains(cypher, substr) {
			return rows, nil
		}
	}
	return nil, nil
}

type fakeRetriever struct {
	results []model.SearchResult
	err     error
}

func (f fakeRetriever) HybridSearch(context.Context, model.HybridSearchRequest) ([]model.SearchResult, error) {
	return f.results, f.err
}

type fakeGraphWriter struct {
	err error
}

func (f fakeGraphWriter) Save(_ context.Context, d model.DecisionTrace) (model.DecisionTrace, error) {
	if f.err != nil {
		return model.DecisionTrace{}, f.err
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return d, nil
}

type fakeError struct{ msg string }

func (e fakeError) Error() string { return e.msg }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer builds a Server backed by an agentctx.Service wired to
// fakes, mirroring internal/agentctx/agentctx_test.go's own style rather
// than the teacher's Postgres-testcontainer harness.
func newTestServer(runner resolver.Runner, retriever agentctx.Retriever, writer agentctx.GraphWriter) *Server {
	svc := agentctx.New(runner, nil, retriever, writer, nil, nil, testLogger())
	return New(svc, testLogger(), "test")
}

func userCtx(userID uuid.UUID) context.Context {
	return ctxutil.WithClaims(context.Background(), &auth.Claims{UserID: userID})
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent's text from a tool result.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

// ---------- handleSummary ----------

func TestHandleSummary(t *testing.T) {
	runner := &scriptedRunner{scripted: map[string][]resolver.Row{
		"count(DISTINCT d) AS decisions": {{"decisions": int64(1), "entities": int64(2)}},
	}}
	s := newTestServer(runner, nil, nil)

	result, err := s.handleSummary(userCtx(uuid.New()), toolRequest("deciolog_summary", nil))
	require.NoError(t, err)
	require.False(t, result.IsError, "expected success: %s", parseToolText(t, result))

	var resp model.SummaryResponse
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
}

// ---------- handleCheck ----------

func TestHandleCheck_RequiresQuery(t *testing.T) {
	s := newTestServer(&scriptedRunner{}, fakeRetriever{}, nil)

	result, err := s.handleCheck(userCtx(uuid.New()), toolRequest("deciolog_check", map[string]any{}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "query is required")
}

func TestHandleCheck_ConciseFormat(t *testing.T) {
	decisionID := uuid.New()
	retriever := fakeRetriever{results: []model.SearchResult{
		{Decision: &model.DecisionTrace{ID: decisionID, Trigger: "use postgres", AgentDecision: "use postgres"}, CombinedScore: 0.9},
	}}
	s := newTestServer(&scriptedRunner{}, retriever, nil)

	result, err := s.handleCheck(userCtx(uuid.New()), toolRequest("deciolog_check", map[string]any{
		"query": "database choice",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "expected success: %s", parseToolText(t, result))

	var resp struct {
		Hits []map[string]any `json:"hits"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	require.Len(t, resp.Hits, 1)
}

func TestHandleCheck_MarkdownFormat(t *testing.T) {
	retriever := fakeRetriever{results: []model.SearchResult{
		{Decision: &model.DecisionTrace{ID: uuid.New(), Trigger: "should we use postgres", AgentDecision: "use postgres", Confidence: 0.8}},
	}}
	s := newTestServer(&scriptedRunner{}, retriever, nil)

	result, err := s.handleCheck(userCtx(uuid.New()), toolRequest("deciolog_check", map[string]any{
		"query":  "postgres",
		"format": "markdown",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "expected success: %s", parseToolText(t, result))
}

func TestHandleCheck_PropagatesRetrieverError(t *testing.T) {
	retriever := fakeRetriever{err: fakeError{"search backend down"}}
	s := newTestServer(&scriptedRunner{}, retriever, nil)

	result, err := s.handleCheck(userCtx(uuid.New()), toolRequest("deciolog_check", map[string]any{
		"query": "postgres",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "check failed")
}

func TestHandleCheck_RecordsCheckTracker(t *testing.T) {
	userID := uuid.New()
	s := newTestServer(&scriptedRunner{}, fakeRetriever{}, nil)

	assert.False(t, s.checkTracker.WasChecked(userID.String()))
	_, err := s.handleCheck(userCtx(userID), toolRequest("deciolog_check", map[string]any{"query": "x"}))
	require.NoError(t, err)
	assert.True(t, s.checkTracker.WasChecked(userID.String()))
}

// ---------- handleContext ----------

func TestHandleContext_RequiresEntityName(t *testing.T) {
	s := newTestServer(&scriptedRunner{}, nil, nil)

	result, err := s.handleContext(userCtx(uuid.New()), toolRequest("deciolog_context", map[string]any{}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "entity_name is required")
}

func TestHandleContext_NotFound(t *testing.T) {
	s := newTestServer(&scriptedRunner{}, nil, nil) // no matches scripted

	result, err := s.handleContext(userCtx(uuid.New()), toolRequest("deciolog_context", map[string]any{
		"entity_name": "postgres",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "context lookup failed")
}

func TestHandleContext_HappyPath(t *testing.T) {
	entityID := uuid.New()
	runner := &scriptedRunner{scripted: map[string][]resolver.Row{
		"toLower(e.name) = $name": {
			{"id": entityID.String(), "name": "postgres", "type": string(model.EntityTechnology)},
		},
	}}
	s := newTestServer(runner, nil, nil)

	result, err := s.handleContext(userCtx(uuid.New()), toolRequest("deciolog_context", map[string]any{
		"entity_name": "postgres",
		"entity_type": string(model.EntityTechnology),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "expected success: %s", parseToolText(t, result))
}

// ---------- handleRemember ----------

func rememberRequest(overrides map[string]any) map[string]any {
	args := map[string]any{
		"agent_name":      "claude",
		"trigger":         "need a cache for session state",
		"agent_decision":  "use Redis with 5min TTL",
		"agent_rationale": "handles expected QPS, TTL bounds staleness",
		"confidence":      0.85,
	}
	for k, v := range overrides {
		args[k] = v
	}
	return args
}

func TestHandleRemember_MissingFields(t *testing.T) {
	s := newTestServer(&scriptedRunner{}, fakeRetriever{}, fakeGraphWriter{})

	for _, field := range []string{"agent_name", "trigger", "agent_decision", "agent_rationale"} {
		t.Run("missing "+field, func(t *testing.T) {
			args := rememberRequest(nil)
			args[field] = ""
			result, err := s.handleRemember(userCtx(uuid.New()), toolRequest("deciolog_remember", args))
			require.NoError(t, err)
			require.True(t, result.IsError)
			assert.Contains(t, parseToolText(t, result), "are required")
		})
	}
}

func TestHandleRemember_InvalidConfidence(t *testing.T) {
	s := newTestServer(&scriptedRunner{}, fakeRetriever{}, fakeGraphWriter{})

	result, err := s.handleRemember(userCtx(uuid.New()), toolRequest("deciolog_remember", rememberRequest(map[string]any{
		"confidence": 1.5,
	})))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "confidence")
}

func TestHandleRemember_Success(t *testing.T) {
	s := newTestServer(&scriptedRunner{}, fakeRetriever{}, fakeGraphWriter{})

	result, err := s.handleRemember(userCtx(uuid.New()), toolRequest("deciolog_remember", rememberRequest(nil)))
	require.NoError(t, err)
	require.False(t, result.IsError, "expected successful remember: %s", parseToolText(t, result))

	var resp struct {
		DecisionID string `json:"decision_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.NotEmpty(t, resp.DecisionID)
	_, err = uuid.Parse(resp.DecisionID)
	assert.NoError(t, err, "decision_id should be a valid UUID")
}

func TestHandleRemember_NotesMissingCheck(t *testing.T) {
	userID := uuid.New()
	s := newTestServer(&scriptedRunner{}, fakeRetriever{}, fakeGraphWriter{})

	// No deciolog_check call happened first.
	result, err := s.handleRemember(userCtx(userID), toolRequest("deciolog_remember", rememberRequest(nil)))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "was not called")
}

func TestHandleRemember_NoNoteAfterCheck(t *testing.T) {
	userID := uuid.New()
	s := newTestServer(&scriptedRunner{}, fakeRetriever{}, fakeGraphWriter{})

	_, err := s.handleCheck(userCtx(userID), toolRequest("deciolog_check", map[string]any{"query": "caching"}))
	require.NoError(t, err)

	result, err := s.handleRemember(userCtx(userID), toolRequest("deciolog_remember", rememberRequest(nil)))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.NotContains(t, parseToolText(t, result), "was not called")
}

func TestHandleRemember_WriterError(t *testing.T) {
	s := newTestServer(&scriptedRunner{}, fakeRetriever{}, fakeGraphWriter{err: fakeError{"write failed"}})

	result, err := s.handleRemember(userCtx(uuid.New()), toolRequest("deciolog_remember", rememberRequest(nil)))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "remember failed")
}

func TestHandleRemember_AcceptsExplicitProject(t *testing.T) {
	// With no MCP client session in context, requestRoots returns nil, so
	// project_name stays unset unless the caller supplies one explicitly.
	s := newTestServer(&scriptedRunner{}, fakeRetriever{}, fakeGraphWriter{})

	result, err := s.handleRemember(userCtx(uuid.New()), toolRequest("deciolog_remember", rememberRequest(map[string]any{
		"project_name": "deciolog",
		"scope":        string(model.ScopeLibrary),
	})))
	require.NoError(t, err)
	require.False(t, result.IsError, "expected success: %s", parseToolText(t, result))
}
