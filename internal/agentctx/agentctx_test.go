package agentctx

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/deciolog/deciolog/internal/analyzer"
	"github.com/deciolog/deciolog/internal/model"
	"github.com/deciolog/deciolog/internal/resolver"
)

// scriptedRunner mirrors internal/retrieval's and internal/resolver's test
// idiom: dispatch on a Cypher substring, return canned rows.
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
	return d, nil
}

type fakePairAnalyzer struct {
	result *analyzer.PairResult
	err    error
}

func (f fakePairAnalyzer) AnalyzePair(context.Context, model.DecisionTrace, model.DecisionTrace) (*analyzer.PairResult, error) {
	return f.result, f.err
}

func TestSummaryComputesCountsAndRanking(t *testing.T) {
	userID := uuid.New()
	idA, idB := uuid.New(), uuid.New()

	runner := &scriptedRunner{scripted: map[string][]resolver.Row{
		"count(DISTINCT d) AS decisions": {
			{"decisions": 2.0, "entities": 3.0},
		},
		"d.project_name AS project_name, entity_count,": {
			{
				"id": idA.String(), "trigger": "t1", "agent_decision": "d1", "confidence": 0.9,
				"created_at": "2026-01-01T00:00:00Z", "turn_index": 3.0, "entity_count": 4.0, "is_current": true,
			},
			{
				"id": idB.String(), "trigger": "t2", "agent_decision": "d2", "confidence": 0.5,
				"created_at": "2026-01-02T00:00:00Z", "entity_count": 0.0, "is_current": false,
			},
		},
	}}

	svc := New(runner, nil, nil, nil, nil, nil, nil)
	resp, err := svc.Summary(context.Background(), userID)
	require.NoError(t, err)

	require.Equal(t, 2, resp.DecisionCount)
	require.Equal(t, 3, resp.EntityCount)
	require.Len(t, resp.TopDecisions, 2)
	require.Equal(t, idA, resp.TopDecisions[0].Decision.ID)
	require.InDelta(t, 0.78, resp.TopDecisions[0].Score, 1e-9)
	require.True(t, resp.TopDecisions[0].IsCurrent)
	require.Equal(t, idB, resp.TopDecisions[1].Decision.ID)
	require.InDelta(t, 0.2, resp.TopDecisions[1].Score, 1e-9)
	require.False(t, resp.TopDecisions[1].IsCurrent)
}

func TestSummaryNilCacheClientPassesThrough(t *testing.T) {
	userID := uuid.New()
	runner := &scriptedRunner{} // would return nil for every query if hit
	cache := NewCache(nil, nil)

	svc := New(runner, nil, nil, nil, nil, cache, nil)
	// With a nil redis client, Cache.Get always misses, so this just
	// exercises that a nil client doesn't panic and Summary still runs.
	resp, err := svc.Summary(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, 0, resp.DecisionCount)
}

func TestFocusedContextEnforcesTokenBudget(t *testing.T) {
	userID := uuid.New()
	d1 := uuid.New()
	d2 := uuid.New()

	long := strings.Repeat("x", 100)
	retriever := fakeRetriever{results: []model.SearchResult{
		{Decision: &model.DecisionTrace{ID: d1, UserID: userID, Trigger: long, AgentDecision: long, CreatedAt: mustParseTime("2026-01-01T00:00:00Z")}},
		{Decision: &model.DecisionTrace{ID: d2, UserID: userID, Trigger: long, AgentDecision: long, CreatedAt: mustParseTime("2026-01-02T00:00:00Z")}},
	}}
	runner := &scriptedRunner{} // no supersession/entity/chain/contradiction rows scripted

	svc := New(runner, nil, retriever, nil, nil, nil, nil)
	resp, err := svc.FocusedContext(context.Background(), model.FocusedContextRequest{
		UserID: userID.String(), Query: "postgres", TokenBudget: 50,
	})
	require.NoError(t, err)
	require.True(t, resp.Truncated)
	require.Len(t, resp.Hits, 1)
	require.Equal(t, d1, resp.Hits[0].Result.Decision.ID)
	require.True(t, resp.Hits[0].IsCurrent)
}

func TestFocusedContextMarkdownRendering(t *testing.T) {
	userID := uuid.New()
	retriever := fakeRetriever{results: []model.SearchResult{
		{Decision: &model.DecisionTrace{ID: uuid.New(), UserID: userID, Trigger: "should we use postgres", AgentDecision: "use postgres", AgentRationale: "proven at scale", Confidence: 0.8}},
	}}
	runner := &scriptedRunner{}

	svc := New(runner, nil, retriever, nil, nil, nil, nil)
	resp, err := svc.FocusedContext(context.Background(), model.FocusedContextRequest{
		UserID: userID.String(), Query: "postgres", Markdown: true,
	})
	require.NoError(t, err)
	require.Contains(t, resp.Markdown, "should we use postgres (current)")
	require.Contains(t, resp.Markdown, "use postgres")
}

func TestEntityContextReturnsErrNotFoundForNewEntity(t *testing.T) {
	userID := uuid.New()
	runner := &scriptedRunner{} // no matches at any cascade stage

	svc := New(runner, nil, nil, nil, nil, nil, nil)
	_, err := svc.EntityContext(context.Background(), model.EntityContextRequest{
		UserID: userID.String(), EntityName: "postgres", EntityType: model.EntityTechnology,
	})
	require.ErrorIs(t, err, ErrEntityNotFound)
}

func TestEntityContextHappyPath(t *testing.T) {
	userID := uuid.New()
	entityID := uuid.New()
	decisionID := uuid.New()

	runner := &scriptedRunner{scripted: map[string][]resolver.Row{
		"toLower(e.name) = $name": {
			{"id": entityID.String(), "name": "postgres", "type": string(model.EntityTechnology)},
		},
		"INVOLVES]->(e:Entity {id: $entity_id})": {
			{
				"id": decisionID.String(), "trigger": "t1", "agent_decision": "d1", "confidence": 0.9,
				"created_at": "2026-01-01T00:00:00Z", "is_current": true,
			},
		},
	}}

	svc := New(runner, nil, nil, nil, nil, nil, nil)
	resp, err := svc.EntityContext(context.Background(), model.EntityContextRequest{
		UserID: userID.String(), EntityName: "postgres", EntityType: model.EntityTechnology,
	})
	require.NoError(t, err)
	require.Equal(t, entityID, resp.Entity.ID)
	require.Len(t, resp.Decisions, 1)
	require.False(t, resp.Decisions[0].Superseded)
	require.Len(t, resp.Timeline, 1)
	require.Equal(t, decisionID, resp.Timeline[0].DecisionID)
}

func TestRememberSavesAndFlagsPotentialSupersedes(t *testing.T) {
	userID := uuid.New()
	existingID := uuid.New()
	runner := &scriptedRunner{}
	writer := fakeGraphWriter{}
	retriever := fakeRetriever{results: []model.SearchResult{
		{Decision: &model.DecisionTrace{ID: existingID, UserID: userID, Trigger: "old trigger"}},
	}}
	pairs := fakePairAnalyzer{result: &analyzer.PairResult{Type: "SUPERSEDES", Confidence: 0.9}}

	svc := New(runner, nil, retriever, writer, pairs, nil, nil)
	resp, err := svc.Remember(context.Background(), model.RememberRequest{
		AgentName: "claude",
		Decision: model.DecisionTrace{
			UserID: userID, Trigger: "use postgres", AgentDecision: "use postgres", Confidence: 0.8,
		},
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, resp.DecisionID)
	require.Len(t, resp.SimilarDecisions, 1)
	require.Equal(t, []uuid.UUID{existingID}, resp.PotentialSupersedes)
	require.Empty(t, resp.PotentialContradicts)
}

func TestRememberDropsLowConfidencePairResult(t *testing.T) {
	userID := uuid.New()
	existingID := uuid.New()
	runner := &scriptedRunner{}
	writer := fakeGraphWriter{}
	retriever := fakeRetriever{results: []model.SearchResult{
		{Decision: &model.DecisionTrace{ID: existingID, UserID: userID, Trigger: "old trigger"}},
	}}
	pairs := fakePairAnalyzer{result: &analyzer.PairResult{Type: "CONTRADICTS", Confidence: 0.3}}

	svc := New(runner, nil, retriever, writer, pairs, nil, nil)
	resp, err := svc.Remember(context.Background(), model.RememberRequest{
		AgentName: "claude",
		Decision:  model.DecisionTrace{UserID: userID, Trigger: "use postgres", AgentDecision: "use postgres"},
	})
	require.NoError(t, err)
	require.Empty(t, resp.PotentialSupersedes)
	require.Empty(t, resp.PotentialContradicts)
}

func mustParseTime(s string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		panic(err)
	}
	return parsed
}
