package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/deciolog/deciolog/internal/model"
	"github.com/deciolog/deciolog/internal/resolver"
	"github.com/deciolog/deciolog/internal/search"
)

// scriptedRunner mirrors internal/analyzer's and internal/resolver's test
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

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f.vec, f.err
}

func TestHybridSearchLexicalOnlyWithoutEmbedder(t *testing.T) {
	decisionID := uuid.New()
	runner := &scriptedRunner{scripted: map[string][]resolver.Row{
		"db.index.fulltext.queryNodes('decision_fulltext'": {
			{"id": decisionID.String(), "trigger": "should we use postgres", "context": "", "agent_decision": "use postgres", "agent_rationale": "", "confidence": 0.8, "created_at": "2026-01-01T00:00:00Z", "scope": "architectural", "source": "claude_logs", "score": 5.0},
		},
	}}
	r := New(runner, nil, nil, nil, nil)

	req := model.HybridSearchRequest{UserID: uuid.New().String(), Query: "postgres", TopK: 10, Threshold: 0.1, Alpha: 0.5, IncludeDecisions: true}
	results, err := r.HybridSearch(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Decision)
	require.Equal(t, decisionID, results[0].Decision.ID)
	require.InDelta(t, 0.5, results[0].CombinedScore, 1e-9) // alpha forced to 1.0 lexical-only, score=0.5 after /10 clip
	require.Contains(t, results[0].MatchedFields, model.MatchedTrigger)
	require.Contains(t, results[0].MatchedFields, model.MatchedDecision)
}

func TestHybridSearchDropsResultsBelowThreshold(t *testing.T) {
	runner := &scriptedRunner{scripted: map[string][]resolver.Row{
		"db.index.fulltext.queryNodes('decision_fulltext'": {
			{"id": uuid.New().String(), "trigger": "x", "agent_decision": "y", "score": 0.5}, // normalizes to 0.05
		},
	}}
	r := New(runner, nil, nil, nil, nil)

	req := model.HybridSearchRequest{UserID: uuid.New().String(), Query: "x", TopK: 10, Threshold: 0.5, IncludeDecisions: true}
	results, err := r.HybridSearch(context.Background(), req)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestHybridSearchMergesLexicalAndSemanticHitsForSameDecision(t *testing.T) {
	decisionID := uuid.New()
	runner := &scriptedRunner{scripted: map[string][]resolver.Row{
		"db.index.fulltext.queryNodes('decision_fulltext'": {
			{"id": decisionID.String(), "trigger": "use postgres", "score": 10.0},
		},
		"gds.similarity.cosine(d.embedding": {
			{"id": decisionID.String(), "trigger": "use postgres", "similarity": 0.9},
		},
	}}
	r := New(runner, fakeEmbedder{vec: []float32{0.1, 0.2, 0.3}}, nil, nil, nil)

	req := model.HybridSearchRequest{UserID: uuid.New().String(), Query: "postgres", TopK: 10, Threshold: 0.1, Alpha: 0.5, IncludeDecisions: true}
	results, err := r.HybridSearch(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.InDelta(t, 1.0, results[0].LexicalScore, 1e-9)
	require.InDelta(t, 0.9, results[0].SemanticScore, 1e-9)
	require.InDelta(t, 0.5*1.0+0.5*0.9, results[0].CombinedScore, 1e-9)
}

func TestSemanticSearchRequestIsAlphaZeroNoExpansionNoRerank(t *testing.T) {
	req := model.SemanticSearchRequest("user", "q", 5, 0.2)
	require.Equal(t, 0.0, req.Alpha)
	require.Equal(t, 0, req.GraphDepth)
	require.False(t, req.Rerank)
	require.True(t, req.IncludeDecisions)
	require.False(t, req.IncludeEntities)
}

func TestCosineSimilarityIdenticalVectorsIsOne(t *testing.T) {
	v := []float32{1, 2, 3}
	require.InDelta(t, 1.0, cosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarityMismatchedLengthIsZero(t *testing.T) {
	require.Equal(t, 0.0, cosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
}

func TestNormalizeLexicalScoreClipsToUnitRange(t *testing.T) {
	require.InDelta(t, 1.0, normalizeLexicalScore(50), 1e-9)
	require.InDelta(t, 0.5, normalizeLexicalScore(5), 1e-9)
	require.InDelta(t, 0.0, normalizeLexicalScore(-1), 1e-9)
}

type fakeReranker struct {
	scores map[int]float64
}

func (f fakeReranker) Rerank(_ context.Context, _ string, candidates []model.SearchResult) ([]model.SearchResult, error) {
	out := make([]model.SearchResult, len(candidates))
	copy(out, candidates)
	for i, s := range f.scores {
		if i < len(out) {
			out[i].CombinedScore = s
		}
	}
	return out, nil
}

var errIndexUnavailable = errors.New("vector index unavailable")

type fakeVectorIndex struct {
	results []search.Result
	err     error
}

func (f fakeVectorIndex) Search(context.Context, uuid.UUID, []float32, model.QueryFilters, int) ([]search.Result, error) {
	return f.results, f.err
}

func (f fakeVectorIndex) Healthy(context.Context) error { return nil }

func TestHybridSearchUsesVectorIndexWhenConfigured(t *testing.T) {
	decisionID := uuid.New()
	runner := &scriptedRunner{scripted: map[string][]resolver.Row{
		"d.id IN $ids": {
			{"id": decisionID.String(), "trigger": "use postgres", "agent_decision": "use postgres", "confidence": 0.8, "created_at": "2026-01-01T00:00:00Z", "scope": "architectural", "source": "claude_logs"},
		},
	}}
	idx := fakeVectorIndex{results: []search.Result{{DecisionID: decisionID, Score: 0.95}}}
	r := New(runner, fakeEmbedder{vec: []float32{0.1, 0.2, 0.3}}, nil, idx, nil)

	req := model.HybridSearchRequest{UserID: uuid.New().String(), Query: "postgres", TopK: 10, Threshold: 0.1, Alpha: 0.0, IncludeDecisions: true}
	results, err := r.HybridSearch(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, decisionID, results[0].Decision.ID)
	require.InDelta(t, float64(float32(0.95)), results[0].SemanticScore, 1e-9) // search.Result.Score is a float32
}

func TestHybridSearchFallsBackWhenVectorIndexErrors(t *testing.T) {
	decisionID := uuid.New()
	runner := &scriptedRunner{scripted: map[string][]resolver.Row{
		"gds.similarity.cosine(d.embedding": {
			{"id": decisionID.String(), "trigger": "use postgres", "similarity": 0.9},
		},
	}}
	idx := fakeVectorIndex{err: errIndexUnavailable}
	r := New(runner, fakeEmbedder{vec: []float32{0.1, 0.2, 0.3}}, nil, idx, nil)

	req := model.HybridSearchRequest{UserID: uuid.New().String(), Query: "postgres", TopK: 10, Threshold: 0.1, Alpha: 0.0, IncludeDecisions: true}
	results, err := r.HybridSearch(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, decisionID, results[0].Decision.ID)
}

func TestHybridSearchRerankReplacesCombinedScore(t *testing.T) {
	idA, idB := uuid.New(), uuid.New()
	runner := &scriptedRunner{scripted: map[string][]resolver.Row{
		"db.index.fulltext.queryNodes('decision_fulltext'": {
			{"id": idA.String(), "trigger": "postgres", "score": 10.0},
			{"id": idB.String(), "trigger": "postgres too", "score": 10.0},
		},
	}}
	r := New(runner, nil, fakeReranker{scores: map[int]float64{0: 0.1, 1: 0.99}}, nil, nil)

	req := model.HybridSearchRequest{UserID: uuid.New().String(), Query: "postgres", TopK: 10, Threshold: 0.0, IncludeDecisions: true, Rerank: true, RerankingTopK: 2}
	results, err := r.HybridSearch(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// Reranker flipped the order: candidate originally at index 1 now wins.
	require.InDelta(t, 0.99, results[0].CombinedScore, 1e-9)
}
