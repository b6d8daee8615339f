package graph

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/deciolog/deciolog/internal/coderesolve"
	"github.com/deciolog/deciolog/internal/model"
	"github.com/deciolog/deciolog/internal/resolver"
)

// recordingRunner is a minimal in-memory stand-in for Neo4j, dispatching on
// distinctive substrings of each Cypher statement, matching resolver's
// fakeRunner test idiom.
type recordingRunner struct {
	mu    sync.Mutex
	calls []call

	decisionEmbeddings map[string][]float32
}

type call struct {
	cypher string
	params map[string]any
}

func (r *recordingRunner) Run(_ context.Context, cypher string, params map[string]any) ([]resolver.Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{cypher: cypher, params: params})

	switch {
	case strings.Contains(cypher, "MATCH (other:DecisionTrace)") && strings.Contains(cypher, "other.embedding IS NOT NULL"):
		return nil, nil // no prior decisions in this fixture
	default:
		return nil, nil
	}
}

func (r *recordingRunner) callCount(substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if strings.Contains(c.cypher, substr) {
			n++
		}
	}
	return n
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeExtractor struct {
	entities      []model.ExtractedEntity
	relationships []model.ExtractedRelationship
}

func (f fakeExtractor) ExtractEntities(context.Context, string) ([]model.ExtractedEntity, error) {
	return f.entities, nil
}

func (f fakeExtractor) ExtractEntityRelationships(context.Context, []string, string) ([]model.ExtractedRelationship, error) {
	return f.relationships, nil
}

func newTestDecision() model.DecisionTrace {
	return model.DecisionTrace{
		ID:             uuid.New(),
		Trigger:        "Need to pick a database",
		Context:        "relational workload",
		AgentDecision:  "Use PostgreSQL",
		AgentRationale: "team SQL expertise",
		Options:        []string{"Use PostgreSQL", "Use MongoDB"},
		Confidence:     0.9,
		RawConfidence:  0.9,
		CreatedAt:      time.Now().UTC(),
		Source:         model.SourceClaudeLogs,
		UserID:         uuid.New(),
		Scope:          model.ScopeArchitectural,
	}
}

func TestWriterSaveWritesNodeAndEntities(t *testing.T) {
	runner := &recordingRunner{}
	extractor := fakeExtractor{
		entities: []model.ExtractedEntity{
			{Name: "PostgreSQL", Type: model.EntityTechnology, Confidence: 0.9},
			{Name: "MongoDB", Type: model.EntityTechnology, Confidence: 0.8},
		},
		relationships: []model.ExtractedRelationship{
			{From: "PostgreSQL", To: "MongoDB", Type: model.EdgeRelatedTo, Confidence: 0.7},
		},
	}
	resolverFor := func(userID uuid.UUID) *resolver.Resolver {
		return resolver.New(runner, nil, fakeEmbedder{}, userID, nil)
	}

	w := New(runner, resolverFor, extractor, nil, fakeEmbedder{}, nil, nil, 0, 0, nil)
	d := newTestDecision()

	saved, err := w.Save(context.Background(), d)
	require.NoError(t, err)
	require.NotNil(t, saved.Embedding)

	require.GreaterOrEqual(t, runner.callCount("MERGE (d:DecisionTrace"), 1)
	require.GreaterOrEqual(t, runner.callCount("MERGE (d)-[rel:INVOLVES]->(e)"), 1)
	require.GreaterOrEqual(t, runner.callCount("MERGE (c:CandidateDecision"), 1)
}

type fakeCodeResolver struct {
	resolved coderesolve.ResolvedFile
	ok       bool
}

func (f fakeCodeResolver) Resolve(string) (coderesolve.ResolvedFile, bool) {
	return f.resolved, f.ok
}

func TestWriterSaveResolvesFreeTextFileMentionViaCodeResolver(t *testing.T) {
	runner := &recordingRunner{}
	extractor := fakeExtractor{
		entities: []model.ExtractedEntity{
			{Name: "the extractor", Type: model.EntityFile, Confidence: 0.8},
		},
	}
	resolverFor := func(userID uuid.UUID) *resolver.Resolver {
		return resolver.New(runner, nil, fakeEmbedder{}, userID, nil)
	}
	codeResolver := fakeCodeResolver{
		resolved: coderesolve.ResolvedFile{
			Path: "internal/extractor/extractor.go", Stem: "extractor", Language: "go",
			Confidence: 0.95, Method: coderesolve.MethodStem,
		},
		ok: true,
	}

	w := New(runner, resolverFor, extractor, codeResolver, fakeEmbedder{}, nil, nil, 0, 0, nil)
	d := newTestDecision()

	_, err := w.Save(context.Background(), d)
	require.NoError(t, err)

	require.Equal(t, 1, runner.callCount("MERGE (c:CodeEntity"))
	require.Equal(t, 0, runner.callCount("MERGE (d)-[rel:INVOLVES]->(e)"), "file mentions must not also create a generic Entity node")

	for _, c := range runner.calls {
		if strings.Contains(c.cypher, "MERGE (c:CodeEntity") {
			require.Equal(t, "internal/extractor/extractor.go", c.params["file_path"])
			require.InDelta(t, 0.95*0.8, c.params["confidence"], 1e-9)
		}
	}
}

func TestWriterSaveSkipsCodeEntityWhenResolverMisses(t *testing.T) {
	runner := &recordingRunner{}
	extractor := fakeExtractor{
		entities: []model.ExtractedEntity{
			{Name: "nonexistent file", Type: model.EntityFile, Confidence: 0.8},
		},
	}
	codeResolver := fakeCodeResolver{ok: false}
	resolverFor := func(userID uuid.UUID) *resolver.Resolver {
		return resolver.New(runner, nil, fakeEmbedder{}, userID, nil)
	}

	w := New(runner, resolverFor, extractor, codeResolver, fakeEmbedder{}, nil, nil, 0, 0, nil)
	d := newTestDecision()

	_, err := w.Save(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, 0, runner.callCount("MERGE (c:CodeEntity"))
}

func TestWriterSaveSkipsCandidateForChosenOption(t *testing.T) {
	runner := &recordingRunner{}
	w := New(runner, nil, nil, nil, nil, nil, nil, 0, 0, nil)
	d := newTestDecision()
	d.Options = []string{d.AgentDecision}

	_, err := w.Save(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, 0, runner.callCount("CandidateDecision"))
}

func TestWriterSaveIsResilientToMissingExtractor(t *testing.T) {
	runner := &recordingRunner{}
	w := New(runner, nil, nil, nil, nil, nil, nil, 0, 0, nil)
	d := newTestDecision()

	saved, err := w.Save(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, d.ID, saved.ID)
}

func TestDecisionEmbeddingTextJoinsFields(t *testing.T) {
	d := newTestDecision()
	text := decisionEmbeddingText(d)
	require.Contains(t, text, d.Trigger)
	require.Contains(t, text, d.AgentDecision)
	require.Contains(t, text, "Use PostgreSQL, Use MongoDB")
}

func TestCosineSimilarity(t *testing.T) {
	require.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-9)
	require.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	require.Equal(t, 0.0, cosineSimilarity(nil, []float32{1}))
}

func TestFireAndForgetCallsScannerAndAnalytics(t *testing.T) {
	var scanned, analyzed bool
	var wg sync.WaitGroup
	wg.Add(2)

	scanner := scannerFunc(func(context.Context, model.DecisionTrace) {
		scanned = true
		wg.Done()
	})
	sink := sinkFunc(func(context.Context, model.DecisionTrace) {
		analyzed = true
		wg.Done()
	})

	runner := &recordingRunner{}
	w := New(runner, nil, nil, nil, nil, scanner, sink, 0, 0, nil)
	d := newTestDecision()

	_, err := w.Save(context.Background(), d)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fire-and-forget callbacks did not run in time")
	}
	require.True(t, scanned)
	require.True(t, analyzed)
}

type scannerFunc func(context.Context, model.DecisionTrace)

func (f scannerFunc) ScanOnSave(ctx context.Context, d model.DecisionTrace) { f(ctx, d) }

type sinkFunc func(context.Context, model.DecisionTrace)

func (f sinkFunc) DecisionSaved(ctx context.Context, d model.DecisionTrace) { f(ctx, d) }
