package resolver

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/deciolog/deciolog/internal/model"
)

type fakeEntity struct {
	ID        string
	Name      string
	Type      string
	Aliases   []string
	Embedding []float32
}

func rowFor(e fakeEntity) Row {
	return Row{"id": e.ID, "name": e.Name, "type": e.Type}
}

// fakeRunner is a minimal in-memory stand-in for Neo4j, dispatching on
// distinctive substrings of each Cypher statement rather than parsing it.
type fakeRunner struct {
	entities []fakeEntity
	calls    int
}

func (f *fakeRunner) Run(_ context.Context, cypher string, params map[string]any) ([]Row, error) {
	f.calls++
	switch {
	case strings.Contains(cypher, "ANY(alias IN COALESCE(e.aliases"):
		name, _ := params["name"].(string)
		for _, e := range f.entities {
			for _, a := range e.Aliases {
				if strings.ToLower(a) == name {
					return []Row{rowFor(e)}, nil
				}
			}
		}
		return nil, nil

	case strings.Contains(cypher, "toLower(e.name) = $name"):
		name, _ := params["name"].(string)
		for _, e := range f.entities {
			if strings.ToLower(e.Name) == name {
				return []Row{rowFor(e)}, nil
			}
		}
		return nil, nil

	case strings.Contains(cypher, "fulltext.queryNodes"):
		term, _ := params["search_term"].(string)
		prefix := strings.ToLower(strings.TrimSuffix(term, "*"))
		var out []Row
		for _, e := range f.entities {
			if strings.HasPrefix(strings.ToLower(e.Name), prefix) {
				out = append(out, rowFor(e))
			}
		}
		return out, nil

	case strings.Contains(cypher, "SKIP $offset"):
		offset, _ := params["offset"].(int)
		batchSize, _ := params["batch_size"].(int)
		if offset >= len(f.entities) {
			return nil, nil
		}
		end := offset + batchSize
		if end > len(f.entities) {
			end = len(f.entities)
		}
		var out []Row
		for _, e := range f.entities[offset:end] {
			out = append(out, rowFor(e))
		}
		return out, nil

	case strings.Contains(cypher, "gds.similarity.cosine"):
		embedding, _ := params["embedding"].([]float32)
		threshold, _ := params["threshold"].(float64)
		var best *fakeEntity
		bestScore := threshold
		for i, e := range f.entities {
			if e.Embedding == nil {
				continue
			}
			sim := cosineSimilarity(embedding, e.Embedding)
			if sim > bestScore {
				bestScore = sim
				best = &f.entities[i]
			}
		}
		if best == nil {
			return nil, nil
		}
		row := rowFor(*best)
		row["similarity"] = bestScore
		return []Row{row}, nil

	case strings.Contains(cypher, "collect(DISTINCT d) AS decisions"),
		strings.Contains(cypher, "FOREACH (t IN targets"),
		strings.Contains(cypher, "FOREACH (s IN sources"):
		return nil, nil

	case strings.Contains(cypher, "DETACH DELETE secondary"):
		primaryID, _ := params["primary_id"].(string)
		secondaryID, _ := params["secondary_id"].(string)
		var secondaryName string
		kept := make([]fakeEntity, 0, len(f.entities))
		for _, e := range f.entities {
			if e.ID == secondaryID {
				secondaryName = e.Name
				continue
			}
			kept = append(kept, e)
		}
		for i := range kept {
			if kept[i].ID == primaryID {
				kept[i].Aliases = append(kept[i].Aliases, secondaryName)
			}
		}
		f.entities = kept
		return nil, nil

	case strings.Contains(cypher, "MATCH (e:Entity)"):
		var out []Row
		for _, e := range f.entities {
			out = append(out, rowFor(e))
		}
		return out, nil
	}
	return nil, nil
}

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestResolve_ExactMatchHit(t *testing.T) {
	runner := &fakeRunner{entities: []fakeEntity{{ID: uuid.New().String(), Name: "React", Type: "technology"}}}
	r := New(runner, nil, nil, uuid.New(), discardLogger())

	result, err := r.Resolve(context.Background(), "react", model.EntityTechnology)
	require.NoError(t, err)
	require.Equal(t, MatchExact, result.MatchMethod)
	require.False(t, result.IsNew)
}

func TestResolve_CanonicalMatchHit(t *testing.T) {
	runner := &fakeRunner{entities: []fakeEntity{{ID: uuid.New().String(), Name: "PostgreSQL", Type: "technology"}}}
	r := New(runner, nil, nil, uuid.New(), discardLogger())

	result, err := r.Resolve(context.Background(), "postgres", model.EntityTechnology)
	require.NoError(t, err)
	require.Equal(t, MatchCanonical, result.MatchMethod)
	require.Equal(t, "PostgreSQL", result.Name)
}

func TestResolve_AliasMatchHit(t *testing.T) {
	runner := &fakeRunner{entities: []fakeEntity{{ID: uuid.New().String(), Name: "Kubernetes", Type: "technology", Aliases: []string{"the orchestrator"}}}}
	r := New(runner, nil, nil, uuid.New(), discardLogger())

	result, err := r.Resolve(context.Background(), "the orchestrator", model.EntityTechnology)
	require.NoError(t, err)
	require.Equal(t, MatchAlias, result.MatchMethod)
	require.Equal(t, "Kubernetes", result.Name)
}

func TestResolve_FuzzyMatchHit(t *testing.T) {
	runner := &fakeRunner{entities: []fakeEntity{{ID: uuid.New().String(), Name: "TypeScript", Type: "technology"}}}
	r := New(runner, nil, nil, uuid.New(), discardLogger())

	result, err := r.Resolve(context.Background(), "Typescritp", model.EntityTechnology)
	require.NoError(t, err)
	require.Equal(t, MatchFuzzy, result.MatchMethod)
	require.Equal(t, "TypeScript", result.Name)
}

func TestResolve_CreatesNewEntityWhenNoMatch(t *testing.T) {
	runner := &fakeRunner{}
	r := New(runner, nil, nil, uuid.New(), discardLogger())

	result, err := r.Resolve(context.Background(), "Zig", model.EntityTechnology)
	require.NoError(t, err)
	require.True(t, result.IsNew)
	require.Equal(t, MatchCreated, result.MatchMethod)
	require.Equal(t, "Zig", result.Name)
}

func TestResolveBatch_MemoizesSameNormalizedName(t *testing.T) {
	runner := &fakeRunner{}
	r := New(runner, nil, nil, uuid.New(), discardLogger())

	results, err := r.ResolveBatch(context.Background(), []Mention{
		{Name: "Rust", Type: model.EntityTechnology},
		{Name: "rust", Type: model.EntityTechnology},
		{Name: "RUST", Type: model.EntityTechnology},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, results[0].ID, results[1].ID)
	require.Equal(t, results[0].ID, results[2].ID)
}

func TestMergeDuplicates_MergesSimilarEntities(t *testing.T) {
	canonicalID := uuid.New().String()
	dupeID := uuid.New().String()
	runner := &fakeRunner{entities: []fakeEntity{
		{ID: canonicalID, Name: "PostgreSQL", Type: "technology"},
		{ID: dupeID, Name: "PostgreSQI", Type: "technology"},
	}}
	r := New(runner, nil, nil, uuid.New(), discardLogger())

	stats, err := r.MergeDuplicates(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.GroupsFound)
	require.Equal(t, 1, stats.EntitiesMerged)
	require.Len(t, runner.entities, 1)
	require.Equal(t, "PostgreSQL", runner.entities[0].Name)
	require.Contains(t, runner.entities[0].Aliases, "PostgreSQI")
}

func TestCanonicalName_Lookup(t *testing.T) {
	require.Equal(t, "PostgreSQL", model.GetCanonicalName("pg"))
	require.Equal(t, "unknownthing", model.GetCanonicalName("unknownthing"))
}
