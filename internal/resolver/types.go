// Package resolver implements the entity-resolution cascade: turning a raw
// entity mention surfaced by the extractor ("pg", "postgres database") into
// a single canonical Entity node, reusing an existing one whenever the
// cascade can establish with reasonable confidence that one already exists.
package resolver

import (
	"context"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
)

// MatchMethod records which cascade stage resolved an entity, for telemetry
// and for deciding whether a low-confidence match should be surfaced to the
// user for confirmation.
type MatchMethod string

const (
	MatchCache     MatchMethod = "cache"
	MatchExact     MatchMethod = "exact"
	MatchCanonical MatchMethod = "canonical"
	MatchAlias     MatchMethod = "alias"
	MatchFuzzy     MatchMethod = "fuzzy"
	MatchEmbedding MatchMethod = "embedding"
	MatchCreated   MatchMethod = "created"
)

// ResolvedEntity is the cascade's result for one raw mention.
type ResolvedEntity struct {
	ID            uuid.UUID
	Name          string
	Type          model.EntityType
	IsNew         bool
	MatchMethod   MatchMethod
	Confidence    float64
	CanonicalName string
	Aliases       []string
}

// Row is one Cypher query result row, keyed by RETURN alias. The Runner
// abstraction exists so the cascade can be exercised against a scripted
// fake in tests without a live Neo4j instance.
type Row map[string]any

func (r Row) str(key string) string {
	v, _ := r[key].(string)
	return v
}

func (r Row) strSlice(key string) []string {
	raw, ok := r[key].([]any)
	if !ok {
		if s, ok := r[key].([]string); ok {
			return s
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (r Row) f64(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

func (r Row) f32Slice(key string) []float32 {
	raw, ok := r[key].([]any)
	if !ok {
		if s, ok := r[key].([]float32); ok {
			return s
		}
		return nil
	}
	out := make([]float32, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			out = append(out, float32(n))
		case float32:
			out = append(out, n)
		}
	}
	return out
}

// Runner executes a single Cypher statement and returns its result rows.
// The production implementation (runner_neo4j.go) wraps neo4j.ExecuteQuery;
// tests supply a scripted fake.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) ([]Row, error)
}

// Embedder generates a vector embedding for a piece of text. A narrow
// interface rather than the concrete embedding.Provider type, so the
// resolver does not care whether the backing store for the vector is
// Postgres/pgvector, Qdrant, or Neo4j's own vector index.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
