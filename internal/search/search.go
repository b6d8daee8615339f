// Package search provides an optional ANN (approximate nearest neighbor)
// accelerator for decision vector search, backed by Qdrant.
//
// internal/retrieval's hybrid search already runs entirely against Neo4j
// (gds.similarity.cosine, falling back to an in-memory manual scan when GDS
// isn't installed) and that remains the only path for entity search and
// graph expansion, neither of which a decision-only vector store like
// Qdrant knows about. This package exists purely as a faster alternative to
// the manual-scan fallback for the decision side of semantic search, for
// deployments large enough that scanning semanticScanCap rows in Neo4j on
// every query is no longer cheap. When no Searcher is configured,
// internal/retrieval falls back to its graph-native path unchanged.
package search

import (
	"context"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
)

// Result holds a decision ID and its raw similarity score from the search
// index. The caller hydrates the full DecisionTrace from Neo4j (the source
// of truth) by ID.
type Result struct {
	DecisionID uuid.UUID
	Score      float32
}

// Searcher is the interface for ANN vector search indexes accelerating
// decision semantic search. Implementations must be safe for concurrent use.
type Searcher interface {
	// Search returns decision IDs matching the query vector, scoped to a
	// single user and optionally narrowed by scope/source. Returns IDs +
	// raw similarity scores; the caller hydrates from Neo4j.
	Search(ctx context.Context, userID uuid.UUID, embedding []float32, filters model.QueryFilters, limit int) ([]Result, error)

	// Healthy returns nil if the search index is reachable, or an error
	// describing the problem.
	Healthy(ctx context.Context) error
}
