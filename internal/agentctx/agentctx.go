// Package agentctx implements the Agent Context Service (spec.md §4.8):
// four user-scoped operations — Summary, Focused Context, Entity Context,
// and Remember — that compose the Graph Writer, the hybrid retriever, and
// the pair analyzer into read-optimized, cached views for AI agent clients.
//
// Grounded on the teacher's internal/service/decisions.Service: a struct
// holding narrow collaborator interfaces plus a logger, constructor-injected
// metrics/cache, "op: %w" error wrapping, and one exported method per
// client-facing operation.
package agentctx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/analyzer"
	"github.com/deciolog/deciolog/internal/model"
	"github.com/deciolog/deciolog/internal/resolver"
)

// ErrEntityNotFound is returned by EntityContext when the resolver cascade
// cannot find an existing entity (and would otherwise have minted a new
// one) — Entity Context is a read, so entity creation is refused here.
var ErrEntityNotFound = errors.New("agentctx: entity not found")

// Retriever is the subset of *retrieval.Retriever Focused Context needs.
type Retriever interface {
	HybridSearch(ctx context.Context, req model.HybridSearchRequest) ([]model.SearchResult, error)
}

// GraphWriter is the subset of *graph.Writer Remember needs.
type GraphWriter interface {
	Save(ctx context.Context, d model.DecisionTrace) (model.DecisionTrace, error)
}

// PairAnalyzer is the subset of *analyzer.Analyzer Remember needs to flag
// potential SUPERSEDES/CONTRADICTS targets among similar existing decisions
// without writing anything back to the graph (that's left to the background
// analyzer sweep; Remember only surfaces the candidates to the caller).
type PairAnalyzer interface {
	AnalyzePair(ctx context.Context, x, y model.DecisionTrace) (*analyzer.PairResult, error)
}

// Service bundles the four Agent Context Service operations.
type Service struct {
	runner    resolver.Runner
	embedder  resolver.Embedder
	retriever Retriever
	writer    GraphWriter
	pairs     PairAnalyzer
	cache     *Cache
	logger    *slog.Logger
}

// New returns a Service. embedder may be nil (Entity Context's resolver
// cascade skips its embedding-similarity stage). cache may be nil to
// disable caching entirely.
func New(runner resolver.Runner, embedder resolver.Embedder, retriever Retriever, writer GraphWriter, pairs PairAnalyzer, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{runner: runner, embedder: embedder, retriever: retriever, writer: writer, pairs: pairs, cache: cache, logger: logger}
}

func (s *Service) run(ctx context.Context, cypher string, params map[string]any) ([]resolver.Row, error) {
	rows, err := s.runner.Run(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("agentctx: %w", err)
	}
	return rows, nil
}

// invalidate bumps the per-user cache version, per spec.md §4.8's "Remember
// invalidates agent caches" requirement.
func (s *Service) invalidate(ctx context.Context, userID uuid.UUID) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, userID.String())
	}
}

// InvalidateUser satisfies internal/ingest/coordinator.CacheInvalidator, so
// the ingestion coordinator can drop a user's cached Agent Context Service
// responses after a batch of episodes changes their graph, the same way
// Remember invalidates after a single decision.
func (s *Service) InvalidateUser(ctx context.Context, userID uuid.UUID) error {
	s.invalidate(ctx, userID)
	return nil
}
