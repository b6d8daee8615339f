// Package retrieval implements the hybrid search described in spec.md §4.7:
// lexical full-text search and semantic vector search over the graph,
// fused by an alpha mix, optionally widened by graph expansion and
// re-ordered by a reranker.
//
// Grounded on the teacher's internal/search package for the overall shape
// (a Result type plus a rescoring pass that sorts and truncates) and on
// internal/resolver's gds.similarity.cosine-with-manual-fallback pattern
// for the vector side, since the teacher's own vector store (Qdrant) is
// decision-only and this spec also searches entities and expands across
// graph edges that Qdrant doesn't know about. When an internal/search.Searcher
// is configured, it runs ahead of the gds/manual-scan cascade as a faster
// decision-only accelerator; entity search and graph expansion always stay
// graph-native.
package retrieval

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
	"github.com/deciolog/deciolog/internal/resolver"
	"github.com/deciolog/deciolog/internal/search"
)

// decisionFulltextIndex mirrors resolver.entityFulltextIndex: a Neo4j
// fulltext index over DecisionTrace's searchable text fields, assumed
// provisioned alongside entity_fulltext.
const decisionFulltextIndex = "decision_fulltext"

// graphExpansionDecay is the per-hop score multiplier spec.md §4.7 assigns
// to nodes reached only through graph expansion, not a direct hit.
const graphExpansionDecay = 0.7

// expansionRelationships are the edge types graph expansion traverses.
var expansionRelationships = []model.EdgeType{
	model.EdgeInvolves, model.EdgeFollows, model.EdgePrecedes, model.EdgeRelatedTo,
}

// Retriever runs hybrid retrieval against the graph. Runner and Embedder
// are resolver's narrow interfaces, reused here rather than redeclared —
// the same Neo4j runner and embedding provider the resolver and graph
// writer already hold.
type Retriever struct {
	runner      resolver.Runner
	embedder    resolver.Embedder
	reranker    Reranker        // may be nil, disabling step 6
	vectorIndex search.Searcher // may be nil, skipping the ANN fast path
	logger      *slog.Logger
}

// New returns a Retriever. embedder may be nil, in which case semantic
// search is skipped and the combine step degrades to lexical-only
// (spec.md §4.7 step 1). reranker may be nil, disabling reranking
// regardless of what the caller's request asks for. vectorIndex may be
// nil, in which case decision semantic search runs entirely against
// Neo4j (gds.similarity.cosine, falling back to a manual scan).
func New(runner resolver.Runner, embedder resolver.Embedder, reranker Reranker, vectorIndex search.Searcher, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{runner: runner, embedder: embedder, reranker: reranker, vectorIndex: vectorIndex, logger: logger}
}

// candidate accumulates a single node's lexical and semantic scores before
// the combine step, keyed by the node's own id so a decision (or entity)
// found by both searches is merged rather than duplicated.
type candidate struct {
	decision      *model.DecisionTrace
	entity        *model.Entity
	lexicalScore  float64
	semanticScore float64
	matchedFields map[model.MatchedField]bool
	fromExpansion bool
}

func (c *candidate) id() uuid.UUID {
	if c.decision != nil {
		return c.decision.ID
	}
	return c.entity.ID
}

func (c *candidate) addMatchedFields(fields ...model.MatchedField) {
	if c.matchedFields == nil {
		c.matchedFields = make(map[model.MatchedField]bool)
	}
	for _, f := range fields {
		c.matchedFields[f] = true
	}
}

func (c *candidate) matchedFieldSlice() []model.MatchedField {
	out := make([]model.MatchedField, 0, len(c.matchedFields))
	for f := range c.matchedFields {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HybridSearch runs the full §4.7 pipeline.
func (r *Retriever) HybridSearch(ctx context.Context, req model.HybridSearchRequest) ([]model.SearchResult, error) {
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, err
	}

	// Step 1: embed the query, or fall back to lexical only.
	var queryEmbedding []float32
	alpha := req.Alpha
	if r.embedder != nil {
		emb, embErr := r.embedder.Embed(ctx, req.Query)
		if embErr != nil {
			r.logger.Warn("retrieval: query embedding failed, falling back to lexical only", "error", embErr)
			alpha = 1.0
		} else {
			queryEmbedding = emb
		}
	} else {
		alpha = 1.0
	}

	candidates := make(map[uuid.UUID]*candidate)

	// Step 2: lexical search.
	if req.IncludeDecisions {
		hits, lexErr := r.lexicalSearchDecisions(ctx, userID, req.Query)
		if lexErr != nil {
			return nil, lexErr
		}
		for _, h := range hits {
			mergeDecisionLexical(candidates, h)
		}
	}
	if req.IncludeEntities {
		hits, lexErr := r.lexicalSearchEntities(ctx, userID, req.Query)
		if lexErr != nil {
			return nil, lexErr
		}
		for _, h := range hits {
			mergeEntityLexical(candidates, h)
		}
	}

	// Step 3: semantic search.
	if len(queryEmbedding) > 0 {
		if req.IncludeDecisions {
			hits, semErr := r.semanticSearchDecisions(ctx, userID, queryEmbedding, req.Threshold)
			if semErr != nil {
				return nil, semErr
			}
			for _, h := range hits {
				mergeDecisionSemantic(candidates, h)
			}
		}
		if req.IncludeEntities {
			hits, semErr := r.semanticSearchEntities(ctx, userID, queryEmbedding, req.Threshold)
			if semErr != nil {
				return nil, semErr
			}
			for _, h := range hits {
				mergeEntitySemantic(candidates, h)
			}
		}
	}

	// Step 4: graph expansion over the top candidates found so far, ranked
	// provisionally by raw lexical+semantic score (topCandidates).
	if req.GraphDepth > 0 {
		expanded, expErr := r.expand(ctx, userID, topCandidates(candidates, req.TopK), req.GraphDepth)
		if expErr != nil {
			return nil, expErr
		}
		for _, e := range expanded {
			if _, exists := candidates[e.id()]; exists {
				continue // a direct hit always wins over an expansion hit
			}
			candidates[e.id()] = e
		}
	}

	// Step 5: combine + threshold filter (re-run combine so expansion
	// candidates, which carry CombinedScore directly, are included).
	results := finalize(candidates, alpha, req.Threshold)

	// Step 6: optional reranking.
	if req.Rerank && r.reranker != nil && len(results) > 0 {
		rerankN := req.RerankingTopK
		if rerankN <= 0 || rerankN > len(results) {
			rerankN = len(results)
		}
		reranked, rerankErr := r.reranker.Rerank(ctx, req.Query, results[:rerankN])
		if rerankErr != nil {
			r.logger.Warn("retrieval: rerank failed, keeping pre-rerank order", "error", rerankErr)
		} else {
			results = append(reranked, results[rerankN:]...)
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].CombinedScore > results[j].CombinedScore })
	if req.TopK > 0 && len(results) > req.TopK {
		results = results[:req.TopK]
	}
	return results, nil
}

// SemanticSearch is the plain semantic-search endpoint: alpha=0,
// graph_depth=0, reranking off (spec.md §4.7).
func (r *Retriever) SemanticSearch(ctx context.Context, userID, query string, topK int, threshold float64) ([]model.SearchResult, error) {
	return r.HybridSearch(ctx, model.SemanticSearchRequest(userID, query, topK, threshold))
}

// finalize computes each candidate's combined score and drops it if the
// result falls below threshold.
func finalize(candidates map[uuid.UUID]*candidate, alpha float64, threshold float64) []model.SearchResult {
	out := make([]model.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		var combined float64
		if c.fromExpansion {
			combined = c.lexicalScore // expansion stores its decayed score here
		} else {
			combined = alpha*c.lexicalScore + (1-alpha)*c.semanticScore
		}
		if combined < threshold {
			continue
		}
		result := model.SearchResult{
			LexicalScore:  c.lexicalScore,
			SemanticScore: c.semanticScore,
			CombinedScore: combined,
			MatchedFields: c.matchedFieldSlice(),
		}
		if c.decision != nil {
			result.Decision = c.decision
		} else {
			result.Entity = c.entity
		}
		out = append(out, result)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CombinedScore > out[j].CombinedScore })
	return out
}

// topCandidates returns up to n candidates ranked by their provisional
// alpha-combined score, the seed set for graph expansion.
func topCandidates(candidates map[uuid.UUID]*candidate, n int) []*candidate {
	all := make([]*candidate, 0, len(candidates))
	for _, c := range candidates {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].lexicalScore+all[i].semanticScore > all[j].lexicalScore+all[j].semanticScore
	})
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

func mergeDecisionLexical(candidates map[uuid.UUID]*candidate, h lexicalDecisionHit) {
	c := candidates[h.decision.ID]
	if c == nil {
		c = &candidate{decision: &h.decision}
		candidates[h.decision.ID] = c
	}
	if h.score > c.lexicalScore {
		c.lexicalScore = h.score
	}
	c.addMatchedFields(h.matchedFields...)
}

func mergeEntityLexical(candidates map[uuid.UUID]*candidate, h lexicalEntityHit) {
	c := candidates[h.entity.ID]
	if c == nil {
		c = &candidate{entity: &h.entity}
		candidates[h.entity.ID] = c
	}
	if h.score > c.lexicalScore {
		c.lexicalScore = h.score
	}
	c.addMatchedFields(model.MatchedName)
}

func mergeDecisionSemantic(candidates map[uuid.UUID]*candidate, h semanticHit) {
	c := candidates[h.id]
	if c == nil {
		c = &candidate{decision: h.decision}
		candidates[h.id] = c
	}
	if h.score > c.semanticScore {
		c.semanticScore = h.score
	}
}

func mergeEntitySemantic(candidates map[uuid.UUID]*candidate, h semanticHit) {
	c := candidates[h.id]
	if c == nil {
		c = &candidate{entity: h.entity}
		candidates[h.id] = c
	}
	if h.score > c.semanticScore {
		c.semanticScore = h.score
	}
}
