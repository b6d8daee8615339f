package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
)

// entityFulltextIndex is the Neo4j fulltext index name the fuzzy stage
// queries for candidates before falling back to a paged scan.
const entityFulltextIndex = "entity_fulltext"

// Resolver runs the entity-resolution cascade for one user: exact match,
// canonical-alias lookup, alias-field match, fuzzy match, embedding
// similarity, and finally new-entity creation. Grounded on
// original_source/apps/api/services/entity_resolver.py's EntityResolver.
type Resolver struct {
	runner   Runner
	cache    *ResolutionCache
	embedder Embedder
	userID   uuid.UUID
	logger   *slog.Logger

	// canonicalRegistry supplements CanonicalNames with names learned at
	// runtime (e.g. from a package-registry lookup in internal/coderesolve),
	// without mutating the shared static map.
	canonicalRegistry map[string]string
}

// New returns a Resolver scoped to userID. embedder may be nil, in which
// case the embedding-similarity stage is skipped entirely (matching the
// Python cascade's behavior on a TimeoutError/ConnectionError from the
// embedding service — the fallback is to proceed to entity creation).
func New(runner Runner, cache *ResolutionCache, embedder Embedder, userID uuid.UUID, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{runner: runner, cache: cache, embedder: embedder, userID: userID, logger: logger}
}

// RegisterCanonicalName adds a runtime-discovered canonical name, consulted
// by the canonical-lookup stage alongside the static CanonicalNames table.
func (r *Resolver) RegisterCanonicalName(alias, canonical string) {
	if r.canonicalRegistry == nil {
		r.canonicalRegistry = make(map[string]string)
	}
	r.canonicalRegistry[model.NormalizeEntityName(alias)] = canonical
}

func (r *Resolver) canonicalName(name string) string {
	key := model.NormalizeEntityName(name)
	if r.canonicalRegistry != nil {
		if c, ok := r.canonicalRegistry[key]; ok {
			return c
		}
	}
	return model.GetCanonicalName(name)
}

// Resolve runs the full cascade for one (name, entityType) mention.
func (r *Resolver) Resolve(ctx context.Context, name string, entityType model.EntityType) (ResolvedEntity, error) {
	normalized := model.NormalizeEntityName(name)

	// Stage 1: cache.
	if r.cache != nil {
		if cached, found, hit := r.cache.get(ctx, r.userID, normalized, entityType); hit && found {
			cached.MatchMethod = MatchCache
			return cached, nil
		}
	}

	// Stage 2: exact case-insensitive match.
	if row, ok, err := r.findByExactMatch(ctx, normalized); err != nil {
		return ResolvedEntity{}, err
	} else if ok {
		result := ResolvedEntity{ID: idOf(row), Name: row.str("name"), Type: model.EntityType(row.str("type")), MatchMethod: MatchExact, Confidence: 1.0}
		r.cacheFound(ctx, normalized, entityType, result)
		return result, nil
	}

	// Stage 3: canonical-alias lookup.
	canonical := r.canonicalName(name)
	canonicalNormalized := model.NormalizeEntityName(canonical)
	if canonicalNormalized != normalized {
		if row, ok, err := r.findByExactMatch(ctx, canonicalNormalized); err != nil {
			return ResolvedEntity{}, err
		} else if ok {
			result := ResolvedEntity{ID: idOf(row), Name: row.str("name"), Type: model.EntityType(row.str("type")), MatchMethod: MatchCanonical, Confidence: 0.95, CanonicalName: canonical}
			r.cacheFound(ctx, normalized, entityType, result)
			r.cacheFound(ctx, canonicalNormalized, entityType, result)
			return result, nil
		}
	}

	// Stage 4: alias-field match.
	if row, ok, err := r.findByAlias(ctx, normalized); err != nil {
		return ResolvedEntity{}, err
	} else if ok {
		result := ResolvedEntity{ID: idOf(row), Name: row.str("name"), Type: model.EntityType(row.str("type")), MatchMethod: MatchAlias, Confidence: 0.92}
		r.cacheFound(ctx, normalized, entityType, result)
		return result, nil
	}

	// Stage 5: fuzzy match (fulltext candidates, paged-scan fallback).
	fuzzyThreshold := fuzzyThresholdFor(entityType)
	if match, ok, err := r.findByFuzzy(ctx, normalized, fuzzyThreshold); err != nil {
		return ResolvedEntity{}, err
	} else if ok {
		r.cacheFound(ctx, normalized, entityType, match)
		return match, nil
	}

	// Stage 6: embedding similarity.
	if r.embedder != nil {
		embedding, err := r.embedder.Embed(ctx, fmt.Sprintf("%s: %s", entityType, name))
		if err != nil {
			r.logger.Warn("resolver: embedding generation failed, skipping similarity stage", "error", err)
		} else {
			embedThreshold := embeddingThresholdFor(entityType)
			if match, ok, err := r.findByEmbedding(ctx, embedding, embedThreshold); err != nil {
				r.logger.Warn("resolver: embedding similarity query failed", "error", err)
			} else if ok {
				r.cacheFound(ctx, normalized, entityType, match)
				return match, nil
			}
		}
	}

	// Stage 7: create new entity. Cache the negative result first so a
	// repeat lookup for the same never-before-seen mention within this
	// batch or a later one doesn't re-run the whole cascade.
	if r.cache != nil {
		r.cache.setNotFound(ctx, r.userID, normalized, entityType)
	}

	finalName := name
	var aliases []string
	if canonicalNormalized != normalized {
		finalName = canonical
		aliases = []string{name}
	}
	return ResolvedEntity{
		ID:            uuid.New(),
		Name:          finalName,
		Type:          entityType,
		IsNew:         true,
		MatchMethod:   MatchCreated,
		Confidence:    1.0,
		CanonicalName: canonical,
		Aliases:       aliases,
	}, nil
}

// Mention is one raw (name, type) pair to resolve, as surfaced by the
// extractor or the graph writer's entity-relationship step.
type Mention struct {
	Name string
	Type model.EntityType
}

// ResolveBatch resolves every mention, memoizing within the batch by both
// normalized name and canonical form so a synonym appearing twice in one
// extraction (e.g. "pg" and "postgres" in the same decision) only runs the
// cascade once.
func (r *Resolver) ResolveBatch(ctx context.Context, mentions []Mention) ([]ResolvedEntity, error) {
	out := make([]ResolvedEntity, len(mentions))
	seen := make(map[string]ResolvedEntity)

	for i, m := range mentions {
		normalized := model.NormalizeEntityName(m.Name)
		if cached, ok := seen[normalized]; ok {
			out[i] = cached
			continue
		}

		result, err := r.Resolve(ctx, m.Name, m.Type)
		if err != nil {
			return nil, fmt.Errorf("resolver: resolve batch item %d (%q): %w", i, m.Name, err)
		}
		seen[normalized] = result

		canonicalNormalized := model.NormalizeEntityName(r.canonicalName(m.Name))
		if canonicalNormalized != normalized {
			seen[canonicalNormalized] = result
		}

		out[i] = result
	}
	return out, nil
}

func (r *Resolver) cacheFound(ctx context.Context, normalized string, entityType model.EntityType, result ResolvedEntity) {
	if r.cache != nil {
		r.cache.setFound(ctx, r.userID, normalized, entityType, result)
	}
}

func idOf(row Row) uuid.UUID {
	id, _ := uuid.Parse(row.str("id"))
	return id
}

func (r *Resolver) findByExactMatch(ctx context.Context, normalized string) (Row, bool, error) {
	rows, err := r.runner.Run(ctx, `
		MATCH (d:DecisionTrace)-[:INVOLVES]->(e:Entity)
		WHERE (d.user_id = $user_id OR d.user_id IS NULL)
		AND toLower(e.name) = $name
		RETURN DISTINCT e.id AS id, e.name AS name, e.type AS type
		LIMIT 1
	`, map[string]any{"name": normalized, "user_id": r.userID.String()})
	if err != nil {
		return nil, false, fmt.Errorf("resolver: exact match (user-scoped): %w", err)
	}
	if len(rows) > 0 {
		return rows[0], true, nil
	}

	rows, err = r.runner.Run(ctx, `
		MATCH (e:Entity)
		WHERE toLower(e.name) = $name
		RETURN e.id AS id, e.name AS name, e.type AS type
		LIMIT 1
	`, map[string]any{"name": normalized})
	if err != nil {
		return nil, false, fmt.Errorf("resolver: exact match (global): %w", err)
	}
	if len(rows) > 0 {
		return rows[0], true, nil
	}
	return nil, false, nil
}

func (r *Resolver) findByAlias(ctx context.Context, normalized string) (Row, bool, error) {
	rows, err := r.runner.Run(ctx, `
		MATCH (d:DecisionTrace)-[:INVOLVES]->(e:Entity)
		WHERE (d.user_id = $user_id OR d.user_id IS NULL)
		AND ANY(alias IN COALESCE(e.aliases, []) WHERE toLower(alias) = $name)
		RETURN DISTINCT e.id AS id, e.name AS name, e.type AS type
		LIMIT 1
	`, map[string]any{"name": normalized, "user_id": r.userID.String()})
	if err != nil {
		return nil, false, fmt.Errorf("resolver: alias match (user-scoped): %w", err)
	}
	if len(rows) > 0 {
		return rows[0], true, nil
	}

	rows, err = r.runner.Run(ctx, `
		MATCH (e:Entity)
		WHERE ANY(alias IN COALESCE(e.aliases, []) WHERE toLower(alias) = $name)
		RETURN e.id AS id, e.name AS name, e.type AS type
		LIMIT 1
	`, map[string]any{"name": normalized})
	if err != nil {
		return nil, false, fmt.Errorf("resolver: alias match (global): %w", err)
	}
	if len(rows) > 0 {
		return rows[0], true, nil
	}
	return nil, false, nil
}

// findByFuzzy tries a fulltext-index candidate search first, falling back
// to a paged batch scan if the index is absent (Neo4j returns a ClientError
// for a missing fulltext index; here that is just a non-nil err from the
// first query, which we treat as "no index" rather than propagating).
func (r *Resolver) findByFuzzy(ctx context.Context, normalized string, threshold float64) (ResolvedEntity, bool, error) {
	candidates, err := r.fulltextCandidates(ctx, normalized)
	if err != nil {
		r.logger.Debug("resolver: fulltext candidate search failed, falling back to batched scan", "error", err)
		candidates = nil
	}
	if len(candidates) == 0 {
		var scanErr error
		candidates, scanErr = r.batchedEntityNames(ctx)
		if scanErr != nil {
			return ResolvedEntity{}, false, scanErr
		}
	}

	var best Row
	bestScore := 0.0
	for _, c := range candidates {
		score := matchr.JaroWinkler(normalized, strings.ToLower(c.str("name")), true)
		if score >= threshold && score > bestScore {
			bestScore = score
			best = c
		}
	}
	if best == nil {
		return ResolvedEntity{}, false, nil
	}
	return ResolvedEntity{ID: idOf(best), Name: best.str("name"), Type: model.EntityType(best.str("type")), MatchMethod: MatchFuzzy, Confidence: bestScore}, true, nil
}

func (r *Resolver) fulltextCandidates(ctx context.Context, normalized string) ([]Row, error) {
	return r.runner.Run(ctx, fmt.Sprintf(`
		CALL db.index.fulltext.queryNodes('%s', $search_term)
		YIELD node, score AS fulltext_score
		MATCH (d:DecisionTrace)-[:INVOLVES]->(node)
		WHERE d.user_id = $user_id OR d.user_id IS NULL
		RETURN DISTINCT node.id AS id, node.name AS name, node.type AS type
		LIMIT $limit
	`, entityFulltextIndex), map[string]any{
		"search_term": normalized + "*",
		"user_id":     r.userID.String(),
		"limit":       fuzzyBatchCap,
	})
}

// batchedEntityNames pages through user-scoped entities (batch size 100,
// hard cap 500) and falls back to global entities only if the user has
// none. Mirrors _find_by_fuzzy_batched / _get_entity_names_batched.
func (r *Resolver) batchedEntityNames(ctx context.Context) ([]Row, error) {
	var all []Row
	for offset := 0; offset < fuzzyBatchCap; offset += fuzzyBatchSize {
		rows, err := r.runner.Run(ctx, `
			MATCH (d:DecisionTrace)-[:INVOLVES]->(e:Entity)
			WHERE d.user_id = $user_id OR d.user_id IS NULL
			RETURN DISTINCT e.id AS id, e.name AS name, e.type AS type
			SKIP $offset
			LIMIT $batch_size
		`, map[string]any{"user_id": r.userID.String(), "offset": offset, "batch_size": fuzzyBatchSize})
		if err != nil {
			return nil, fmt.Errorf("resolver: batched entity scan: %w", err)
		}
		if len(rows) == 0 {
			break
		}
		all = append(all, rows...)
	}
	if len(all) > 0 {
		return all, nil
	}

	return r.runner.Run(ctx, `
		MATCH (e:Entity)
		RETURN e.id AS id, e.name AS name, e.type AS type
		LIMIT $limit
	`, map[string]any{"limit": fuzzyBatchCap})
}

// findByEmbedding prefers a Neo4j-native gds.similarity.cosine query and
// falls back to a manual cosine computation over a capped batch when GDS
// is not installed (the query itself errors, same as the fuzzy stage).
func (r *Resolver) findByEmbedding(ctx context.Context, embedding []float32, threshold float64) (ResolvedEntity, bool, error) {
	for _, userScoped := range []bool{true, false} {
		row, ok, err := r.gdsSimilarity(ctx, embedding, threshold, userScoped)
		if err == nil {
			if ok {
				return ResolvedEntity{ID: idOf(row), Name: row.str("name"), Type: model.EntityType(row.str("type")), MatchMethod: MatchEmbedding, Confidence: row.f64("similarity")}, true, nil
			}
			continue
		}
		r.logger.Debug("resolver: gds cosine similarity unavailable, falling back to manual calculation", "error", err)
		return r.manualEmbeddingSimilarity(ctx, embedding, threshold)
	}
	return ResolvedEntity{}, false, nil
}

func (r *Resolver) gdsSimilarity(ctx context.Context, embedding []float32, threshold float64, userScoped bool) (Row, bool, error) {
	cypher := `
		MATCH (e:Entity)
		WHERE e.embedding IS NOT NULL
		WITH e, gds.similarity.cosine(e.embedding, $embedding) AS similarity
		WHERE similarity > $threshold
		RETURN e.id AS id, e.name AS name, e.type AS type, similarity
		ORDER BY similarity DESC
		LIMIT 1
	`
	params := map[string]any{"embedding": embedding, "threshold": threshold}
	if userScoped {
		cypher = `
			MATCH (d:DecisionTrace)-[:INVOLVES]->(e:Entity)
			WHERE (d.user_id = $user_id OR d.user_id IS NULL)
			AND e.embedding IS NOT NULL
			WITH DISTINCT e, gds.similarity.cosine(e.embedding, $embedding) AS similarity
			WHERE similarity > $threshold
			RETURN e.id AS id, e.name AS name, e.type AS type, similarity
			ORDER BY similarity DESC
			LIMIT 1
		`
		params["user_id"] = r.userID.String()
	}
	rows, err := r.runner.Run(ctx, cypher, params)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

func (r *Resolver) manualEmbeddingSimilarity(ctx context.Context, embedding []float32, threshold float64) (ResolvedEntity, bool, error) {
	best, bestScore, err := r.scanForBestSimilarity(ctx, embedding, threshold, true)
	if err != nil {
		return ResolvedEntity{}, false, err
	}
	if best == nil {
		best, bestScore, err = r.scanForBestSimilarity(ctx, embedding, threshold, false)
		if err != nil {
			return ResolvedEntity{}, false, err
		}
	}
	if best == nil {
		return ResolvedEntity{}, false, nil
	}
	return ResolvedEntity{ID: idOf(best), Name: best.str("name"), Type: model.EntityType(best.str("type")), MatchMethod: MatchEmbedding, Confidence: bestScore}, true, nil
}

func (r *Resolver) scanForBestSimilarity(ctx context.Context, embedding []float32, threshold float64, userScoped bool) (Row, float64, error) {
	cypher := `
		MATCH (e:Entity)
		WHERE e.embedding IS NOT NULL
		RETURN e.id AS id, e.name AS name, e.type AS type, e.embedding AS embedding
		LIMIT $limit
	`
	params := map[string]any{"limit": fuzzyBatchCap}
	if userScoped {
		cypher = `
			MATCH (d:DecisionTrace)-[:INVOLVES]->(e:Entity)
			WHERE (d.user_id = $user_id OR d.user_id IS NULL)
			AND e.embedding IS NOT NULL
			RETURN DISTINCT e.id AS id, e.name AS name, e.type AS type, e.embedding AS embedding
			LIMIT $limit
		`
		params["user_id"] = r.userID.String()
	}
	rows, err := r.runner.Run(ctx, cypher, params)
	if err != nil {
		return nil, 0, fmt.Errorf("resolver: embedding scan: %w", err)
	}

	var best Row
	bestScore := threshold
	for _, row := range rows {
		other := row.f32Slice("embedding")
		sim := cosineSimilarity(embedding, other)
		if sim > bestScore {
			bestScore = sim
			best = row
		}
	}
	return best, bestScore, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
