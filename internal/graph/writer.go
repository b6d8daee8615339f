// Package graph writes DecisionTrace nodes and their outgoing edges into the
// graph store. Every operation is filtered by user_id. Grounded on the
// teacher's internal/service/decisions/service.go Trace() orchestration
// (embed-then-transactional-write, fire-and-forget goroutine chain guarded by
// defer recover()), re-homed from Postgres+Qdrant onto a single Neo4j graph.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/coderesolve"
	"github.com/deciolog/deciolog/internal/graph/txcoord"
	"github.com/deciolog/deciolog/internal/model"
	"github.com/deciolog/deciolog/internal/resolver"
)

// EntityExtractor is the subset of *extractor.Extractor the Graph Writer
// needs for steps 3-4; narrowed to an interface so tests can inject a fake
// without a real LLM backend, the same pattern resolver.Embedder uses.
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, decisionText string) ([]model.ExtractedEntity, error)
	ExtractEntityRelationships(ctx context.Context, entityNames []string, decisionContext string) ([]model.ExtractedRelationship, error)
}

// CrossUserScanner performs the fire-and-forget cross-user contradiction
// scan (spec.md §4.5/§4.6). Implemented by internal/analyzer; declared here
// to avoid graph depending on analyzer (analyzer depends on graph instead,
// for bi-temporal SUPERSEDES stamping).
type CrossUserScanner interface {
	ScanOnSave(ctx context.Context, saved model.DecisionTrace)
}

// AnalyticsSink receives the user-visible "decision saved" event mentioned
// in spec.md §4.4 step 10. A nil sink disables the event.
type AnalyticsSink interface {
	DecisionSaved(ctx context.Context, saved model.DecisionTrace)
}

// CodeResolver matches a free-text file mention ("the extractor") extracted
// from decision text against a real repository index, producing a lower-
// confidence AFFECTS edge target distinct from the ground-truth tool-call
// paths writeCodeEntities already handles at confidence 1.0. Implemented by
// *coderesolve.Resolver; a nil CodeResolver disables this step, and
// model.EntityFile mentions fall through to generic entity resolution
// instead.
type CodeResolver interface {
	Resolve(mention string) (coderesolve.ResolvedFile, bool)
}

// ResolverFactory builds a Resolver scoped to one user. The teacher
// constructs one *service per process*; entity resolution here is
// per-user-scoped state (cache keys, case-insensitive exact match ordering)
// cheap enough to build fresh per save, matching resolver.New's shape.
type ResolverFactory func(userID uuid.UUID) *resolver.Resolver

// Writer saves DecisionTrace records into the graph store.
type Writer struct {
	runner       resolver.Runner
	resolverFor  ResolverFactory
	extractor    EntityExtractor
	codeResolver CodeResolver
	embedder     resolver.Embedder
	crossUser    CrossUserScanner
	analytics    AnalyticsSink
	logger       *slog.Logger
	coordinator  *txcoord.Coordinator

	similarityThreshold               float64
	highConfidenceSimilarityThreshold float64
}

// New returns a Writer. crossUser and analytics may be nil to disable the
// corresponding fire-and-forget step; codeResolver may be nil to disable
// free-text file-mention resolution (model.EntityFile mentions then fall
// through to generic entity resolution instead).
func New(runner resolver.Runner, resolverFor ResolverFactory, extractor EntityExtractor, codeResolver CodeResolver, embedder resolver.Embedder, crossUser CrossUserScanner, analytics AnalyticsSink, similarityThreshold, highConfidenceSimilarityThreshold float64, logger *slog.Logger) *Writer {
	if similarityThreshold <= 0 {
		similarityThreshold = 0.7
	}
	if highConfidenceSimilarityThreshold <= 0 {
		highConfidenceSimilarityThreshold = 0.85
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		runner: runner, resolverFor: resolverFor, extractor: extractor, codeResolver: codeResolver, embedder: embedder,
		crossUser: crossUser, analytics: analytics, logger: logger, coordinator: txcoord.New(logger),
		similarityThreshold: similarityThreshold, highConfidenceSimilarityThreshold: highConfidenceSimilarityThreshold,
	}
}

func (w *Writer) run(ctx context.Context, cypher string, params map[string]any) ([]resolver.Row, error) {
	rows, err := w.runner.Run(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("graph: %w", err)
	}
	return rows, nil
}

// Save runs the full 10-step sequence from spec.md §4.4 and returns the
// DecisionTrace with its embedding populated. All derived edges (INVOLVES,
// SIMILAR_TO, INFLUENCED_BY, FOLLOWS/PRECEDES, AFFECTS, REJECTED_BY) are
// written before Save returns; the cross-user scan and analytics event are
// fire-and-forget.
func (w *Writer) Save(ctx context.Context, d model.DecisionTrace) (model.DecisionTrace, error) {
	// Step 1: decision embedding.
	if w.embedder != nil {
		emb, err := w.embedder.Embed(ctx, decisionEmbeddingText(d))
		if err != nil {
			w.logger.Warn("graph: decision embedding failed, continuing without", "error", err, "decision_id", d.ID)
		} else {
			d.Embedding = emb
		}
	}

	// Steps 2-9 run through the saga coordinator: the node write is the only
	// step whose failure aborts the save (and is compensated by deleting the
	// node); every derived-edge step is best-effort per spec.md §7 ("save
	// failure on a derived edge does not abort the primary write").
	var resolved []resolvedMention
	result := w.coordinator.Run(ctx, "graph.Save", []txcoord.Step{
		{
			Name:       "write_decision_node",
			BestEffort: false,
			Execute:    func(ctx context.Context) error { return w.writeNode(ctx, d) },
			Compensate: func(ctx context.Context) error {
				_, err := w.run(ctx, `MATCH (d:DecisionTrace {id: $id}) DETACH DELETE d`, map[string]any{"id": d.ID.String()})
				return err
			},
		},
		{
			Name: "write_entities", BestEffort: true,
			Execute: func(ctx context.Context) error {
				var err error
				resolved, err = w.writeEntities(ctx, d)
				return err
			},
		},
		{
			Name: "write_entity_relationships", BestEffort: true,
			Execute: func(ctx context.Context) error {
				if len(resolved) < 2 {
					return nil
				}
				return w.writeEntityRelationships(ctx, d, resolved)
			},
		},
		{
			Name: "write_similar_to", BestEffort: true,
			Execute: func(ctx context.Context) error {
				if d.Embedding == nil {
					return nil
				}
				return w.writeSimilarTo(ctx, d)
			},
		},
		{
			Name: "write_influenced_by", BestEffort: true,
			Execute: func(ctx context.Context) error { return w.writeInfluencedBy(ctx, d) },
		},
		{
			Name: "write_follows_precedes", BestEffort: true,
			Execute: func(ctx context.Context) error {
				if d.TurnIndex == nil {
					return nil
				}
				return w.writeFollowsPrecedes(ctx, d)
			},
		},
		{
			Name: "write_candidate_decisions", BestEffort: true,
			Execute: func(ctx context.Context) error { return w.writeCandidateDecisions(ctx, d) },
		},
		{
			Name: "write_code_entities", BestEffort: true,
			Execute: func(ctx context.Context) error {
				if len(d.ToolCallPaths) == 0 {
					return nil
				}
				return w.writeCodeEntities(ctx, d)
			},
		},
	})
	if result.Err != nil {
		return d, fmt.Errorf("graph: save decision %s: %w", d.ID, result.Err)
	}

	// Step 10: fire-and-forget.
	w.fireAndForget(d)

	return d, nil
}

func (w *Writer) fireAndForget(d model.DecisionTrace) {
	if w.crossUser == nil && w.analytics == nil {
		return
	}
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				w.logger.Error("graph: fire-and-forget panicked", "panic", rec, "decision_id", d.ID)
			}
		}()
		bgCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if w.crossUser != nil {
			w.crossUser.ScanOnSave(bgCtx, d)
		}
		if w.analytics != nil {
			w.analytics.DecisionSaved(bgCtx, d)
		}
	}()
}

// decisionEmbeddingText builds the embedding input text per spec.md §4.4
// step 1: "trigger | context | options | decision | rationale".
func decisionEmbeddingText(d model.DecisionTrace) string {
	return strings.Join([]string{
		d.Trigger, d.Context, strings.Join(d.Options, ", "), d.AgentDecision, d.AgentRationale,
	}, " | ")
}

func (w *Writer) writeNode(ctx context.Context, d model.DecisionTrace) error {
	provenance, err := json.Marshal(d.Provenance)
	if err != nil {
		return fmt.Errorf("marshal provenance: %w", err)
	}
	spans := map[string]any{}
	if d.VerbatimTriggerSpan != nil {
		spans["trigger"], _ = json.Marshal(d.VerbatimTriggerSpan)
	}
	if d.VerbatimDecisionSpan != nil {
		spans["decision"], _ = json.Marshal(d.VerbatimDecisionSpan)
	}
	if d.VerbatimRationaleSpan != nil {
		spans["rationale"], _ = json.Marshal(d.VerbatimRationaleSpan)
	}
	spansJSON, err := json.Marshal(spans)
	if err != nil {
		return fmt.Errorf("marshal spans: %w", err)
	}

	turnIndex := -1
	if d.TurnIndex != nil {
		turnIndex = *d.TurnIndex
	}
	var projectName, verbatimTrigger, verbatimDecision, verbatimRationale string
	if d.ProjectName != nil {
		projectName = *d.ProjectName
	}
	if d.VerbatimTrigger != nil {
		verbatimTrigger = *d.VerbatimTrigger
	}
	if d.VerbatimDecision != nil {
		verbatimDecision = *d.VerbatimDecision
	}
	if d.VerbatimRationale != nil {
		verbatimRationale = *d.VerbatimRationale
	}

	params := map[string]any{
		"id": d.ID.String(), "trigger": d.Trigger, "context": d.Context,
		"agent_decision": d.AgentDecision, "agent_rationale": d.AgentRationale,
		"options": d.Options, "confidence": d.Confidence, "raw_confidence": d.RawConfidence,
		"created_at": d.CreatedAt.UTC().Format(time.RFC3339Nano),
		"source":     string(d.Source), "user_id": d.UserID.String(),
		"project_name": projectName, "scope": string(d.Scope),
		"verbatim_trigger": verbatimTrigger, "verbatim_decision": verbatimDecision,
		"verbatim_rationale": verbatimRationale, "text_spans": string(spansJSON),
		"raw_rationale": d.RawRationale, "rationale_author": string(d.RationaleAuthor),
		"assumptions": d.Assumptions, "embedding": d.Embedding, "turn_index": turnIndex,
		"provenance": string(provenance),
	}

	_, err = w.run(ctx, `
		MERGE (d:DecisionTrace {id: $id})
		SET d.trigger = $trigger, d.context = $context, d.agent_decision = $agent_decision,
			d.agent_rationale = $agent_rationale, d.options = $options, d.confidence = $confidence,
			d.raw_confidence = $raw_confidence, d.created_at = datetime($created_at), d.source = $source,
			d.user_id = $user_id, d.project_name = $project_name, d.scope = $scope,
			d.verbatim_trigger = $verbatim_trigger, d.verbatim_decision = $verbatim_decision,
			d.verbatim_rationale = $verbatim_rationale, d.text_spans = $text_spans,
			d.raw_rationale = $raw_rationale, d.rationale_author = $rationale_author,
			d.assumptions = $assumptions, d.embedding = $embedding, d.turn_index = $turn_index,
			d.provenance = $provenance
	`, params)
	return err
}

func (w *Writer) writeEntities(ctx context.Context, d model.DecisionTrace) ([]resolvedMention, error) {
	if w.extractor == nil || w.resolverFor == nil {
		return nil, nil
	}
	extracted, err := w.extractor.ExtractEntities(ctx, decisionEmbeddingText(d))
	if err != nil {
		return nil, fmt.Errorf("extract entities: %w", err)
	}
	if len(extracted) == 0 {
		return nil, nil
	}

	// model.EntityFile mentions are resolved against the real repository
	// index (free-text AFFECTS edges) instead of the generic Entity graph,
	// when a CodeResolver is configured; otherwise they fall through to
	// generic entity resolution like any other mention type.
	var fileMentions []model.ExtractedEntity
	conceptual := make([]model.ExtractedEntity, 0, len(extracted))
	for _, e := range extracted {
		if e.Type == model.EntityFile && w.codeResolver != nil {
			fileMentions = append(fileMentions, e)
			continue
		}
		conceptual = append(conceptual, e)
	}
	if len(fileMentions) > 0 {
		w.writeResolvedCodeMentions(ctx, d, fileMentions)
	}
	if len(conceptual) == 0 {
		return nil, nil
	}

	mentions := make([]resolver.Mention, len(conceptual))
	for i, e := range conceptual {
		mentions[i] = resolver.Mention{Name: e.Name, Type: e.Type}
	}
	res, err := w.resolverFor(d.UserID).ResolveBatch(ctx, mentions)
	if err != nil {
		return nil, fmt.Errorf("resolve entities: %w", err)
	}

	out := make([]resolvedMention, 0, len(res))
	for i, r := range res {
		if r.IsNew {
			if err := w.createEntity(ctx, r, d.UserID); err != nil {
				w.logger.Error("graph: create new entity failed", "error", err, "entity", r.Name)
				continue
			}
		}
		confidence := conceptual[i].Confidence
		if err := w.writeInvolves(ctx, d, r, confidence); err != nil {
			w.logger.Error("graph: write INVOLVES failed", "error", err, "entity", r.Name)
			continue
		}
		out = append(out, resolvedMention{Entity: r, Confidence: confidence})
	}
	return out, nil
}

// writeResolvedCodeMentions resolves each free-text file mention against the
// repository index and writes a CodeEntity + AFFECTS edge at the resolution
// cascade's confidence, scaled by the extractor's own confidence in having
// spotted a file mention at all. Best-effort: a miss or write failure is
// logged and skipped, never aborts the save.
func (w *Writer) writeResolvedCodeMentions(ctx context.Context, d model.DecisionTrace, mentions []model.ExtractedEntity) {
	for _, e := range mentions {
		resolved, ok := w.codeResolver.Resolve(e.Name)
		if !ok {
			w.logger.Debug("graph: code resolver found no match", "mention", e.Name)
			continue
		}
		confidence := resolved.Confidence * e.Confidence
		if err := w.mergeCodeEntity(ctx, d, resolved.Path, resolved.Stem, resolved.Language, confidence); err != nil {
			w.logger.Error("graph: write resolved code mention failed", "error", err, "mention", e.Name, "path", resolved.Path)
		}
	}
}

type resolvedMention struct {
	Entity     resolver.ResolvedEntity
	Confidence float64
}

func (w *Writer) createEntity(ctx context.Context, r resolver.ResolvedEntity, userID uuid.UUID) error {
	var embedding []float32
	if w.embedder != nil {
		emb, err := w.embedder.Embed(ctx, fmt.Sprintf("%s: %s", r.Type, r.Name))
		if err != nil {
			w.logger.Warn("graph: entity embedding failed, continuing without", "error", err, "entity", r.Name)
		} else {
			embedding = emb
		}
	}
	_, err := w.run(ctx, `
		MERGE (e:Entity {id: $id})
		SET e.name = $name, e.type = $type, e.aliases = $aliases, e.embedding = $embedding,
			e.user_id = $user_id, e.created_at = coalesce(e.created_at, datetime())
	`, map[string]any{
		"id": r.ID.String(), "name": r.Name, "type": string(r.Type), "aliases": r.Aliases,
		"embedding": embedding, "user_id": userID.String(),
	})
	return err
}

func (w *Writer) writeInvolves(ctx context.Context, d model.DecisionTrace, r resolver.ResolvedEntity, confidence float64) error {
	_, err := w.run(ctx, `
		MATCH (d:DecisionTrace {id: $decision_id})
		MATCH (e:Entity {id: $entity_id})
		MERGE (d)-[rel:INVOLVES]->(e)
		SET rel.weight = $weight, rel.valid_at = datetime($valid_at)
	`, map[string]any{
		"decision_id": d.ID.String(), "entity_id": r.ID.String(),
		"weight": confidence, "valid_at": d.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	return err
}

func (w *Writer) writeEntityRelationships(ctx context.Context, d model.DecisionTrace, resolved []resolvedMention) error {
	byName := make(map[string]resolver.ResolvedEntity, len(resolved))
	names := make([]string, len(resolved))
	for i, rm := range resolved {
		byName[strings.ToLower(rm.Entity.Name)] = rm.Entity
		names[i] = rm.Entity.Name
	}

	rels, err := w.extractor.ExtractEntityRelationships(ctx, names, decisionEmbeddingText(d))
	if err != nil {
		return fmt.Errorf("extract relationships: %w", err)
	}

	for _, rel := range rels {
		from, ok := byName[strings.ToLower(rel.From)]
		if !ok {
			continue
		}
		to, ok := byName[strings.ToLower(rel.To)]
		if !ok || from.ID == to.ID {
			continue
		}
		edgeType, confidence := model.ResolveEntityRelation(from.Type, to.Type, rel.Type, rel.Confidence)
		if err := w.writeEntityEdge(ctx, from.ID, to.ID, edgeType, confidence); err != nil {
			w.logger.Error("graph: write entity relationship failed", "error", err, "from", rel.From, "to", rel.To)
		}
	}
	return nil
}

func (w *Writer) writeEntityEdge(ctx context.Context, fromID, toID uuid.UUID, edgeType model.EdgeType, confidence float64) error {
	cypher := fmt.Sprintf(`
		MATCH (a:Entity {id: $from_id})
		MATCH (b:Entity {id: $to_id})
		MERGE (a)-[r:%s]->(b)
		SET r.confidence = $confidence
	`, edgeType)
	_, err := w.run(ctx, cypher, map[string]any{
		"from_id": fromID.String(), "to_id": toID.String(), "confidence": confidence,
	})
	return err
}

func (w *Writer) writeCandidateDecisions(ctx context.Context, d model.DecisionTrace) error {
	for _, option := range d.Options {
		if strings.EqualFold(strings.TrimSpace(option), strings.TrimSpace(d.AgentDecision)) {
			continue
		}
		candidateID := uuid.New()
		_, err := w.run(ctx, `
			MERGE (c:CandidateDecision {id: $id})
			SET c.text = $text, c.rejected_at = datetime($rejected_at),
				c.rejected_by_decision_id = $decision_id, c.user_id = $user_id
			WITH c
			MATCH (d:DecisionTrace {id: $decision_id})
			MERGE (c)-[:REJECTED_BY]->(d)
		`, map[string]any{
			"id": candidateID.String(), "text": option,
			"rejected_at": d.CreatedAt.UTC().Format(time.RFC3339Nano),
			"decision_id": d.ID.String(), "user_id": d.UserID.String(),
		})
		if err != nil {
			return fmt.Errorf("candidate decision %q: %w", option, err)
		}
	}
	return nil
}

// writeCodeEntities writes the ground-truth AFFECTS edges for paths that
// came directly from tool-call inputs (confidence 1.0) — distinct from
// writeResolvedCodeMentions' free-text, cascade-confidence resolution.
func (w *Writer) writeCodeEntities(ctx context.Context, d model.DecisionTrace) error {
	for _, filePath := range d.ToolCallPaths {
		if err := w.mergeCodeEntity(ctx, d, filePath, fileStem(filePath), languageFromPath(filePath), 1.0); err != nil {
			return fmt.Errorf("code entity %q: %w", filePath, err)
		}
	}
	return nil
}

func (w *Writer) mergeCodeEntity(ctx context.Context, d model.DecisionTrace, filePath, stem, language string, confidence float64) error {
	_, err := w.run(ctx, `
		MERGE (c:CodeEntity {user_id: $user_id, file_path: $file_path})
		ON CREATE SET c.id = $id, c.file_stem = $file_stem, c.language = $language
		WITH c
		MATCH (d:DecisionTrace {id: $decision_id})
		MERGE (d)-[r:AFFECTS]->(c)
		SET r.confidence = $confidence
	`, map[string]any{
		"user_id": d.UserID.String(), "file_path": filePath,
		"id": uuid.New().String(), "file_stem": stem, "language": language,
		"decision_id": d.ID.String(), "confidence": confidence,
	})
	return err
}

func fileStem(filePath string) string {
	base := path.Base(filePath)
	return strings.TrimSuffix(base, path.Ext(base))
}

// languageExtensions maps a file extension to the language name the
// original_source's code_resolver.py infers it as.
var languageExtensions = map[string]string{
	".go": "go", ".py": "python", ".js": "javascript", ".ts": "typescript",
	".tsx": "typescript", ".jsx": "javascript", ".rs": "rust", ".java": "java",
	".rb": "ruby", ".c": "c", ".cpp": "cpp", ".h": "c", ".hpp": "cpp",
	".md": "markdown", ".json": "json", ".yaml": "yaml", ".yml": "yaml",
	".sql": "sql", ".sh": "shell",
}

func languageFromPath(filePath string) string {
	if lang, ok := languageExtensions[strings.ToLower(path.Ext(filePath))]; ok {
		return lang
	}
	return "unknown"
}

// sortByScoreDesc sorts similarity candidates highest-score-first, stable on
// ties so MERGE re-runs produce a deterministic top-5 cut.
func sortByScoreDesc(rows []scoredRow) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Score > rows[j].Score })
}

type scoredRow struct {
	ID    uuid.UUID
	Score float64
}
