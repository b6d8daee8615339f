// Package extractor turns a segmented Episode into zero or more
// model.DecisionTrace records: a few-shot chain-of-thought LLM pass, a
// LightRAG-style gleaning pass for sparse extractions, a single targeted
// retry for decisions that fail validation, composite confidence
// calibration, a concurrent verify/refine pass for low-confidence
// decisions, the strict validation gate, and verbatim-quote grounding.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/deciolog/deciolog/internal/llm"
	"github.com/deciolog/deciolog/internal/model"
)

// PromptVersion is embedded in cache keys and Provenance records; bump it
// whenever a prompt template changes meaning, to invalidate stale cache
// entries and let analysts correlate traces with the prompt that produced
// them.
const PromptVersion = "v1"

const maxGleaning = 1
const maxRetries = 1

// generator is the subset of *llm.Client the extractor needs; extracted as
// an interface so tests can inject a fake without talking to a real
// provider backend.
type generator interface {
	Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error)
}

// Extractor runs the decision-extraction pipeline for a single episode.
type Extractor struct {
	llmClient               generator
	cache                   *llm.ResponseCache
	logger                  *slog.Logger
	highConfidenceThreshold float64
}

// New returns an Extractor. cache may be nil to disable response caching.
func New(llmClient *llm.Client, cache *llm.ResponseCache, logger *slog.Logger, highConfidenceThreshold float64) *Extractor {
	if highConfidenceThreshold <= 0 {
		highConfidenceThreshold = 0.85
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{llmClient: llmClient, cache: cache, logger: logger, highConfidenceThreshold: highConfidenceThreshold}
}

// ExtractDecisions runs the full pipeline against one episode and returns
// the DecisionTrace records that survive the validation gate.
func (x *Extractor) ExtractDecisions(ctx context.Context, episode model.Episode, userID uuid.UUID, sourcePath string) ([]model.DecisionTrace, error) {
	conversationText := episode.StructuredText()
	fullText := episode.Conversation.FullText()

	dtype := DetectDecisionType(fullText)

	cacheKey := string(dtype) + ":" + fullText
	var cached []rawDecision
	if hit, _ := x.cacheGet(ctx, cacheKey, &cached); hit {
		return x.finalize(cached, episode, userID, sourcePath, fullText), nil
	}

	prompt := fmt.Sprintf(promptForType(dtype), conversationText)
	response, err := x.llmClient.Generate(ctx, prompt, llm.GenerateOptions{Temperature: 0.3, MaxTokens: 8192})
	if err != nil {
		return nil, fmt.Errorf("extractor: generate decisions: %w", err)
	}

	var decisions []rawDecision
	if err := extractJSONList(response, &decisions); err != nil {
		x.logger.Warn("extractor: failed to parse decisions from LLM response", "error", err)
		return nil, nil
	}
	if len(decisions) == 0 {
		return nil, nil
	}

	x.glean(ctx, decisions, conversationText)
	x.retry(ctx, decisions, conversationText)

	for i := range decisions {
		author := detectRationaleAuthor(decisions[i].Rationale, episode.Messages)
		decisions[i].RawConfidence = decisions[i].Confidence
		decisions[i].Confidence = calibrateConfidence(decisions[i], author, fullText)
	}

	x.verify(ctx, decisions, fullText)

	cacheable := make([]rawDecision, 0, len(decisions))
	for _, d := range decisions {
		if !d.VerifyRejected {
			if ok, _ := isValidDecision(applyDefaults(d)); ok {
				cacheable = append(cacheable, d)
			}
		}
	}
	if len(cacheable) > 0 {
		x.cacheSet(ctx, cacheKey, cacheable)
	}

	return x.finalize(decisions, episode, userID, sourcePath, fullText), nil
}

// glean re-extracts missing fields for decisions whose completenessScore is
// below 0.6 — a single pass, never recursive, matching maxGleaning.
func (x *Extractor) glean(ctx context.Context, decisions []rawDecision, conversationText string) {
	if maxGleaning <= 0 {
		return
	}
	type incompleteRef struct {
		idx int
		d   rawDecision
	}
	var incomplete []incompleteRef
	for i, d := range decisions {
		if completenessScore(d) < 0.6 {
			incomplete = append(incomplete, incompleteRef{idx: i, d: d})
		}
	}
	if len(incomplete) == 0 {
		return
	}

	for _, ref := range incomplete {
		partial, _ := json.Marshal(ref.d)
		prompt := fmt.Sprintf(gleaningPromptTemplate, truncate(conversationText, 3000), truncate(string(partial), 2000))
		response, err := x.llmClient.Generate(ctx, prompt, llm.GenerateOptions{Temperature: 0.2})
		if err != nil {
			x.logger.Debug("extractor: gleaning pass failed (non-critical)", "error", err)
			continue
		}
		var patch rawDecision
		if err := extractJSONObject(response, &patch); err != nil {
			continue
		}
		mergeNonEmpty(&decisions[ref.idx], patch)
	}
}

// retry performs one targeted re-extraction for each decision that fails
// the validation gate but still carries enough raw confidence (>= 0.4) to
// be worth a second look, mirroring the instructor-style retry loop without
// depending on that library.
func (x *Extractor) retry(ctx context.Context, decisions []rawDecision, conversationText string) {
	if maxRetries <= 0 {
		return
	}
	for i := range decisions {
		d := applyDefaults(decisions[i])
		valid, reason := isValidDecision(d)
		if valid || decisions[i].Confidence < 0.4 {
			continue
		}
		partial, _ := json.Marshal(decisions[i])
		prompt := fmt.Sprintf(retryPromptTemplate, reason, truncate(string(partial), 500), truncate(conversationText, 2000))
		response, err := x.llmClient.Generate(ctx, prompt, llm.GenerateOptions{Temperature: 0.2})
		if err != nil {
			x.logger.Debug("extractor: retry pass failed (non-critical)", "error", err)
			continue
		}
		var corrected rawDecision
		if err := extractJSONObject(response, &corrected); err != nil {
			continue
		}
		applyCorrection(&decisions[i], corrected)
	}
}

// verifyResult is the model's judgment on one low-confidence decision.
type verifyResult struct {
	IsValid            bool              `json:"is_valid"`
	OnImplementedPath  bool              `json:"on_implemented_path"`
	Issues             []string          `json:"issues"`
	CorrectedFields    map[string]string `json:"corrected_fields"`
	EvidenceConfidence float64           `json:"evidence_confidence"`
}

// verify runs the verify/refine pass concurrently for every decision whose
// raw (pre-calibration) confidence is below the high-confidence threshold,
// to avoid spending an LLM call re-checking decisions the model was already
// confident about.
func (x *Extractor) verify(ctx context.Context, decisions []rawDecision, fullText string) {
	var indices []int
	for i, d := range decisions {
		if d.RawConfidence < x.highConfidenceThreshold {
			indices = append(indices, i)
		}
	}
	if len(indices) == 0 {
		return
	}

	results := make([]*verifyResult, len(indices))
	g, gctx := errgroup.WithContext(ctx)
	for pos, idx := range indices {
		pos, idx := pos, idx
		g.Go(func() error {
			partial, _ := json.Marshal(decisions[idx])
			prompt := fmt.Sprintf(verifyPromptTemplate, truncate(fullText, 4000), string(partial))
			response, err := x.llmClient.Generate(gctx, prompt, llm.GenerateOptions{Temperature: 0.1})
			if err != nil {
				x.logger.Debug("extractor: verify pass failed (non-critical)", "decision_index", idx, "error", err)
				return nil
			}
			var vr verifyResult
			if err := extractJSONObject(response, &vr); err != nil {
				return nil
			}
			results[pos] = &vr
			return nil
		})
	}
	_ = g.Wait() // per-decision errors are already swallowed; nothing to propagate

	for pos, idx := range indices {
		vr := results[pos]
		if vr == nil {
			continue
		}
		if !vr.IsValid || !vr.OnImplementedPath {
			decisions[idx].VerifyRejected = true
			decisions[idx].Confidence = 0.1
			x.logger.Debug("extractor: decision rejected by verify pass", "issues", vr.Issues)
			continue
		}
		if v, ok := vr.CorrectedFields["context"]; ok && v != "" {
			decisions[idx].Context = v
		}
		if v, ok := vr.CorrectedFields["decision"]; ok && v != "" {
			decisions[idx].Decision = v
		}
		if v, ok := vr.CorrectedFields["trigger"]; ok && v != "" {
			decisions[idx].Trigger = v
		}
		if v, ok := vr.CorrectedFields["rationale"]; ok && v != "" {
			decisions[idx].Rationale = v
		}
	}
}

// finalize applies defaults, runs the strict validation gate, attaches
// verbatim text spans and ground-truth tool-call paths, and assembles the
// final DecisionTrace slice.
func (x *Extractor) finalize(decisions []rawDecision, episode model.Episode, userID uuid.UUID, sourcePath, fullText string) []model.DecisionTrace {
	toolPaths := episode.ToolCallPaths()

	out := make([]model.DecisionTrace, 0, len(decisions))
	for _, raw := range decisions {
		d := applyDefaults(raw)
		if valid, reason := isValidDecision(d); !valid || raw.VerifyRejected {
			if reason == "" {
				reason = "verify_pass"
			}
			x.logger.Debug("extractor: decision rejected by validation gate", "reason", reason, "trigger", d.Trigger)
			continue
		}

		author := detectRationaleAuthor(d.Rationale, episode.Messages)
		turnIndex := episode.StartTurn
		if d.TurnIndex != nil {
			turnIndex = *d.TurnIndex
		}

		trace := model.DecisionTrace{
			ID:              uuid.New(),
			Trigger:         d.Trigger,
			Context:         d.Context,
			AgentDecision:   d.Decision,
			AgentRationale:  d.Rationale,
			Options:         d.Options,
			Confidence:      d.Confidence,
			RawConfidence:   raw.RawConfidence,
			Source:          model.SourceClaudeLogs,
			UserID:          userID,
			Scope:           model.Scope(d.Scope),
			RawRationale:    episode.ThinkingText(),
			RationaleAuthor: author,
			Assumptions:     d.Assumptions,
			TurnIndex:       &turnIndex,
			ToolCallPaths:   toolPaths,
			Provenance: model.Provenance{
				SourceType:       model.SourceClaudeLogs,
				SourcePath:       sourcePath,
				PromptVersion:    PromptVersion,
				ExtractionMethod: "core",
				MessageIndex:     turnIndex,
				Confidence:       d.Confidence,
			},
		}
		if episode.Conversation.ProjectName != nil {
			trace.ProjectName = episode.Conversation.ProjectName
		}
		if d.Scope == "" {
			trace.Scope = model.ScopeUnknown
		}

		if d.VerbatimTrigger != "" {
			trace.VerbatimTrigger = &d.VerbatimTrigger
			trace.VerbatimTriggerSpan = findTextSpan(fullText, d.VerbatimTrigger, turnIndex)
		}
		if d.VerbatimDecision != "" {
			trace.VerbatimDecision = &d.VerbatimDecision
			trace.VerbatimDecisionSpan = findTextSpan(fullText, d.VerbatimDecision, turnIndex)
		}
		if d.VerbatimRationale != "" {
			trace.VerbatimRationale = &d.VerbatimRationale
			trace.VerbatimRationaleSpan = findTextSpan(fullText, d.VerbatimRationale, turnIndex)
		}

		out = append(out, trace)
	}
	return out
}

func (x *Extractor) cacheGet(ctx context.Context, key string, dst any) (bool, error) {
	if x.cache == nil {
		return false, nil
	}
	return x.cache.Get(ctx, key, "decisions", dst)
}

func (x *Extractor) cacheSet(ctx context.Context, key string, value any) {
	if x.cache == nil {
		return
	}
	x.cache.Set(ctx, key, "decisions", value)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// mergeNonEmpty copies every non-zero-value field from patch into dst,
// leaving dst's existing values in place for fields the patch left empty —
// the same "only fill what's missing" contract the gleaning and retry
// prompts are instructed to honor.
func mergeNonEmpty(dst *rawDecision, patch rawDecision) {
	if strings.TrimSpace(dst.Trigger) == "" && patch.Trigger != "" {
		dst.Trigger = patch.Trigger
	}
	if strings.TrimSpace(dst.Context) == "" && patch.Context != "" {
		dst.Context = patch.Context
	}
	if len(dst.Options) == 0 && len(patch.Options) > 0 {
		dst.Options = patch.Options
	}
	if strings.TrimSpace(dst.Decision) == "" && patch.Decision != "" {
		dst.Decision = patch.Decision
	}
	if strings.TrimSpace(dst.Rationale) == "" && patch.Rationale != "" {
		dst.Rationale = patch.Rationale
	}
	if dst.Confidence == 0 && patch.Confidence != 0 {
		dst.Confidence = patch.Confidence
	}
	if dst.Scope == "" && patch.Scope != "" {
		dst.Scope = patch.Scope
	}
	if len(dst.Assumptions) == 0 && len(patch.Assumptions) > 0 {
		dst.Assumptions = patch.Assumptions
	}
	if dst.VerbatimTrigger == "" && patch.VerbatimTrigger != "" {
		dst.VerbatimTrigger = patch.VerbatimTrigger
	}
	if dst.VerbatimDecision == "" && patch.VerbatimDecision != "" {
		dst.VerbatimDecision = patch.VerbatimDecision
	}
	if dst.VerbatimRationale == "" && patch.VerbatimRationale != "" {
		dst.VerbatimRationale = patch.VerbatimRationale
	}
}

// applyCorrection overwrites dst with every non-zero field in patch,
// trusting the retry pass's corrected extraction over the original one it
// replaces — unlike mergeNonEmpty, which only fills gaps the gleaning pass
// was asked to leave alone.
func applyCorrection(dst *rawDecision, patch rawDecision) {
	if patch.Trigger != "" {
		dst.Trigger = patch.Trigger
	}
	if patch.Context != "" {
		dst.Context = patch.Context
	}
	if len(patch.Options) > 0 {
		dst.Options = patch.Options
	}
	if patch.Decision != "" {
		dst.Decision = patch.Decision
	}
	if patch.Rationale != "" {
		dst.Rationale = patch.Rationale
	}
	if patch.Confidence != 0 {
		dst.Confidence = patch.Confidence
	}
	if patch.Scope != "" {
		dst.Scope = patch.Scope
	}
	if len(patch.Assumptions) > 0 {
		dst.Assumptions = patch.Assumptions
	}
	if patch.VerbatimTrigger != "" {
		dst.VerbatimTrigger = patch.VerbatimTrigger
	}
	if patch.VerbatimDecision != "" {
		dst.VerbatimDecision = patch.VerbatimDecision
	}
	if patch.VerbatimRationale != "" {
		dst.VerbatimRationale = patch.VerbatimRationale
	}
}
