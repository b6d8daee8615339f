package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/deciolog/deciolog/internal/llm"
	"github.com/deciolog/deciolog/internal/model"
)

// Reranker re-scores a candidate set against the query, replacing each
// result's CombinedScore (spec.md §4.7 step 6).
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []model.SearchResult) ([]model.SearchResult, error)
}

// LLMReranker implements Reranker by prompting the shared LLM client for a
// relevance score per candidate, since the pack carries no dedicated
// cross-encoder reranking client and the analyzer/extractor packages
// already use the same any-llm-go-backed client for comparable scoring
// tasks (see internal/analyzer.AnalyzePair).
type LLMReranker struct {
	llm *llm.Client
}

// NewLLMReranker returns a Reranker backed by client.
func NewLLMReranker(client *llm.Client) *LLMReranker {
	return &LLMReranker{llm: client}
}

type rerankScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

type rerankResponse struct {
	Scores []rerankScore `json:"scores"`
}

func (rr *LLMReranker) Rerank(ctx context.Context, query string, candidates []model.SearchResult) ([]model.SearchResult, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nRate each candidate's relevance to the query from 0.0 (irrelevant) to 1.0 (perfectly relevant).\n\n", query)
	for i, c := range candidates {
		fmt.Fprintf(&b, "Candidate %d:\n%s\n\n", i, candidateText(c))
	}
	b.WriteString(`Return ONLY valid JSON: {"scores": [{"index": 0, "score": 0.0}, ...]} with one entry per candidate.`)

	response, err := rr.llm.Generate(ctx, b.String(), llm.GenerateOptions{Temperature: 0, MaxTokens: 512})
	if err != nil {
		return nil, fmt.Errorf("retrieval: rerank: %w", err)
	}

	var parsed rerankResponse
	if err := extractJSONObject(response, &parsed); err != nil {
		return nil, fmt.Errorf("retrieval: rerank: parse response: %w", err)
	}

	out := make([]model.SearchResult, len(candidates))
	copy(out, candidates)
	for _, s := range parsed.Scores {
		if s.Index < 0 || s.Index >= len(out) {
			continue
		}
		out[s.Index].CombinedScore = s.Score
	}
	return out, nil
}

// candidateText builds the concatenated "Trigger: … Decision: … Rationale:
// … Context: …" text spec.md §4.7 step 6 sends to the reranker per
// candidate.
func candidateText(c model.SearchResult) string {
	if c.Decision != nil {
		return fmt.Sprintf("Trigger: %s\nDecision: %s\nRationale: %s\nContext: %s",
			c.Decision.Trigger, c.Decision.AgentDecision, c.Decision.AgentRationale, c.Decision.Context)
	}
	if c.Entity != nil {
		return fmt.Sprintf("Entity: %s (%s)", c.Entity.Name, c.Entity.Type)
	}
	return ""
}
