package model

import "time"

// QueryFilters scopes a decision listing or graph query. UserID is always
// required by callers; every other field is optional.
type QueryFilters struct {
	UserID      string
	ProjectName *string
	Scope       *Scope
	Source      *Source
	Limit       int
	Offset      int
}

// TemporalQueryRequest asks for the graph as it existed at a point in time,
// honoring bi-temporal validity (valid_at/invalid_at on edges).
type TemporalQueryRequest struct {
	UserID string
	AsOf   time.Time
}

// MatchedField names which text field a lexical search hit matched on.
type MatchedField string

const (
	MatchedTrigger   MatchedField = "trigger"
	MatchedDecision  MatchedField = "decision"
	MatchedContext   MatchedField = "context"
	MatchedRationale MatchedField = "rationale"
	MatchedName      MatchedField = "name"
	MatchedGraphExpansion MatchedField = "graph_expansion"
)

// SearchResult is one hit from hybrid retrieval: a DecisionTrace (or, for
// entity hits, an Entity — callers inspect whichever pointer is non-nil)
// with its combined score and which fields matched.
type SearchResult struct {
	Decision        *DecisionTrace `json:"decision,omitempty"`
	Entity          *Entity        `json:"entity,omitempty"`
	LexicalScore    float64        `json:"lexical_score"`
	SemanticScore   float64        `json:"semantic_score"`
	CombinedScore   float64        `json:"combined_score"`
	MatchedFields   []MatchedField `json:"matched_fields,omitempty"`
}

// HybridSearchRequest is the input to the retrieval component (§4.7).
type HybridSearchRequest struct {
	UserID           string
	Query            string
	TopK             int
	Threshold        float64
	Alpha            float64 // lexical/semantic mix; alpha=1 is pure lexical
	IncludeDecisions bool
	IncludeEntities  bool
	GraphDepth       int // 0, 1, or 2
	Rerank           bool
	RerankingTopK    int
}

// SemanticSearchRequest builds the plain semantic-search specialization:
// alpha=0, graph_depth=0, reranking off.
func SemanticSearchRequest(userID, query string, topK int, threshold float64) HybridSearchRequest {
	return HybridSearchRequest{
		UserID:           userID,
		Query:            query,
		TopK:             topK,
		Threshold:        threshold,
		Alpha:            0,
		IncludeDecisions: true,
		IncludeEntities:  false,
		GraphDepth:       0,
		Rerank:           false,
	}
}
