package model

import (
	"time"

	"github.com/google/uuid"
)

// EntitySummary is one row of the Summary operation's top-15-entities list:
// an entity, how many decisions involve it, and its top-5 related entities.
type EntitySummary struct {
	Entity          Entity   `json:"entity"`
	DecisionCount   int      `json:"decision_count"`
	RelatedEntities []Entity `json:"related_entities"`
}

// RankedDecision is one row of the Summary operation's top-10-decisions
// list, scored by 0.4*confidence + 0.3*min(entities/10,1) + 0.3*has_timestamp.
type RankedDecision struct {
	Decision  DecisionTrace `json:"decision"`
	Score     float64       `json:"score"`
	IsCurrent bool          `json:"is_current"` // true when nothing supersedes it
}

// ContradictionPair is one CONTRADICTS edge between two decisions. Summary
// lists only unresolved pairs (neither side superseded); Focused Context
// lists pairs among its hits whether or not they are resolved.
type ContradictionPair struct {
	A          DecisionTrace `json:"a"`
	B          DecisionTrace `json:"b"`
	Confidence float64       `json:"confidence"`
	Reasoning  string        `json:"reasoning,omitempty"`
}

// KnowledgeGap flags an entity type that is under-decided (few decisions)
// or under-confident (low average confidence) relative to its peers.
type KnowledgeGap struct {
	EntityType    EntityType `json:"entity_type"`
	DecisionCount int        `json:"decision_count"`
	AvgConfidence float64    `json:"avg_confidence"`
}

// SummaryResponse is the Agent Context Service's Summary operation result
// (spec.md §4.8), cached 120s per user.
type SummaryResponse struct {
	DecisionCount int                 `json:"decision_count"`
	EntityCount   int                 `json:"entity_count"`
	TopEntities   []EntitySummary     `json:"top_entities"`
	TopDecisions  []RankedDecision    `json:"top_decisions"`
	Contradictions []ContradictionPair `json:"unresolved_contradictions"`
	KnowledgeGaps []KnowledgeGap      `json:"knowledge_gaps"`
}

// FocusedContextRequest is the input to the Focused Context operation.
type FocusedContextRequest struct {
	UserID      string
	Query       string
	TopK        int
	Alpha       float64
	TokenBudget int // default 4000, ~4 chars/token
	Markdown    bool
}

// FocusedHit augments one hybrid-search result with supersession status and
// the entities INVOLVES'd in it.
type FocusedHit struct {
	Result       SearchResult `json:"result"`
	IsCurrent    bool         `json:"is_current"`
	SupersededBy *uuid.UUID   `json:"superseded_by,omitempty"`
	Entities     []Entity     `json:"entities,omitempty"`
}

// SupersedesChain is an ordered newest-to-oldest chain of DecisionTrace ids
// linked by SUPERSEDES edges, touching at least one hit in the result set.
type SupersedesChain struct {
	DecisionIDs []uuid.UUID `json:"decision_ids"`
}

// FocusedContextResponse is the Focused Context operation result, cached 30s.
type FocusedContextResponse struct {
	Hits            []FocusedHit        `json:"hits"`
	SupersedesChains []SupersedesChain  `json:"supersedes_chains,omitempty"`
	Contradictions  []ContradictionPair `json:"contradictions,omitempty"`
	Truncated       bool                `json:"truncated"`
	Markdown        string              `json:"markdown,omitempty"`
}

// EntityContextRequest is the input to the Entity Context operation.
type EntityContextRequest struct {
	UserID     string
	EntityName string
	EntityType EntityType // optional disambiguator
}

// DecisionWithStatus is one decision in an entity's history, newest first.
type DecisionWithStatus struct {
	Decision   DecisionTrace `json:"decision"`
	Superseded bool          `json:"superseded"`
}

// TimelineEvent is one point in an entity's decision timeline.
type TimelineEvent struct {
	At         time.Time `json:"at"`
	DecisionID uuid.UUID `json:"decision_id"`
	Summary    string    `json:"summary"`
}

// EntityContextResponse is the Entity Context operation result, cached 60s.
type EntityContextResponse struct {
	Entity          Entity               `json:"entity"`
	Decisions       []DecisionWithStatus `json:"decisions"`
	RelatedEntities []Entity             `json:"related_entities"`
	Timeline        []TimelineEvent      `json:"timeline"`
}

// RememberRequest is the input to the Remember operation: an agent recording
// a decision directly, bypassing episode ingestion.
type RememberRequest struct {
	AgentName string
	Decision  DecisionTrace // ID/Source/UserID/CreatedAt are filled in by the service
}

// RememberResponse is the Remember operation result.
type RememberResponse struct {
	DecisionID           uuid.UUID      `json:"decision_id"`
	ExtractedEntities    []Entity       `json:"extracted_entities"`
	SimilarDecisions     []SearchResult `json:"similar_decisions"`
	PotentialSupersedes  []uuid.UUID    `json:"potential_supersedes,omitempty"`
	PotentialContradicts []uuid.UUID    `json:"potential_contradicts,omitempty"`
}
