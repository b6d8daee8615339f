package model

import (
	"time"

	"github.com/google/uuid"
)

// EntityType classifies an Entity node.
type EntityType string

const (
	EntityTechnology   EntityType = "technology"
	EntityConcept      EntityType = "concept"
	EntityPattern      EntityType = "pattern"
	EntitySystem       EntityType = "system"
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityFile         EntityType = "file"
)

// Entity is a node reachable from at least one DecisionTrace belonging to
// its owning user; entities with no remaining INVOLVES edge are orphans
// eligible for cleanup.
type Entity struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Type      EntityType `json:"type"`
	Aliases   []string   `json:"aliases,omitempty"`
	Embedding []float32  `json:"embedding,omitempty"`
	UserID    *uuid.UUID `json:"user_id,omitempty"` // nil is visible to any user
	CreatedAt time.Time  `json:"created_at"`
}

// HasAlias reports whether name (case-insensitively) matches the entity's
// canonical name or any of its aliases.
func (e Entity) HasAlias(name string) bool {
	if equalFold(e.Name, name) {
		return true
	}
	for _, a := range e.Aliases {
		if equalFold(a, name) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// ExtractedEntity is a raw (name, type) mention pulled from a decision's
// text by the entity-extraction LLM pass, before resolution.
type ExtractedEntity struct {
	Name       string     `json:"name"`
	Type       EntityType `json:"type"`
	Confidence float64    `json:"confidence"`
}

// ExtractedRelationship is a raw entity-to-entity relationship mention, keyed
// by entity name (not yet resolved to an id) before the graph writer
// validates it against the entity-relationship matrix.
type ExtractedRelationship struct {
	From       string   `json:"from"`
	To         string   `json:"to"`
	Type       EdgeType `json:"type"`
	Confidence float64  `json:"confidence"`
}

// CandidateDecision represents one rejected option of a DecisionTrace,
// linked to its parent via a REJECTED_BY edge. Enables dormant-alternative
// scans.
type CandidateDecision struct {
	ID                   uuid.UUID `json:"id"`
	Text                 string    `json:"text"`
	RejectedAt           time.Time `json:"rejected_at"`
	RejectedByDecisionID uuid.UUID `json:"rejected_by_decision_id"`
	UserID               uuid.UUID `json:"user_id"`
}

// CodeEntity is a file path in a real repository, created when a tool call
// references a path or a decision mentions a file resolved through the
// repo index.
type CodeEntity struct {
	ID        uuid.UUID `json:"id"`
	FilePath  string    `json:"file_path"` // repo-relative
	FileStem  string    `json:"file_stem"`
	Language  string    `json:"language"` // inferred from extension
	LineCount int       `json:"line_count"`
	SizeBytes int64     `json:"size_bytes"`
	UserID    uuid.UUID `json:"user_id"`
}

// CommitNode links a git commit to the DecisionTraces it implemented and
// the CodeEntities it touched.
type CommitNode struct {
	ID        uuid.UUID `json:"id"`
	CommitSHA string    `json:"commit_sha"`
	Message   string    `json:"message"`
	UserID    uuid.UUID `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
