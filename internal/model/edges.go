package model

import (
	"time"

	"github.com/google/uuid"
)

// EdgeType names a typed directed relationship in the graph.
type EdgeType string

const (
	EdgeInvolves      EdgeType = "INVOLVES"
	EdgeSimilarTo     EdgeType = "SIMILAR_TO"
	EdgeInfluencedBy  EdgeType = "INFLUENCED_BY"
	EdgeSupersedes    EdgeType = "SUPERSEDES"
	EdgeContradicts   EdgeType = "CONTRADICTS"
	EdgeFollows       EdgeType = "FOLLOWS"
	EdgePrecedes      EdgeType = "PRECEDES"
	EdgeAffects       EdgeType = "AFFECTS"
	EdgeRejectedBy    EdgeType = "REJECTED_BY"
	EdgeRelatedTo     EdgeType = "RELATED_TO" // entity-entity fallback
)

// Entity-entity relationship types, used for the typed-relationship matrix
// and for cycle detection's cycle-sensitive subset.
const (
	EdgeIsA       EdgeType = "IS_A"
	EdgePartOf    EdgeType = "PART_OF"
	EdgeDependsOn EdgeType = "DEPENDS_ON"
	EdgeRequires  EdgeType = "REQUIRES"
	EdgeEnables   EdgeType = "ENABLES"
	EdgeRefines   EdgeType = "REFINES"
)

// CycleSensitiveRelationships are the entity-entity edge types cycle
// detection traverses.
var CycleSensitiveRelationships = []EdgeType{
	EdgeDependsOn, EdgeRequires, EdgePartOf, EdgeIsA, EdgeRefines,
}

// Edge is a generic typed edge between two graph nodes. Domain/Range node
// kinds are implied by Type; callers that need strict typing use the
// specific edge structs below (Involves, SimilarTo, etc.) when writing.
type Edge struct {
	Type       EdgeType   `json:"type"`
	FromID     uuid.UUID  `json:"from_id"`
	ToID       uuid.UUID  `json:"to_id"`
	Confidence *float64   `json:"confidence,omitempty"`
	Weight     *float64   `json:"weight,omitempty"`
	Reasoning  string     `json:"reasoning,omitempty"`
	ValidAt    *time.Time `json:"valid_at,omitempty"`
	InvalidAt  *time.Time `json:"invalid_at,omitempty"`
	CrossUser  bool       `json:"cross_user,omitempty"`
}

// SimilarityTier annotates a SIMILAR_TO edge with a coarse bucket alongside
// its raw score.
type SimilarityTier string

const (
	SimilarityHigh     SimilarityTier = "high"
	SimilarityModerate SimilarityTier = "moderate"
)

// entityRelationMatrix lists, for each (source type, target type) pair,
// the entity-entity relationship types considered valid. A pair absent
// from this table (or a relation type not listed for it) falls back to
// RELATED_TO at confidence × 0.8.
var entityRelationMatrix = map[EntityType]map[EntityType][]EdgeType{
	EntityTechnology: {
		EntityTechnology: {EdgeDependsOn, EdgeRequires, EdgeEnables, EdgeIsA},
		EntityConcept:    {EdgeIsA, EdgeEnables},
		EntityPattern:    {EdgeEnables},
		EntitySystem:     {EdgePartOf, EdgeDependsOn},
	},
	EntityPattern: {
		EntityPattern:    {EdgeRefines, EdgeIsA},
		EntityConcept:    {EdgeIsA},
		EntityTechnology: {EdgeRequires},
	},
	EntitySystem: {
		EntitySystem:     {EdgePartOf, EdgeDependsOn},
		EntityTechnology: {EdgeDependsOn, EdgeRequires},
	},
	EntityConcept: {
		EntityConcept: {EdgeIsA, EdgePartOf, EdgeRefines},
	},
	EntityPerson: {
		EntityOrganization: {EdgePartOf},
	},
	EntityOrganization: {
		EntityOrganization: {EdgePartOf},
	},
	EntityFile: {
		EntitySystem:   {EdgePartOf},
		EntityTechnology: {EdgeDependsOn},
	},
}

// ValidEntityRelation reports whether rel is a recognized relationship for
// the (from, to) entity-type pair. Callers that get false should emit
// RELATED_TO at confidence × 0.8 instead.
func ValidEntityRelation(from, to EntityType, rel EdgeType) bool {
	targets, ok := entityRelationMatrix[from]
	if !ok {
		return false
	}
	rels, ok := targets[to]
	if !ok {
		return false
	}
	for _, r := range rels {
		if r == rel {
			return true
		}
	}
	return false
}

// ResolveEntityRelation returns rel if valid for the (from, to) pair,
// otherwise RELATED_TO with confidence scaled by 0.8.
func ResolveEntityRelation(from, to EntityType, rel EdgeType, confidence float64) (EdgeType, float64) {
	if ValidEntityRelation(from, to, rel) {
		return rel, confidence
	}
	return EdgeRelatedTo, confidence * 0.8
}
