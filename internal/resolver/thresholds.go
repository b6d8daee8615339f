package resolver

import "github.com/deciolog/deciolog/internal/model"

// typeThreshold holds the minimum acceptance score for a match kind, per
// entity type. Ported from original_source/apps/api/services/code_resolver.py's
// TYPE_RESOLUTION_THRESHOLDS: file mentions need near-certainty (a wrong
// match produces a wrong AFFECTS edge), while concept/pattern mentions
// tolerate more slack since the same idea is phrased many ways.
type typeThreshold struct {
	Fuzzy     float64
	Embedding float64
}

var defaultThreshold = typeThreshold{Fuzzy: 0.85, Embedding: 0.90}

var typeThresholds = map[model.EntityType]typeThreshold{
	model.EntityFile:         {Fuzzy: 0.95, Embedding: 0.97},
	model.EntityTechnology:   {Fuzzy: 0.85, Embedding: 0.90},
	model.EntityConcept:      {Fuzzy: 0.75, Embedding: 0.82},
	model.EntityPattern:      {Fuzzy: 0.78, Embedding: 0.85},
	model.EntitySystem:       {Fuzzy: 0.88, Embedding: 0.92},
	model.EntityPerson:       {Fuzzy: 0.92, Embedding: 0.95},
	model.EntityOrganization: {Fuzzy: 0.90, Embedding: 0.93},
}

func fuzzyThresholdFor(t model.EntityType) float64 {
	if th, ok := typeThresholds[t]; ok {
		return th.Fuzzy
	}
	return defaultThreshold.Fuzzy
}

func embeddingThresholdFor(t model.EntityType) float64 {
	if th, ok := typeThresholds[t]; ok {
		return th.Embedding
	}
	return defaultThreshold.Embedding
}

// duplicateMergeThreshold is the pairwise fuzzy-ratio cutoff merge_duplicate_entities
// uses to group candidates for merging, independent of entity type.
const duplicateMergeThreshold = 0.85

const (
	fuzzyBatchSize = 100
	fuzzyBatchCap  = 500
)
