package agentctx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
)

// rememberSimilarLimit bounds how many existing decisions Remember checks
// for potential SUPERSEDES/CONTRADICTS relationships.
const rememberSimilarLimit = 5

// rememberMinPairConfidence mirrors internal/analyzer's default gate
// (minPairConfidence); Remember only surfaces candidates to the caller, it
// never writes the edge itself, so an independent copy of the threshold is
// fine — the background analyzer sweep remains the source of truth for
// what actually gets persisted.
const rememberMinPairConfidence = 0.6

// Remember implements spec.md §4.8's Remember operation: an agent records a
// decision directly via the Graph Writer, bypassing episode ingestion.
func (s *Service) Remember(ctx context.Context, req model.RememberRequest) (model.RememberResponse, error) {
	d := req.Decision
	d.ID = uuid.New()
	d.Source = model.AgentSource(req.AgentName)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.Provenance.CreatedBy == "" {
		d.Provenance.CreatedBy = string(d.Source)
	}

	saved, err := s.writer.Save(ctx, d)
	if err != nil {
		return model.RememberResponse{}, fmt.Errorf("agentctx: remember: save: %w", err)
	}
	s.invalidate(ctx, saved.UserID)

	extracted, err := s.decisionEntities(ctx, saved.ID)
	if err != nil {
		s.logger.Warn("agentctx: remember: extracted entities lookup failed", "decision_id", saved.ID, "error", err)
	}

	similar, err := s.similarExistingDecisions(ctx, saved)
	if err != nil {
		s.logger.Warn("agentctx: remember: similar decisions search failed", "decision_id", saved.ID, "error", err)
		similar = nil
	}

	var potentialSupersedes, potentialContradicts []uuid.UUID
	if s.pairs != nil {
		for _, r := range similar {
			if r.Decision == nil {
				continue
			}
			result, err := s.pairs.AnalyzePair(ctx, saved, *r.Decision)
			if err != nil {
				s.logger.Warn("agentctx: remember: pair analysis failed", "decision_id", r.Decision.ID, "error", err)
				continue
			}
			if result == nil || result.Confidence < rememberMinPairConfidence {
				continue
			}
			switch result.Type {
			case "SUPERSEDES":
				potentialSupersedes = append(potentialSupersedes, r.Decision.ID)
			case "CONTRADICTS":
				potentialContradicts = append(potentialContradicts, r.Decision.ID)
			}
		}
	}

	return model.RememberResponse{
		DecisionID:           saved.ID,
		ExtractedEntities:    extracted,
		SimilarDecisions:     similar,
		PotentialSupersedes:  potentialSupersedes,
		PotentialContradicts: potentialContradicts,
	}, nil
}

func (s *Service) similarExistingDecisions(ctx context.Context, saved model.DecisionTrace) ([]model.SearchResult, error) {
	req := model.SemanticSearchRequest(saved.UserID.String(), decisionSearchText(saved), rememberSimilarLimit, 0.5)
	results, err := s.retriever.HybridSearch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("remember: similar decisions: %w", err)
	}
	out := make([]model.SearchResult, 0, len(results))
	for _, r := range results {
		if r.Decision != nil && r.Decision.ID == saved.ID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func decisionSearchText(d model.DecisionTrace) string {
	return strings.Join([]string{d.Trigger, d.Context, d.AgentDecision, d.AgentRationale}, " ")
}
