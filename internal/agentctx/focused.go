package agentctx

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
)

// defaultTokenBudget and charsPerToken are spec.md §4.8's Focused Context
// token-budget defaults.
const (
	defaultTokenBudget  = 4000
	charsPerToken       = 4
	supersedesChainHops = 5
)

// FocusedContext implements spec.md §4.8's Focused Context operation,
// cached 30s.
func (s *Service) FocusedContext(ctx context.Context, req model.FocusedContextRequest) (model.FocusedContextResponse, error) {
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return model.FocusedContextResponse{}, fmt.Errorf("agentctx: invalid user id: %w", err)
	}

	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}
	tokenBudget := req.TokenBudget
	if tokenBudget <= 0 {
		tokenBudget = defaultTokenBudget
	}
	alpha := req.Alpha
	if alpha == 0 {
		alpha = 0.5
	}

	cacheParts := []string{req.Query, strconv.Itoa(topK), strconv.FormatFloat(alpha, 'f', -1, 64), strconv.Itoa(tokenBudget), strconv.FormatBool(req.Markdown)}
	var cached model.FocusedContextResponse
	if s.cache != nil && s.cache.Get(ctx, "focused", req.UserID, cacheParts, &cached) {
		return cached, nil
	}

	results, err := s.retriever.HybridSearch(ctx, model.HybridSearchRequest{
		UserID: req.UserID, Query: req.Query, TopK: topK, Threshold: 0.1, Alpha: alpha,
		IncludeDecisions: true, IncludeEntities: true, GraphDepth: 1,
	})
	if err != nil {
		return model.FocusedContextResponse{}, fmt.Errorf("agentctx: focused context search: %w", err)
	}

	hits := make([]model.FocusedHit, 0, len(results))
	hitIDs := make([]uuid.UUID, 0, len(results))
	for _, r := range results {
		if r.Decision == nil {
			hits = append(hits, model.FocusedHit{Result: r})
			continue
		}
		hitIDs = append(hitIDs, r.Decision.ID)

		isCurrent, supersededBy, err := s.supersessionStatus(ctx, r.Decision.ID)
		if err != nil {
			s.logger.Warn("agentctx: supersession lookup failed", "decision_id", r.Decision.ID, "error", err)
			isCurrent = true
		}
		entities, err := s.decisionEntities(ctx, r.Decision.ID)
		if err != nil {
			s.logger.Warn("agentctx: decision entities lookup failed", "decision_id", r.Decision.ID, "error", err)
		}
		hits = append(hits, model.FocusedHit{Result: r, IsCurrent: isCurrent, SupersededBy: supersededBy, Entities: entities})
	}

	chains, err := s.supersedesChains(ctx, hitIDs)
	if err != nil {
		return model.FocusedContextResponse{}, err
	}
	contradictions, err := s.contradictionsTouching(ctx, userID, hitIDs)
	if err != nil {
		return model.FocusedContextResponse{}, err
	}

	truncated := enforceTokenBudget(&hits, tokenBudget)

	resp := model.FocusedContextResponse{Hits: hits, SupersedesChains: chains, Contradictions: contradictions, Truncated: truncated}
	if req.Markdown {
		resp.Markdown = renderFocusedMarkdown(resp)
	}
	if s.cache != nil {
		s.cache.Set(ctx, "focused", req.UserID, cacheParts, FocusedContextTTL, resp)
	}
	return resp, nil
}

func (s *Service) supersessionStatus(ctx context.Context, decisionID uuid.UUID) (bool, *uuid.UUID, error) {
	rows, err := s.run(ctx, `
		MATCH (d:DecisionTrace {id: $id})
		OPTIONAL MATCH (newer:DecisionTrace)-[:SUPERSEDES]->(d)
		RETURN newer.id AS newer_id
		LIMIT 1
	`, map[string]any{"id": decisionID.String()})
	if err != nil {
		return true, nil, fmt.Errorf("supersession status %s: %w", decisionID, err)
	}
	if len(rows) == 0 {
		return true, nil, nil
	}
	newerID := rowStr(rows[0], "newer_id")
	if newerID == "" {
		return true, nil, nil
	}
	id, err := uuid.Parse(newerID)
	if err != nil {
		return true, nil, nil
	}
	return false, &id, nil
}

func (s *Service) decisionEntities(ctx context.Context, decisionID uuid.UUID) ([]model.Entity, error) {
	rows, err := s.run(ctx, `
		MATCH (d:DecisionTrace {id: $id})-[:INVOLVES]->(e:Entity)
		RETURN e.id AS id, e.name AS name, e.type AS type, e.aliases AS aliases
	`, map[string]any{"id": decisionID.String()})
	if err != nil {
		return nil, fmt.Errorf("decision entities %s: %w", decisionID, err)
	}
	out := make([]model.Entity, 0, len(rows))
	for _, row := range rows {
		out = append(out, entityFromRow(row))
	}
	return out, nil
}

// supersedesChains finds, for each hit decision not already covered by a
// prior chain, every decision connected to it by a SUPERSEDES edge within
// supersedesChainHops hops (either direction), ordered newest first.
func (s *Service) supersedesChains(ctx context.Context, hitIDs []uuid.UUID) ([]model.SupersedesChain, error) {
	if len(hitIDs) == 0 {
		return nil, nil
	}
	seen := make(map[uuid.UUID]bool)
	var chains []model.SupersedesChain
	for _, id := range hitIDs {
		if seen[id] {
			continue
		}
		rows, err := s.run(ctx, fmt.Sprintf(`
			MATCH (d:DecisionTrace {id: $id})
			MATCH (n:DecisionTrace)-[:SUPERSEDES*0..%d]-(d)
			RETURN DISTINCT n.id AS id, n.created_at AS created_at
		`, supersedesChainHops), map[string]any{"id": id.String()})
		if err != nil {
			return nil, fmt.Errorf("supersedes chain %s: %w", id, err)
		}
		if len(rows) < 2 {
			seen[id] = true
			continue
		}

		type member struct {
			id uuid.UUID
			at time.Time
		}
		members := make([]member, 0, len(rows))
		for _, row := range rows {
			mid, err := uuid.Parse(rowStr(row, "id"))
			if err != nil {
				continue
			}
			members = append(members, member{id: mid, at: parseRowTime(row["created_at"])})
		}
		sort.SliceStable(members, func(i, j int) bool { return members[i].at.After(members[j].at) })

		chainIDs := make([]uuid.UUID, len(members))
		for i, m := range members {
			chainIDs[i] = m.id
			seen[m.id] = true
		}
		chains = append(chains, model.SupersedesChain{DecisionIDs: chainIDs})
	}
	return chains, nil
}

// contradictionsTouching returns every CONTRADICTS pair where at least one
// side is in the hit set, regardless of resolution status (Summary's
// equivalent query filters to unresolved; Focused Context surfaces all of
// them since the caller already asked about these specific decisions).
func (s *Service) contradictionsTouching(ctx context.Context, userID uuid.UUID, hitIDs []uuid.UUID) ([]model.ContradictionPair, error) {
	if len(hitIDs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(hitIDs))
	for i, id := range hitIDs {
		ids[i] = id.String()
	}

	rows, err := s.run(ctx, `
		MATCH (a:DecisionTrace)-[r:CONTRADICTS]-(b:DecisionTrace)
		WHERE (a.user_id = $user_id OR b.user_id = $user_id) AND (a.id IN $ids OR b.id IN $ids)
		RETURN DISTINCT a.id AS a_id, a.trigger AS a_trigger, a.context AS a_context,
			a.agent_decision AS a_agent_decision, a.agent_rationale AS a_agent_rationale,
			a.options AS a_options, a.confidence AS a_confidence, a.created_at AS a_created_at,
			a.scope AS a_scope, a.source AS a_source,
			b.id AS b_id, b.trigger AS b_trigger, b.context AS b_context,
			b.agent_decision AS b_agent_decision, b.agent_rationale AS b_agent_rationale,
			b.options AS b_options, b.confidence AS b_confidence, b.created_at AS b_created_at,
			b.scope AS b_scope, b.source AS b_source,
			r.confidence AS confidence, r.reasoning AS reasoning
	`, map[string]any{"user_id": userID.String(), "ids": ids})
	if err != nil {
		return nil, fmt.Errorf("contradictions touching hit set: %w", err)
	}

	out := make([]model.ContradictionPair, 0, len(rows))
	for _, row := range rows {
		aID, errA := uuid.Parse(rowStr(row, "a_id"))
		bID, errB := uuid.Parse(rowStr(row, "b_id"))
		if errA != nil || errB != nil {
			continue
		}
		out = append(out, model.ContradictionPair{
			A:          decisionFromRow(prefixed(row, "a_"), userID, aID),
			B:          decisionFromRow(prefixed(row, "b_"), userID, bID),
			Confidence: rowF64(row, "confidence"),
			Reasoning:  rowStr(row, "reasoning"),
		})
	}
	return out, nil
}

// enforceTokenBudget truncates hits to fit tokenBudget*charsPerToken
// characters of decision/entity text, keeping at least the first hit.
// Reports whether anything was dropped.
func enforceTokenBudget(hits *[]model.FocusedHit, tokenBudget int) bool {
	budgetChars := tokenBudget * charsPerToken
	used := 0
	kept := make([]model.FocusedHit, 0, len(*hits))
	truncated := false
	for _, h := range *hits {
		size := hitCharSize(h)
		if used+size > budgetChars && len(kept) > 0 {
			truncated = true
			break
		}
		kept = append(kept, h)
		used += size
	}
	*hits = kept
	return truncated
}

func hitCharSize(h model.FocusedHit) int {
	if h.Result.Decision != nil {
		d := h.Result.Decision
		return len(d.Trigger) + len(d.Context) + len(d.AgentDecision) + len(d.AgentRationale)
	}
	if h.Result.Entity != nil {
		return len(h.Result.Entity.Name)
	}
	return 0
}

// renderFocusedMarkdown builds the optional LLM-consumption rendering.
func renderFocusedMarkdown(resp model.FocusedContextResponse) string {
	var b strings.Builder
	for _, h := range resp.Hits {
		if h.Result.Decision == nil {
			if h.Result.Entity != nil {
				fmt.Fprintf(&b, "## %s (entity)\n\n", h.Result.Entity.Name)
			}
			continue
		}
		d := h.Result.Decision
		status := "current"
		if !h.IsCurrent {
			status = "superseded"
		}
		fmt.Fprintf(&b, "## %s (%s)\n\n- Decision: %s\n- Rationale: %s\n- Confidence: %.2f\n",
			d.Trigger, status, d.AgentDecision, d.AgentRationale, d.Confidence)
		if len(h.Entities) > 0 {
			names := make([]string, len(h.Entities))
			for i, e := range h.Entities {
				names[i] = e.Name
			}
			fmt.Fprintf(&b, "- Entities: %s\n", strings.Join(names, ", "))
		}
		b.WriteString("\n")
	}
	if len(resp.Contradictions) > 0 {
		b.WriteString("## Contradictions\n\n")
		for _, c := range resp.Contradictions {
			fmt.Fprintf(&b, "- %q vs %q (confidence %.2f)\n", c.A.AgentDecision, c.B.AgentDecision, c.Confidence)
		}
	}
	return b.String()
}
