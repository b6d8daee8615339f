package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/deciolog/deciolog/internal/ctxutil"
	"github.com/deciolog/deciolog/internal/model"
)

func (s *Server) registerTools() {
	// deciolog_summary — top-level dashboard of the decision graph.
	s.mcpServer.AddTool(
		mcplib.NewTool("deciolog_summary",
			mcplib.WithDescription(`Get a dashboard-style summary of the whole decision graph: how many
decisions and entities exist, the most-referenced entities and their
relationships, the highest-scored decisions, any unresolved contradictions,
and knowledge gaps (entity types with few or low-confidence decisions).

WHEN TO USE: at the start of a session, or when you want an overview before
diving into a specific topic with deciolog_check or deciolog_context.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleSummary,
	)

	// deciolog_check — hybrid search for precedent before deciding.
	s.mcpServer.AddTool(
		mcplib.NewTool("deciolog_check",
			mcplib.WithDescription(`Search the decision graph for precedents before making a new decision.

WHEN TO USE: BEFORE making any non-trivial decision. This is the most
important tool — it prevents you from contradicting prior work and lets you
build on decisions that already exist.

Call this FIRST with a natural-language description of the decision you're
about to make. Results are ranked by a blend of lexical and semantic
similarity, and each result is flagged if it has since been superseded, with
any unresolved contradictions touching the result set surfaced separately.

EXAMPLE: Before choosing a caching strategy, call deciolog_check with
query="caching strategy for session state" to see if this was already decided.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("query",
				mcplib.Description("Natural-language description of the decision you're about to make."),
				mcplib.Required(),
			),
			mcplib.WithNumber("top_k",
				mcplib.Description("Maximum number of results to return"),
				mcplib.Min(1),
				mcplib.Max(50),
				mcplib.DefaultNumber(10),
			),
			mcplib.WithNumber("alpha",
				mcplib.Description("Lexical/semantic blend weight: 0.0 is pure semantic, 1.0 is pure lexical"),
				mcplib.Min(0),
				mcplib.Max(1),
				mcplib.DefaultNumber(0.5),
			),
			mcplib.WithString("format",
				mcplib.Description(`Response format: "concise" (default) returns a compact JSON summary. "markdown" returns a formatted brief suitable for pasting into a conversation.`),
			),
		),
		s.handleCheck,
	)

	// deciolog_context — full history for one named entity.
	s.mcpServer.AddTool(
		mcplib.NewTool("deciolog_context",
			mcplib.WithDescription(`Look up the full decision history for a specific entity — a technology,
system, pattern, person, organization, concept, or file.

WHEN TO USE: when you already know the name of the thing you care about
(e.g. "Postgres", "the billing service", "rate limiting") and want every
decision that has touched it, newest first, plus related entities.

Unlike deciolog_check, this is an exact/alias lookup by entity name, not a
similarity search over decision text.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("entity_name",
				mcplib.Description("Name (or known alias) of the entity to look up."),
				mcplib.Required(),
			),
			mcplib.WithString("entity_type",
				mcplib.Description("Optional disambiguator when multiple entities share a name: technology, concept, pattern, system, person, organization, file."),
			),
		),
		s.handleContext,
	)

	// deciolog_remember — record a decision.
	s.mcpServer.AddTool(
		mcplib.NewTool("deciolog_remember",
			mcplib.WithDescription(`Record a decision to the graph so there is a durable trace of why it was made.

IMPORTANT: Call deciolog_check FIRST to look for existing precedent before
recording. Recording without checking risks contradicting prior decisions
and duplicating work that was already done.

WHEN TO USE: after you make any non-trivial decision — choosing an approach,
selecting a library, resolving an ambiguity, or committing to a course of
action.

WHAT TO INCLUDE:
- trigger: what prompted the decision (a question, a bug, a requirement)
- agent_decision: what you decided, stated as a fact
- agent_rationale: your reasoning — why this over the alternatives
- confidence: how certain you are (0.0-1.0); be honest, 0.6 is fine
- options: the alternatives you considered (at least the one you chose)

EXAMPLE: trigger="need a cache for session state", agent_decision="use Redis
with a 5 minute TTL", agent_rationale="handles expected QPS, TTL bounds
staleness", confidence=0.85, options=["Redis with TTL", "in-process LRU"]`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("agent_name",
				mcplib.Description(`Your role in this task — "reviewer", "coder", "planner", or similar. Recorded as the decision's source ("agent:<name>").`),
				mcplib.Required(),
			),
			mcplib.WithString("trigger",
				mcplib.Description("What prompted this decision — a question, a bug, a requirement."),
				mcplib.Required(),
			),
			mcplib.WithString("agent_decision",
				mcplib.Description("What you decided, stated as a fact. Be specific: 'use Redis with 5min TTL' not 'picked a cache'."),
				mcplib.Required(),
			),
			mcplib.WithString("agent_rationale",
				mcplib.Description("Your reasoning. Why this choice? What trade-offs did you consider?"),
				mcplib.Required(),
			),
			mcplib.WithNumber("confidence",
				mcplib.Description("How certain you are about this decision (0.0 = guessing, 1.0 = certain)"),
				mcplib.Required(),
				mcplib.Min(0),
				mcplib.Max(1),
			),
			mcplib.WithString("context",
				mcplib.Description("Surrounding context that doesn't fit in trigger/rationale (code excerpt, prior discussion, constraints)."),
			),
			mcplib.WithString("scope",
				mcplib.Description("How long this decision should stay relevant: strategic, architectural, library, config, or operational. Defaults to unknown."),
			),
			mcplib.WithString("project_name",
				mcplib.Description("Project or repo this decision belongs to, if relevant."),
			),
		),
		s.handleRemember,
	)
}

func (s *Server) handleSummary(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID := ctxutil.UserIDFromContext(ctx)

	resp, err := s.svc.Summary(ctx, userID)
	if err != nil {
		return errorResult(fmt.Sprintf("summary failed: %v", err)), nil
	}

	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal summary: %v", err)), nil
	}
	return textResult(string(data)), nil
}

func (s *Server) handleCheck(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID := ctxutil.UserIDFromContext(ctx)

	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}

	// Record that this caller checked precedents before calling deciolog_remember.
	s.checkTracker.Record(userID.String())

	topK := request.GetInt("top_k", 10)
	alpha := request.GetFloat("alpha", 0.5)
	format := request.GetString("format", "concise")

	resp, err := s.svc.FocusedContext(ctx, model.FocusedContextRequest{
		UserID:      userID.String(),
		Query:       query,
		TopK:        topK,
		Alpha:       alpha,
		TokenBudget: 4000,
		Markdown:    format == "markdown",
	})
	if err != nil {
		return errorResult(fmt.Sprintf("check failed: %v", err)), nil
	}

	if format == "markdown" {
		return textResult(resp.Markdown), nil
	}

	result := map[string]any{
		"hits":              compactFocusedHits(resp.Hits),
		"supersedes_chains": resp.SupersedesChains,
		"contradictions":    compactContradictions(resp.Contradictions),
		"truncated":         resp.Truncated,
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal check result: %v", err)), nil
	}
	return textResult(string(data)), nil
}

func (s *Server) handleContext(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID := ctxutil.UserIDFromContext(ctx)

	entityName := request.GetString("entity_name", "")
	if entityName == "" {
		return errorResult("entity_name is required"), nil
	}
	entityType := model.EntityType(request.GetString("entity_type", ""))

	resp, err := s.svc.EntityContext(ctx, model.EntityContextRequest{
		UserID:     userID.String(),
		EntityName: entityName,
		EntityType: entityType,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("context lookup failed: %v", err)), nil
	}

	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal context result: %v", err)), nil
	}
	return textResult(string(data)), nil
}

func (s *Server) handleRemember(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID := ctxutil.UserIDFromContext(ctx)

	agentName := request.GetString("agent_name", "")
	trigger := request.GetString("trigger", "")
	decision := request.GetString("agent_decision", "")
	rationale := request.GetString("agent_rationale", "")
	confidence := request.GetFloat("confidence", -1)

	if agentName == "" || trigger == "" || decision == "" || rationale == "" {
		return errorResult("agent_name, trigger, agent_decision, and agent_rationale are required"), nil
	}
	if confidence < 0 || confidence > 1 {
		return errorResult("confidence is required and must be between 0.0 and 1.0"), nil
	}

	// Warn (but don't block) when the caller skipped the check step — the
	// workflow is a recommendation, not an enforced precondition.
	checked := s.checkTracker.WasChecked(userID.String())

	scope := model.Scope(request.GetString("scope", string(model.ScopeUnknown)))

	trace := model.DecisionTrace{
		UserID:         userID,
		Trigger:        trigger,
		Context:        request.GetString("context", ""),
		AgentDecision:  decision,
		AgentRationale: rationale,
		Options:        []string{decision},
		Confidence:     confidence,
		RawConfidence:  confidence,
		Scope:          scope,
	}
	project := request.GetString("project_name", "")
	if project == "" {
		project = inferProjectFromRoots(s.requestRoots(ctx))
	}
	if project != "" {
		trace.ProjectName = &project
	}

	resp, err := s.svc.Remember(ctx, model.RememberRequest{
		AgentName: agentName,
		Decision:  trace,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("remember failed: %v", err)), nil
	}

	result := map[string]any{
		"decision_id":           resp.DecisionID,
		"extracted_entities":    resp.ExtractedEntities,
		"similar_decisions":     compactSearchResults(resp.SimilarDecisions),
		"potential_supersedes":  resp.PotentialSupersedes,
		"potential_contradicts": resp.PotentialContradicts,
	}
	if !checked {
		result["note"] = "deciolog_check was not called for this decision first — consider checking precedent before recording next time."
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal remember result: %v", err)), nil
	}
	return textResult(string(data)), nil
}
