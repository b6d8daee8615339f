package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// before-decision — guides the agent through checking precedents first.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("before-decision",
			mcplib.WithPromptDescription("Guide for checking precedents before making a decision"),
			mcplib.WithArgument("topic",
				mcplib.ArgumentDescription("Short description of the decision you're about to make (e.g., 'caching strategy', 'which ORM to use')"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleBeforeDecisionPrompt,
	)

	// after-decision — reminds the agent to record what was decided.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("after-decision",
			mcplib.WithPromptDescription("Reminder to record a decision after making it"),
			mcplib.WithArgument("topic",
				mcplib.ArgumentDescription("Short description of the decision that was made"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("outcome",
				mcplib.ArgumentDescription("What was decided"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleAfterDecisionPrompt,
	)

	// agent-setup — full system prompt snippet explaining the Deciolog workflow.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("agent-setup",
			mcplib.WithPromptDescription("System prompt snippet explaining the Deciolog check-before/remember-after workflow"),
		),
		s.handleAgentSetupPrompt,
	)
}

func (s *Server) handleBeforeDecisionPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	topic := request.Params.Arguments["topic"]
	if topic == "" {
		return nil, fmt.Errorf("topic argument is required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Check precedents before deciding on %s", topic),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Before deciding on %s, follow these steps:

1. CALL deciolog_check with query="%s" to look for existing precedents.

2. REVIEW the response:
   - If hits is non-empty, read the prior decisions carefully. Build on them
     rather than contradicting them, unless you have strong reason to diverge.
   - Check is_current on each hit — a superseded decision may no longer apply.
   - If contradictions is non-empty, acknowledge them explicitly and explain
     how your decision resolves or avoids the conflict.
   - If hits is empty, you're breaking new ground. Be especially thorough
     in your reasoning.

3. MAKE your decision, incorporating what you learned from precedents.

4. RECORD your decision by calling deciolog_remember with:
   - trigger: what prompted this decision
   - agent_decision: what you decided (be specific)
   - agent_rationale: why you chose this, referencing precedents if applicable
   - confidence: your certainty (0.0-1.0)`, topic, topic),
				},
			},
		},
	}, nil
}

func (s *Server) handleAfterDecisionPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	topic := request.Params.Arguments["topic"]
	outcome := request.Params.Arguments["outcome"]
	if topic == "" || outcome == "" {
		return nil, fmt.Errorf("topic and outcome arguments are required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Record your decision on %s", topic),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`You just made a decision about %s. Record it now so future sessions
(yours or another agent's) can find it.

CALL deciolog_remember with:
- trigger: what prompted this decision
- agent_decision: "%s"
- agent_rationale: explain your chain of thought. What alternatives did you
  consider? What evidence supported this choice? What trade-offs did you accept?
- confidence: your certainty about this decision (0.0-1.0). Be honest.

Good rationale includes:
- Why this option over alternatives
- What constraints or requirements drove the choice
- What risks you accepted
- References to prior decisions that influenced you`, topic, outcome),
				},
			},
		},
	}, nil
}

func (s *Server) handleAgentSetupPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return &mcplib.GetPromptResult{
		Description: "Deciolog decision-sharing workflow for AI agents",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: `You have access to Deciolog, a personal decision knowledge graph that helps
AI agents working in this project avoid re-deciding (or contradicting) things
that were already decided.

## The Pattern: Check Before, Remember After

Every non-trivial decision should follow this workflow:

### Before deciding:
Call deciolog_check with a natural-language description of the decision
you're about to make. This returns prior decisions ranked by relevance, flags
any that have since been superseded, and surfaces unresolved contradictions.
Use this to make a more informed decision and avoid contradicting prior work.

### After deciding:
Call deciolog_remember to record what you decided, why, and how confident
you are. This adds the decision to the graph so future checks — by you or
any other agent — can find it.

## Available Tools

- deciolog_summary: overview of the whole graph (top entities, top decisions,
  open contradictions, knowledge gaps)
- deciolog_check: find decisions relevant to a query (use FIRST)
- deciolog_context: full history for one named entity (technology, system,
  person, concept, pattern, organization, or file)
- deciolog_remember: record a decision you just made (use AFTER deciding)

## Scopes

Tag decisions with how long they should stay relevant, when you know it:
- strategic: long-lived direction, rarely revisited
- architectural: system structure, changes infrequently
- library: choice of a specific dependency or tool
- config: a tunable value or setting
- operational: day-to-day process, changes often

## Confidence Levels

Be honest about your confidence:
- 0.9-1.0: near-certain, strong evidence, well-established pattern
- 0.7-0.8: confident, good reasoning, some uncertainty remains
- 0.5-0.6: moderate, reasonable choice but alternatives are viable
- 0.3-0.4: low confidence, making a judgment call with limited info
- 0.1-0.2: best guess, would welcome revision with more data`,
				},
			},
		},
	}, nil
}
