// Package mcp implements the Model Context Protocol server for Deciolog.
//
// It exposes the Agent Context Service's four operations (Summary, Focused
// Context, Entity Context, Remember) as MCP tools and resources, so any
// MCP-compatible coding agent can check precedent before making a decision
// and record one afterward, without going through the HTTP API.
package mcp

import (
	"log/slog"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/deciolog/deciolog/internal/agentctx"
)

// serverInstructions is sent to every MCP client during the initialize handshake.
// This ensures every connected agent knows the check-before/record-after workflow
// without requiring per-project configuration (CLAUDE.md, agents.md, etc.).
const serverInstructions = `You have access to Deciolog, a personal decision knowledge graph.

WORKFLOW — follow this for every non-trivial decision:

1. BEFORE deciding: call deciolog_check with a short natural-language query
   describing the decision you're about to make. This returns prior decisions
   ranked by relevance, flags ones that have since been superseded, and
   surfaces any unresolved contradictions touching the result set.

2. AFTER deciding: call deciolog_remember with what you decided (agent_decision),
   why (agent_rationale), the trigger that prompted it, and your confidence
   (0.0-1.0). This adds the decision to the graph so future checks — by you or
   any other agent working in this project — can find it.

TOOLS:
- deciolog_summary: a dashboard of top entities, top decisions, open
  contradictions, and knowledge gaps across the whole graph
- deciolog_check: hybrid search for decisions relevant to a query, with
  supersession and contradiction context (always call before deciding)
- deciolog_context: full history for one named entity (a technology, system,
  person, or concept) — every decision that touched it, newest first
- deciolog_remember: record a decision after making it (always call after)

CHECK BEFORE: choosing architecture/technology, starting a review or audit,
making trade-offs, changing existing behavior, picking between alternatives.

REMEMBER AFTER: completing a review, choosing an approach, finishing a task
that involved choices, making a scoping or access judgment.

SKIP: pure execution (formatting, typo fixes), reading/exploring code,
asking the user a question (no decision yet).

Be honest about confidence. Reference prior decisions when they influence you.`

// Server wraps the MCP server with Deciolog's agent context service.
type Server struct {
	mcpServer    *mcpserver.MCPServer
	svc          *agentctx.Service
	logger       *slog.Logger
	checkTracker *checkTracker // tracks check-before-remember workflow compliance
	rootsCache   *rootsCache   // caches MCP roots per session (one request per session)
}

// New creates and configures a new MCP server with all resources, tools, and prompts.
func New(svc *agentctx.Service, logger *slog.Logger, version string) *Server {
	s := &Server{
		svc:          svc,
		logger:       logger,
		checkTracker: newCheckTracker(time.Hour),
		rootsCache:   newRootsCache(),
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"deciolog",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithRoots(),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}
