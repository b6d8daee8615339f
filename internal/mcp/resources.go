package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/deciolog/deciolog/internal/ctxutil"
	"github.com/deciolog/deciolog/internal/model"
)

func (s *Server) registerResources() {
	// deciolog://summary/current — the full Summary dashboard.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"deciolog://summary/current",
			"Decision Graph Summary",
			mcplib.WithResourceDescription("Top entities, top decisions, unresolved contradictions, and knowledge gaps"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleSummaryResource,
	)

	// deciolog://entity/{name}/context — one entity's full decision history.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"deciolog://entity/{name}/context",
			"Entity Context",
			mcplib.WithTemplateDescription("Decision history, related entities, and timeline for one named entity"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleEntityContextResource,
	)
}

func (s *Server) handleSummaryResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	userID := ctxutil.UserIDFromContext(ctx)

	resp, err := s.svc.Summary(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("mcp: summary resource: %w", err)
	}

	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal summary: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "deciolog://summary/current",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleEntityContextResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	userID := ctxutil.UserIDFromContext(ctx)

	uri := request.Params.URI
	entityName, err := parseEntityContextURI(uri)
	if err != nil {
		return nil, err
	}

	resp, err := s.svc.EntityContext(ctx, model.EntityContextRequest{
		UserID:     userID.String(),
		EntityName: entityName,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp: entity context resource: %w", err)
	}

	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal entity context: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// parseEntityContextURI extracts and URL-decodes the entity name from
// "deciolog://entity/{name}/context".
func parseEntityContextURI(uri string) (string, error) {
	const prefix = "deciolog://entity/"
	const suffix = "/context"

	if !strings.HasPrefix(uri, prefix) || !strings.HasSuffix(uri, suffix) {
		return "", fmt.Errorf("mcp: invalid entity context URI: %s", uri)
	}

	encoded := uri[len(prefix) : len(uri)-len(suffix)]
	if encoded == "" {
		return "", fmt.Errorf("mcp: empty entity name in URI: %s", uri)
	}

	name, err := url.QueryUnescape(encoded)
	if err != nil {
		return "", fmt.Errorf("mcp: invalid entity name encoding in URI: %s", uri)
	}

	return name, nil
}
