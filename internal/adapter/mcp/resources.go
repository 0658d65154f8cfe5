package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const templatesURI = "onboard://templates"

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			templatesURI,
			"Task Templates",
			mcplib.WithResourceDescription("Latest revision of every onboarding task template"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleTemplatesResource,
	)
}

func (s *Server) handleTemplatesResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Templates == nil {
		return []mcplib.ResourceContents{
			mcplib.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     `{"error":"template lister not configured"}`,
			},
		}, nil
	}
	tpls, err := s.deps.Templates.List(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(tpls)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
