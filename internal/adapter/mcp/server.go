// Package mcp exposes task contexts to MCP-capable assistants over the
// streamable HTTP transport.
package mcp

import (
	"context"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/OnboardForge/internal/domain/taskcontext"
	"github.com/Strob0t/OnboardForge/internal/domain/template"
	"github.com/Strob0t/OnboardForge/internal/middleware"
	"github.com/Strob0t/OnboardForge/internal/service"
)

// ContextReader loads tenant-scoped task contexts and their history.
type ContextReader interface {
	Get(ctx context.Context, contextID string) (*taskcontext.TaskContext, error)
	History(ctx context.Context, contextID string, page taskcontext.HistoryPage) ([]taskcontext.Entry, error)
}

// Responder records a user's answer to a pending UI request.
type Responder interface {
	SubmitUIResponse(ctx context.Context, contextID string, in service.UIResponse) (*taskcontext.Entry, error)
}

// TemplateLister lists the available task templates.
type TemplateLister interface {
	List(ctx context.Context) ([]template.Template, error)
}

// ServerConfig names the server in the MCP handshake.
type ServerConfig struct {
	Name    string
	Version string
}

// ServerDeps are the services behind the tools. A nil dependency makes the
// corresponding tool answer with an error result.
type ServerDeps struct {
	Contexts  ContextReader
	Responder Responder
	Templates TemplateLister
}

// Server wraps an MCP server and its HTTP transport.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	http      *mcpserver.StreamableHTTPServer
}

// NewServer creates the MCP server and registers tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()

	s.http = mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithStateLess(true),
		mcpserver.WithHTTPContextFunc(tenantFromRequest),
	)
	return s
}

// MCPServer returns the underlying server, mainly for tests.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Handler returns the HTTP handler to mount behind the API's auth and tenant
// middleware.
func (s *Server) Handler() http.Handler { return s.http }

// tenantFromRequest carries the tenant bound by the HTTP middleware into the
// tool handler context.
func tenantFromRequest(ctx context.Context, r *http.Request) context.Context {
	return middleware.WithTenantID(ctx, middleware.TenantIDFromContext(r.Context()))
}
