package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/keygate/keygate/internal/service"
)

// Options controls which tools are registered.
type Options struct {
	Version string
	// ReadOnly registers only tools that never change stored keys.
	ReadOnly bool
}

// MCPServer exposes key administration as MCP tools so operators can manage
// keys from an agent session without going through the HTTP API.
type MCPServer struct {
	keys     *service.KeyService
	verifier *service.Verifier
	logger   *slog.Logger
	server   *server.MCPServer
}

// NewMCPServer creates an MCPServer with every keygate tool and resource
// registered.
func NewMCPServer(keys *service.KeyService, verifier *service.Verifier, opts Options, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &MCPServer{
		keys:     keys,
		verifier: verifier,
		logger:   logger,
	}

	mcpServer := server.NewMCPServer(
		"keygate",
		opts.Version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer, opts.ReadOnly)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go server.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP serves MCP in Streamable HTTP mode on addr (e.g. ":3001").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(false),
	}
}

func destructiveAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
