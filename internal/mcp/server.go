package mcp

import (
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/grebion/tables/internal/service"
	"github.com/grebion/tables/internal/transfer"
)

// MCPServer wraps the mcp-go server with the table tools and resources. It
// lets AI agents discover schemas, read and edit rows, and export tables.
type MCPServer struct {
	tables   *service.TableService
	transfer *transfer.Service
	logger   *slog.Logger
	server   *server.MCPServer
}

// NewMCPServer creates an MCPServer with every tool and resource registered.
// The returned server is ready to serve over stdio, SSE or streamable HTTP.
func NewMCPServer(tables *service.TableService, xfer *transfer.Service, version string, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MCPServer{
		tables:   tables,
		transfer: xfer,
		logger:   logger,
	}

	mcpServer := server.NewMCPServer(
		"Tables",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio serves MCP over stdin and stdout until the client goes away.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeSSE serves MCP over server-sent events on addr (e.g. ":3001").
func (s *MCPServer) ServeSSE(addr string) error {
	sse := server.NewSSEServer(s.server)
	s.logger.Info("MCP SSE server starting", "addr", addr)
	return sse.Start(addr)
}

// Handler returns a streamable HTTP handler for mounting on the API router.
func (s *MCPServer) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.server)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(false),
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
