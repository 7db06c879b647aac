package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-training/workspace-mcp/pkg/core"
	"github.com/go-training/workspace-mcp/pkg/operation"

	mcpserver "github.com/mark3labs/mcp-go/server"
)

// MCPServer wraps the underlying MCP server instance.
type MCPServer struct {
	server *mcpserver.MCPServer
}

// NewMCPServer creates an MCP server exposing every tool in tools. Tool
// calls are observed through metrics, which may be nil.
func NewMCPServer(name, version string, tools *operation.Registry, metrics *operation.Metrics) *MCPServer {
	s := mcpserver.NewMCPServer(
		name,
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithRecovery(),
		mcpserver.WithToolHandlerMiddleware(operation.ToolHandlerMiddleware(metrics)),
	)
	tools.Register(s)

	return &MCPServer{server: s}
}

// ServeHTTP returns a streamable HTTP server that injects the caller's token
// and a request ID into the context.
func (s *MCPServer) ServeHTTP() *mcpserver.StreamableHTTPServer {
	return mcpserver.NewStreamableHTTPServer(s.server,
		mcpserver.WithHeartbeatInterval(30*time.Second),
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			ctx = core.AuthFromRequest(ctx, r)
			return core.WithRequestID(ctx)
		}),
	)
}

// ServeStdio serves MCP over stdin/stdout, reading the token from the
// environment.
func (s *MCPServer) ServeStdio() error {
	return mcpserver.ServeStdio(s.server, mcpserver.WithStdioContextFunc(func(ctx context.Context) context.Context {
		ctx = core.AuthFromEnv(ctx)
		return core.WithRequestID(ctx)
	}))
}
