// Package health provides the health_check tool.
package health

import (
	"context"

	"github.com/go-training/workspace-mcp/pkg/operation"

	"github.com/mark3labs/mcp-go/mcp"
)

// ServiceName is reported by the health check.
const ServiceName = "bvbrc-workspace-mcp"

// Status is the health_check payload.
type Status struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

var HealthCheckTool = mcp.NewTool("health_check",
	mcp.WithDescription(`Health Check Tool

Description:
  Reports that the workspace MCP server is up. It does not contact the
  workspace service and needs no token.

Output:
  {"status": "healthy", "service": "bvbrc-workspace-mcp"}`),
)

// Handle returns the healthy status.
func Handle(_ context.Context, _ operation.Request) (operation.Result, error) {
	return operation.JSON(Status{Status: "healthy", Service: ServiceName}), nil
}

// Register adds health_check to r.
func Register(r *operation.Registry) {
	r.RegisterRead(HealthCheckTool, operation.HandlerFunc(Handle))
}
