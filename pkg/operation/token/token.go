// Package token provides the show_auth_token tool.
package token

import (
	"context"
	"fmt"

	"github.com/go-training/workspace-mcp/pkg/core"
	"github.com/go-training/workspace-mcp/pkg/operation"

	"github.com/mark3labs/mcp-go/mcp"
)

// Source resolves the workspace token for a call.
type Source interface {
	Token(ctx context.Context, explicit string) (string, error)
}

// ShowAuthTokenTool defines the MCP tool for displaying the current auth token.
var ShowAuthTokenTool = mcp.NewTool("show_auth_token",
	mcp.WithDescription("Show a masked form of the workspace token the server would use for this call"),
	mcp.WithString("token",
		mcp.Description("Workspace token (optional, overrides the request token)"),
	),
)

// NewHandler returns the show_auth_token handler backed by src.
func NewHandler(src Source) operation.Handler {
	return operation.HandlerFunc(func(ctx context.Context, req operation.Request) (operation.Result, error) {
		tok, err := src.Token(ctx, req.String("token"))
		if err != nil {
			return operation.Result{}, fmt.Errorf("missing token: %w", err)
		}
		core.LoggerFromCtx(ctx).Debug("Handling show_auth_token tool")
		return operation.Text(core.Redact(tok)), nil
	})
}

// Register adds show_auth_token to r.
func Register(r *operation.Registry, src Source) {
	r.RegisterRead(ShowAuthTokenTool, NewHandler(src))
}
