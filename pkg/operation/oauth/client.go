// Package oauth provides MCP tools for inspecting registered OAuth clients.
package oauth

import (
	"context"
	"time"

	"github.com/go-training/workspace-mcp/pkg/core"
	"github.com/go-training/workspace-mcp/pkg/operation"

	"github.com/mark3labs/mcp-go/mcp"
)

// Lister returns the registered clients.
type Lister interface {
	List(ctx context.Context) ([]*core.Client, error)
}

// ClientInfo is the public view of a registered client. Secrets and their
// hashes are never included.
type ClientInfo struct {
	ClientID                string    `json:"client_id"`
	ClientName              string    `json:"client_name,omitempty"`
	RedirectURIs            []string  `json:"redirect_uris"`
	TokenEndpointAuthMethod string    `json:"token_endpoint_auth_method"`
	CreatedAt               time.Time `json:"created_at"`
}

// ListOAuthClientsTool defines the MCP tool for listing all OAuth clients.
var ListOAuthClientsTool = mcp.NewTool("list_oauth_clients",
	mcp.WithDescription("List all dynamically registered OAuth clients"),
)

// NewHandler returns the list_oauth_clients handler backed by l.
func NewHandler(l Lister) operation.Handler {
	return operation.HandlerFunc(func(ctx context.Context, _ operation.Request) (operation.Result, error) {
		logger := core.LoggerFromCtx(ctx)
		logger.Info("Handling list_oauth_clients tool")

		clients, err := l.List(ctx)
		if err != nil {
			logger.Error("Failed to list clients", "error", err)
			return operation.Result{}, err
		}

		infos := make([]ClientInfo, 0, len(clients))
		for _, c := range clients {
			infos = append(infos, ClientInfo{
				ClientID:                c.ID,
				ClientName:              c.Name,
				RedirectURIs:            c.RedirectURIs,
				TokenEndpointAuthMethod: c.TokenAuthMethod,
				CreatedAt:               c.CreatedAt,
			})
		}
		return operation.JSON(infos), nil
	})
}

// Register adds list_oauth_clients to r.
func Register(r *operation.Registry, l Lister) {
	r.RegisterRead(ListOAuthClientsTool, NewHandler(l))
}
