// Command workspace-mcp exposes workspace operations as MCP tools, over
// stdio or over HTTP together with an OAuth2 authorization code bridge.
package main

import (
	"os"

	"github.com/go-training/workspace-mcp/cmd/workspace-mcp/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
