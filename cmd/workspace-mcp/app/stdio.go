package app

import (
	"log/slog"

	"github.com/go-training/workspace-mcp/pkg/server"
	"github.com/go-training/workspace-mcp/pkg/workspace"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStdioCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve MCP over stdin/stdout",
		Long: `Serve the workspace tools over stdin/stdout. The workspace token is
taken from the tool arguments, then WORKSPACE_TOKEN (or KB_AUTH_TOKEN), then
the token setting of config.json.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			tools := newToolRegistry(cfg, workspace.NewTokenProvider(cfg.Token))
			slog.Info("Serving MCP over stdio", "workspace_url", cfg.WorkspaceURL, "tools", tools.Names())
			return server.NewMCPServer(serverName, Version, tools, nil).ServeStdio()
		},
	}
}
