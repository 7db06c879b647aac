// Package app provides the entry point for the workspace-mcp command-line
// application.
package app

import (
	"fmt"
	"log/slog"

	"github.com/go-training/workspace-mcp/pkg/config"
	"github.com/go-training/workspace-mcp/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const serverName = "BVBRC Workspace MCP Server"

// Version is overridden at build time with -ldflags.
var Version = "dev"

// NewRootCmd creates a new root command for the workspace-mcp CLI.
func NewRootCmd() *cobra.Command {
	v := config.New()

	rootCmd := &cobra.Command{
		Use:               "workspace-mcp",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Workspace MCP server with an OAuth2 authorization bridge",
		Long: `workspace-mcp exposes the workspace service as MCP tools.

The serve command runs the streamable HTTP transport together with the OAuth2
endpoints MCP clients use to obtain a workspace token. The stdio command runs
the tools over stdin/stdout and reads the token from WORKSPACE_TOKEN.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				slog.Error("Error displaying help", "err", err)
			}
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to config.json (default: ./config.json when present)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: DEBUG, INFO, WARN or ERROR")
	if err := v.BindPFlag(config.KeyLogLevel, rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		slog.Error("Error binding log-level flag", "err", err)
	}

	rootCmd.AddCommand(newServeCmd(v))
	rootCmd.AddCommand(newStdioCmd(v))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}

// loadConfig reads the configuration named by --config and installs the
// default logger at the configured level.
func loadConfig(cmd *cobra.Command, v *viper.Viper) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(v, path)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger.NewWithLevel(cfg.LogLevel))
	return cfg, nil
}
