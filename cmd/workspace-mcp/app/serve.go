package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-training/workspace-mcp/pkg/config"
	"github.com/go-training/workspace-mcp/pkg/jsonrpc"
	"github.com/go-training/workspace-mcp/pkg/oauth"
	"github.com/go-training/workspace-mcp/pkg/operation"
	"github.com/go-training/workspace-mcp/pkg/operation/files"
	"github.com/go-training/workspace-mcp/pkg/operation/health"
	oauthtools "github.com/go-training/workspace-mcp/pkg/operation/oauth"
	"github.com/go-training/workspace-mcp/pkg/operation/token"
	"github.com/go-training/workspace-mcp/pkg/server"
	"github.com/go-training/workspace-mcp/pkg/store"
	"github.com/go-training/workspace-mcp/pkg/workspace"

	"github.com/appleboy/graceful"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP over HTTP together with the OAuth2 endpoints",
		Long: `Start the HTTP server. It exposes OAuth2 discovery, dynamic client
registration, the authorization code flow with PKCE, the MCP streamable HTTP
endpoint at /mcp, /healthz and /metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	flags := cmd.Flags()
	flags.Int("port", 5000, "Port to listen on")
	flags.String("host", "127.0.0.1", "Address to bind")
	flags.String("issuer", "", "Public base URL of the server (default: http://host:port)")
	flags.String("store", string(store.StoreTypeMemory), "Client and grant store: memory or redis")
	flags.String("redis-addr", "localhost:6379", "Redis address when --store=redis")
	flags.Bool("admin-tools", false, "Expose list_oauth_clients to MCP callers")

	for key, name := range map[string]string{
		config.KeyPort:       "port",
		config.KeyMCPURL:     "host",
		config.KeyIssuer:     "issuer",
		config.KeyStore:      "store",
		config.KeyRedisAddr:  "redis-addr",
		config.KeyAdminTools: "admin-tools",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			slog.Error("Error binding flag", "flag", name, "err", err)
		}
	}

	return cmd
}

func runServe(cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	st, err := store.NewStore(cfg.StoreConfig())
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}

	issuer := cfg.IssuerURL()
	if cfg.ContinuationSecret == "" && store.ParseStoreType(cfg.Store) == store.StoreTypeRedis {
		slog.Warn("continuation_secret is not set; login forms will not survive a hop to another instance")
	}
	signer, err := oauth.NewContinuationSigner([]byte(cfg.ContinuationSecret), issuer, 0)
	if err != nil {
		_ = st.Close()
		return err
	}

	oauthMetrics := oauth.NewMetrics(reg)
	bridge := oauth.NewBridge(
		oauth.NewRegistry(st),
		st,
		oauth.NewHTTPAuthenticator(cfg.AuthenticationURL, cfg.UpstreamTimeout),
		signer,
		oauth.Config{
			Issuer:          issuer,
			CodeTTL:         cfg.CodeTTL,
			TokenTTL:        cfg.TokenTTL,
			UpstreamTimeout: cfg.UpstreamTimeout,
		},
		oauth.WithMetrics(oauthMetrics),
	)

	tokens := workspace.NewTokenProvider(cfg.Token)
	tools := newToolRegistry(cfg, tokens)
	registerAdminTools(cfg, tools, bridge.Registry())

	mcp := server.NewMCPServer(serverName, Version, tools, operation.NewMetrics(reg))
	router := server.NewRouter(server.Options{
		Bridge:         bridge,
		OAuthMetrics:   oauthMetrics,
		MCP:            mcp,
		Gatherer:       reg,
		RequireAuth:    !tokens.HasFallback(),
		LoginRate:      rate.Limit(cfg.LoginRate),
		LoginBurst:     cfg.LoginBurst,
		TrustedProxies: cfg.TrustedProxies,
	})
	srv := server.NewHTTPServer(cfg.Addr(), router)
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}

	m := graceful.NewManager()
	m.AddRunningJob(func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() {
			slog.Info("MCP HTTP server listening", "addr", srv.Addr, "issuer", issuer, "store", cfg.Store)
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		slog.Info("Shutdown signal received, shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "err", err)
			return err
		}
		slog.Info("Server shutdown gracefully")
		return nil
	})
	m.AddRunningJob(func(ctx context.Context) error {
		return bridge.RunSweeper(ctx, cfg.SweepInterval)
	})
	m.AddShutdownJob(func() error {
		return st.Close()
	})

	<-m.Done()
	return nil
}

// newToolRegistry registers the tools shared by both transports.
func newToolRegistry(cfg *config.Config, tokens *workspace.TokenProvider) *operation.Registry {
	ws := workspace.NewClient(
		jsonrpc.NewCaller(cfg.WorkspaceURL),
		workspace.WithMaxDownloadBytes(cfg.MaxDownloadBytes),
	)

	r := operation.NewRegistry()
	files.New(ws, tokens).Register(r)
	health.Register(r)
	token.Register(r, tokens)
	return r
}

// registerAdminTools adds list_oauth_clients when admin_tools is enabled.
func registerAdminTools(cfg *config.Config, r *operation.Registry, clients oauthtools.Lister) {
	if !cfg.AdminTools {
		return
	}
	slog.Warn("admin tools enabled; every authorized MCP caller can list OAuth clients")
	oauthtools.Register(r, clients)
}
