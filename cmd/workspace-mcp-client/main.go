// Command workspace-mcp-client signs in to a workspace-mcp server through
// its OAuth2 endpoints and calls one tool.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/go-training/workspace-mcp/pkg/logger"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"
)

const clientName = "workspace-mcp-client"

type options struct {
	serverURL   string
	redirectURI string
	tool        string
	arguments   string
}

func main() {
	slog.SetDefault(logger.New())
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          clientName,
		Short:        "Authorize against a workspace-mcp server and call a tool",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.serverURL, "server", "http://127.0.0.1:5000/mcp", "MCP endpoint URL")
	cmd.Flags().StringVar(&opts.redirectURI, "redirect-uri", "http://127.0.0.1:8085/oauth/callback", "Loopback redirect URI for the authorization callback")
	cmd.Flags().StringVar(&opts.tool, "tool", "show_auth_token", "Tool to call after signing in")
	cmd.Flags().StringVar(&opts.arguments, "args", "{}", "Tool arguments as a JSON object")
	return cmd
}

func run(ctx context.Context, opts *options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(opts.arguments), &args); err != nil {
		return fmt.Errorf("invalid --args: %w", err)
	}

	c, err := client.NewOAuthStreamableHttpClient(opts.serverURL, client.OAuthConfig{
		ClientID:     os.Getenv("WORKSPACE_MCP_CLIENT_ID"),
		ClientSecret: os.Getenv("WORKSPACE_MCP_CLIENT_SECRET"),
		RedirectURI:  opts.redirectURI,
		TokenStore:   client.NewMemoryTokenStore(),
		PKCEEnabled:  true,
	})
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("start client: %w", err)
	}
	defer c.Close()

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    clientName,
				Version: "0.1.0",
			},
		},
	}

	result, err := c.Initialize(ctx, initReq)
	if client.IsOAuthAuthorizationRequiredError(err) {
		if err := authorize(ctx, client.GetOAuthHandler(err), opts.redirectURI); err != nil {
			return err
		}
		result, err = c.Initialize(ctx, initReq)
	}
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	slog.Info("Client initialized",
		"server", result.ServerInfo.Name,
		"version", result.ServerInfo.Version)

	toolResult, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      opts.tool,
			Arguments: args,
		},
	})
	if err != nil {
		return fmt.Errorf("call %s: %w", opts.tool, err)
	}
	printToolResult(toolResult)
	if toolResult.IsError {
		return fmt.Errorf("tool %s failed", opts.tool)
	}
	return nil
}

// authorize registers the client, sends the user to the login page and
// exchanges the code delivered to the loopback callback.
func authorize(ctx context.Context, h *transport.OAuthHandler, redirectURI string) error {
	slog.Info("OAuth authorization required, starting authorization flow")

	callback, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("invalid redirect URI: %w", err)
	}
	params := make(chan url.Values, 1)
	srv, err := startCallbackServer(callback, params)
	if err != nil {
		return err
	}
	defer srv.Close()

	if err := h.RegisterClient(ctx, clientName); err != nil {
		return fmt.Errorf("register client: %w", err)
	}

	verifier, err := client.GenerateCodeVerifier()
	if err != nil {
		return fmt.Errorf("generate code verifier: %w", err)
	}
	state, err := client.GenerateState()
	if err != nil {
		return fmt.Errorf("generate state: %w", err)
	}
	authURL, err := h.GetAuthorizationURL(ctx, state, client.GenerateCodeChallenge(verifier))
	if err != nil {
		return fmt.Errorf("build authorization URL: %w", err)
	}

	slog.Info("Opening browser to the login page", "url", authURL)
	openBrowser(authURL)

	var q url.Values
	select {
	case q = <-params:
	case <-ctx.Done():
		return ctx.Err()
	}
	if e := q.Get("error"); e != "" {
		return fmt.Errorf("authorization failed: %s: %s", e, q.Get("error_description"))
	}
	if q.Get("state") != state {
		return fmt.Errorf("state mismatch: expected %s, got %s", state, q.Get("state"))
	}
	code := q.Get("code")
	if code == "" {
		return errors.New("no authorization code received")
	}

	if err := h.ProcessAuthorizationResponse(ctx, code, state, verifier); err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}
	slog.Info("Authorization successful")
	return nil
}

func printToolResult(result *mcp.CallToolResult) {
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			fmt.Println(text.Text)
			continue
		}
		b, _ := json.MarshalIndent(content, "", "  ")
		fmt.Println(string(b))
	}
}

func startCallbackServer(callback *url.URL, params chan<- url.Values) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.HandleFunc(callback.Path, func(w http.ResponseWriter, r *http.Request) {
		select {
		case params <- r.URL.Query():
		default:
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><h1>Signed in</h1><p>You can close this window.</p></body></html>`))
	})

	ln, err := net.Listen("tcp", callback.Host)
	if err != nil {
		return nil, fmt.Errorf("listen for callback: %w", err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Callback server error", "err", err)
		}
	}()
	return srv, nil
}

func openBrowser(target string) {
	var err error
	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", target).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", target).Start()
	case "darwin":
		err = exec.Command("open", target).Start()
	default:
		err = errors.New("unsupported platform")
	}
	if err != nil {
		slog.Info("Open the following URL in your browser", "url", target)
	}
}
