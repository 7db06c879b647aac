// Package server assembles the HTTP front-end: OAuth discovery and the
// authorization code endpoints, the login page, the MCP endpoint, health
// and metrics.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-training/workspace-mcp/pkg/oauth"

	sloggin "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Paths served besides the OAuth endpoints.
const (
	MCPPath     = "/mcp"
	HealthPath  = "/healthz"
	MetricsPath = "/metrics"

	OpenIDConfigurationPath = "/.well-known/openid-configuration"
	AuthServerMetadataPath  = "/.well-known/oauth-authorization-server"
)

// Login rate limit defaults, per client IP.
const (
	DefaultLoginRate  = 5
	DefaultLoginBurst = 10
)

// Options configures the router.
type Options struct {
	Bridge       *oauth.Bridge
	OAuthMetrics *oauth.Metrics
	MCP          *MCPServer
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// RequireAuth rejects MCP requests without an Authorization header.
	// Disable it when a fallback workspace token is configured.
	RequireAuth bool
	LoginRate   rate.Limit
	LoginBurst  int
	// TrustedProxies lists the proxies whose X-Forwarded-For is honoured
	// when keying the login limiter. Empty trusts none.
	TrustedProxies []string
}

// NewRouter builds the gin engine serving every endpoint.
func NewRouter(opts Options) *gin.Engine {
	if opts.LoginRate <= 0 {
		opts.LoginRate = DefaultLoginRate
	}
	if opts.LoginBurst <= 0 {
		opts.LoginBurst = DefaultLoginBurst
	}

	router := gin.New()
	if err := router.SetTrustedProxies(opts.TrustedProxies); err != nil {
		slog.Error("invalid trusted proxies, trusting none", "err", err)
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(sloggin.SetLogger(), gin.Recovery())
	router.SetHTMLTemplate(loginTemplate)

	h := &handlers{bridge: opts.Bridge, metrics: opts.OAuthMetrics}
	cors := corsMiddleware()

	router.GET(HealthPath, healthz)
	if opts.Gatherer != nil {
		router.GET(MetricsPath, gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	wellKnown := router.Group("/.well-known", cors)
	wellKnown.OPTIONS("/*path")
	wellKnown.GET("/openid-configuration", h.discovery)
	wellKnown.GET("/oauth-authorization-server", h.discovery)
	wellKnown.GET("/oauth-protected-resource", h.protectedResource)

	oauthGroup := router.Group("", cors)
	oauthGroup.OPTIONS(oauth.RegisterPath)
	oauthGroup.OPTIONS(oauth.TokenPath)
	oauthGroup.POST(oauth.RegisterPath, noStore, h.register)
	oauthGroup.GET(oauth.AuthorizePath, h.authorize)
	oauthGroup.POST(oauth.TokenPath, noStore, h.token)
	router.POST(oauth.LoginPath, rateLimitMiddleware(newIPLimiter(opts.LoginRate, opts.LoginBurst)), h.login)

	if opts.MCP != nil {
		mcpHandlers := []gin.HandlerFunc{cors}
		if opts.RequireAuth {
			mcpHandlers = append(mcpHandlers, authMiddleware(opts.Bridge.Config().Issuer+ProtectedResourcePath))
		}
		mcpHandlers = append(mcpHandlers, gin.WrapH(opts.MCP.ServeHTTP()))
		router.OPTIONS(MCPPath, cors)
		for _, method := range []string{http.MethodPost, http.MethodGet, http.MethodDelete} {
			router.Handle(method, MCPPath, mcpHandlers...)
		}
	}

	return router
}

// NewHTTPServer returns an http.Server for handler with the read, write and
// idle timeouts applied.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
