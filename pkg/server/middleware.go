package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-training/workspace-mcp/pkg/oauth"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

var defaultCORSHeaders = []string{"Mcp-Protocol-Version", "Mcp-Session-Id", "Authorization", "Content-Type"}

// corsMiddleware allows browser-based MCP clients to reach the discovery,
// OAuth and MCP endpoints. Extra headers are appended to the defaults.
func corsMiddleware(allowedHeaders ...string) gin.HandlerFunc {
	headers := append([]string{}, defaultCORSHeaders...)
	for _, h := range allowedHeaders {
		h = strings.TrimSpace(h)
		if h != "" && h != "*" && !containsCI(headers, h) {
			headers = append(headers, h)
		}
	}
	allowHeaders := strings.Join(headers, ", ")
	allowMethods := strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}, ", ")

	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Vary", "Origin")
		c.Header("Access-Control-Allow-Methods", allowMethods)
		c.Header("Access-Control-Allow-Headers", allowHeaders)
		c.Header("Access-Control-Expose-Headers", "Mcp-Session-Id, WWW-Authenticate")
		c.Header("Access-Control-Max-Age", "86400")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// authMiddleware rejects MCP requests without an Authorization header and
// points the client at the protected resource metadata.
func authMiddleware(resourceMetadataURL string) gin.HandlerFunc {
	challenge := `Bearer resource_metadata="` + resourceMetadataURL + `"`
	return func(c *gin.Context) {
		if strings.TrimSpace(c.GetHeader("Authorization")) == "" {
			c.Header("WWW-Authenticate", challenge)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":             "invalid_token",
				"error_description": "missing Authorization header",
			})
			return
		}
		c.Next()
	}
}

// ipLimiter hands out one token bucket per client IP. Buckets idle for
// longer than ttl are dropped on the next lookup.
type ipLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
	buckets map[string]*bucket
	lastGC  time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{
		limit:   limit,
		burst:   burst,
		ttl:     10 * time.Minute,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastGC) > l.ttl {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.ttl {
				delete(l.buckets, k)
			}
		}
		l.lastGC = now
	}

	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// rateLimitMiddleware answers 429 once a client IP exceeds its budget.
func rateLimitMiddleware(l *ipLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":             "rate_limited",
				"error_description": "too many login attempts, slow down",
			})
			return
		}
		c.Next()
	}
}

// noStore marks responses carrying credentials as uncacheable.
func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.Next()
}

func writeOAuthError(c *gin.Context, err error) {
	oe := oauth.AsError(err)
	c.JSON(oe.Status, oe)
}

// containsCI checks if slice contains item (case-insensitive).
func containsCI(slice []string, item string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}
