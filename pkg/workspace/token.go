package workspace

import (
	"context"
	"errors"
	"strings"

	"github.com/go-training/workspace-mcp/pkg/core"
)

// ErrNoToken is returned when no workspace credential is available.
var ErrNoToken = errors.New("no authentication token available")

// TokenProvider resolves the workspace token for a call. Precedence: the
// token passed explicitly to the tool, then the one attached to the request
// context, then the configured fallback.
type TokenProvider struct {
	fallback string
}

// NewTokenProvider returns a provider that uses fallback when nothing else
// supplies a token. An empty fallback disables it.
func NewTokenProvider(fallback string) *TokenProvider {
	return &TokenProvider{fallback: strings.TrimSpace(fallback)}
}

// HasFallback reports whether a fallback token is configured.
func (p *TokenProvider) HasFallback() bool {
	return p.fallback != ""
}

// Token returns the token to use for a call.
func (p *TokenProvider) Token(ctx context.Context, explicit string) (string, error) {
	if t := core.BearerToken(strings.TrimSpace(explicit)); t != "" {
		return t, nil
	}
	if t, err := core.TokenFromContext(ctx); err == nil && t != "" {
		return t, nil
	}
	if p.fallback != "" {
		return p.fallback, nil
	}
	return "", ErrNoToken
}
