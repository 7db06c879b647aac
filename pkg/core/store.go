package core

import (
	"context"
	"time"
)

// Token endpoint authentication methods supported for registered clients.
const (
	AuthMethodNone              = "none"
	AuthMethodClientSecretPost  = "client_secret_post"
	CodeChallengeMethodS256     = "S256"
	GrantTypeAuthorizationCode  = "authorization_code"
	ResponseTypeCode            = "code"
	TokenTypeBearer             = "Bearer"
	DefaultGrantRetentionWindow = 5 * time.Minute
)

// Client represents a dynamically registered OAuth 2.0 client (RFC 7591).
// The plain client secret is never stored; only its bcrypt hash.
type Client struct {
	ID              string    `json:"client_id"`
	SecretHash      string    `json:"client_secret_hash,omitempty"`
	Name            string    `json:"client_name,omitempty"`
	RedirectURIs    []string  `json:"redirect_uris"`
	GrantTypes      []string  `json:"grant_types"`
	ResponseTypes   []string  `json:"response_types"`
	TokenAuthMethod string    `json:"token_endpoint_auth_method"`
	CreatedAt       time.Time `json:"created_at"`
}

// IsPublic reports whether the client authenticates at the token endpoint
// without a secret.
func (c *Client) IsPublic() bool {
	return c.TokenAuthMethod == AuthMethodNone
}

// HasRedirectURI reports whether uri exactly matches one of the registered URIs.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// AuthorizationGrant binds an issued authorization code to the client,
// redirect target and upstream workspace token obtained at login.
type AuthorizationGrant struct {
	Code          string    `json:"code"`
	ClientID      string    `json:"client_id"`
	RedirectURI   string    `json:"redirect_uri"`
	CodeChallenge string    `json:"code_challenge,omitempty"`
	UpstreamToken string    `json:"upstream_token"`
	IssuedAt      time.Time `json:"issued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Consumed      bool      `json:"consumed"`
	ConsumedAt    time.Time `json:"consumed_at,omitzero"`
}

// Expired reports whether the grant is no longer honored at now.
func (g *AuthorizationGrant) Expired(now time.Time) bool {
	return !now.Before(g.ExpiresAt)
}

// Stale reports whether a sweep may remove the grant: it has expired, or it
// was consumed longer ago than retention.
func (g *AuthorizationGrant) Stale(now time.Time, retention time.Duration) bool {
	if g.Consumed {
		return now.Sub(g.ConsumedAt) > retention
	}
	return g.Expired(now)
}

// ClientStore persists registered clients.
type ClientStore interface {
	CreateClient(ctx context.Context, client *Client) error
	GetClient(ctx context.Context, clientID string) (*Client, error)
	GetClients(ctx context.Context) ([]*Client, error)
}

// GrantStore persists authorization grants keyed by code. It is the only
// component allowed to flip a grant's consumed flag.
type GrantStore interface {
	PutGrant(ctx context.Context, grant *AuthorizationGrant) error
	GetGrant(ctx context.Context, code string) (*AuthorizationGrant, error)
	// ConsumeGrant atomically verifies the grant is unconsumed, unexpired and
	// bound to clientID and redirectURI, then marks it consumed. Of any number
	// of concurrent calls for the same code at most one succeeds.
	ConsumeGrant(ctx context.Context, code, clientID, redirectURI string, now time.Time) (*AuthorizationGrant, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Store combines client and grant persistence.
type Store interface {
	ClientStore
	GrantStore
	Close() error
}
