package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/go-training/workspace-mcp/pkg/core"
	"github.com/go-training/workspace-mcp/pkg/store"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Registration limits.
const (
	MaxRedirectURICount = 10
	MaxClientNameLength = 256
)

// RegistrationRequest is an RFC 7591 client registration request.
type RegistrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
}

// RegisteredClient is the result of a registration. Secret holds the plain
// client secret and is only available here, once.
type RegisteredClient struct {
	*core.Client
	Secret string
}

// RegistrationResponse is the RFC 7591 §3.2.1 response body.
type RegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt   *int64   `json:"client_secret_expires_at,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
}

// Response renders the registration result.
func (c *RegisteredClient) Response() *RegistrationResponse {
	resp := &RegistrationResponse{
		ClientID:                c.ID,
		ClientIDIssuedAt:        c.CreatedAt.Unix(),
		ClientName:              c.Name,
		RedirectURIs:            c.RedirectURIs,
		TokenEndpointAuthMethod: c.TokenAuthMethod,
		GrantTypes:              c.GrantTypes,
		ResponseTypes:           c.ResponseTypes,
	}
	if c.Secret != "" {
		never := int64(0)
		resp.ClientSecret = c.Secret
		resp.ClientSecretExpiresAt = &never
	}
	return resp
}

// Registry stores dynamically registered clients.
type Registry struct {
	store      core.ClientStore
	now        func() time.Time
	bcryptCost int
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithBcryptCost overrides the cost used to hash client secrets.
func WithBcryptCost(cost int) RegistryOption {
	return func(r *Registry) {
		r.bcryptCost = cost
	}
}

// NewRegistry creates a client registry backed by store.
func NewRegistry(store core.ClientStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:      store,
		now:        time.Now,
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates req and persists a new client. A client secret is issued
// unless the client registers as public with token_endpoint_auth_method "none".
func (r *Registry) Register(ctx context.Context, req RegistrationRequest) (*RegisteredClient, error) {
	if err := validateRedirectURIs(req.RedirectURIs); err != nil {
		return nil, err
	}
	if len(req.ClientName) > MaxClientNameLength {
		return nil, metadataError(fmt.Sprintf("client_name exceeds %d characters", MaxClientNameLength))
	}

	method := req.TokenEndpointAuthMethod
	if method == "" {
		method = core.AuthMethodClientSecretPost
	}
	if method != core.AuthMethodNone && method != core.AuthMethodClientSecretPost {
		return nil, metadataError("token_endpoint_auth_method must be 'none' or 'client_secret_post'")
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{core.GrantTypeAuthorizationCode}
	}
	for _, gt := range grantTypes {
		if gt != core.GrantTypeAuthorizationCode {
			return nil, metadataError("unsupported grant_type: " + gt)
		}
	}

	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{core.ResponseTypeCode}
	}
	for _, rt := range responseTypes {
		if rt != core.ResponseTypeCode {
			return nil, metadataError("unsupported response_type: " + rt)
		}
	}

	client := &core.Client{
		ID:              uuid.New().String(),
		Name:            req.ClientName,
		RedirectURIs:    slices.Clone(req.RedirectURIs),
		GrantTypes:      slices.Compact(slices.Clone(grantTypes)),
		ResponseTypes:   slices.Compact(slices.Clone(responseTypes)),
		TokenAuthMethod: method,
		CreatedAt:       r.now().UTC(),
	}

	var secret string
	if method == core.AuthMethodClientSecretPost {
		var err error
		secret, err = generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate client secret: %w", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), r.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash client secret: %w", err)
		}
		client.SecretHash = string(hash)
	}

	if err := r.store.CreateClient(ctx, client); err != nil {
		return nil, fmt.Errorf("store client: %w", err)
	}

	return &RegisteredClient{Client: client, Secret: secret}, nil
}

// Lookup returns the registered client with clientID, or ErrUnknownClient.
func (r *Registry) Lookup(ctx context.Context, clientID string) (*core.Client, error) {
	if clientID == "" {
		return nil, ErrUnknownClient
	}
	client, err := r.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrClientNotFound) || errors.Is(err, store.ErrEmptyClientID) {
			return nil, ErrUnknownClient
		}
		return nil, fmt.Errorf("load client: %w", err)
	}
	return client, nil
}

// List returns all registered clients.
func (r *Registry) List(ctx context.Context) ([]*core.Client, error) {
	return r.store.GetClients(ctx)
}

// AuthenticateSecret checks secret against the client's stored hash.
// Public clients always pass.
func (r *Registry) AuthenticateSecret(client *core.Client, secret string) error {
	if client.IsPublic() {
		return nil
	}
	if secret == "" || client.SecretHash == "" {
		return ErrInvalidClient
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret)); err != nil {
		return ErrInvalidClient
	}
	return nil
}

func validateRedirectURIs(uris []string) error {
	if len(uris) == 0 {
		return redirectError("redirect_uris is required")
	}
	if len(uris) > MaxRedirectURICount {
		return redirectError(fmt.Sprintf("too many redirect_uris (maximum %d)", MaxRedirectURICount))
	}
	for _, raw := range uris {
		if err := validateRedirectURI(raw); err != nil {
			return err
		}
	}
	return nil
}

func validateRedirectURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return redirectError(fmt.Sprintf("redirect_uri %q is not a valid URI", raw))
	}
	if !u.IsAbs() {
		return redirectError(fmt.Sprintf("redirect_uri %q is not absolute", raw))
	}
	if u.Fragment != "" {
		return redirectError(fmt.Sprintf("redirect_uri %q must not contain a fragment", raw))
	}
	if (u.Scheme == "http" || u.Scheme == "https") && u.Host == "" {
		return redirectError(fmt.Sprintf("redirect_uri %q has no host", raw))
	}
	return nil
}

func redirectError(description string) *Error {
	return newError(ErrInvalidRedirectURI, CodeInvalidRedirectURI, http.StatusBadRequest, description)
}

func metadataError(description string) *Error {
	return newError(ErrInvalidClientMetadata, CodeInvalidClientMetadata, http.StatusBadRequest, description)
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
