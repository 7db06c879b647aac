package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-training/workspace-mcp/pkg/core"
	"github.com/go-training/workspace-mcp/pkg/store"
)

const (
	// MaxCodeTTL is the longest an authorization code may stay valid.
	MaxCodeTTL = 120 * time.Second
	// DefaultTokenTTL is reported as expires_in when none is configured.
	DefaultTokenTTL = time.Hour
	// DefaultSweepInterval is how often the sweeper removes stale grants.
	DefaultSweepInterval = time.Minute

	codeBytes       = 32
	maxCodeAttempts = 3
)

// Config holds the bridge settings.
type Config struct {
	Issuer          string
	CodeTTL         time.Duration
	TokenTTL        time.Duration
	UpstreamTimeout time.Duration
}

// AuthorizeRequest carries the query parameters of GET /oauth2/authorize.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	State               string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// LoginForm is the data rendered into the login page.
type LoginForm struct {
	ClientID     string
	ClientName   string
	RedirectURI  string
	Continuation string
	Username     string
	Error        string
}

// LoginRequest carries the fields posted to /oauth2/login.
type LoginRequest struct {
	Username     string
	Password     string
	Continuation string
}

// TokenRequest carries the form fields posted to /oauth2/token.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	CodeVerifier string
}

// TokenResponse is the RFC 6749 §5.1 access token response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Bridge drives the authorization code flow: authorize renders a login form,
// login trades user credentials for an upstream token bound to a fresh code,
// and token exchanges the code exactly once for that upstream token.
type Bridge struct {
	registry      *Registry
	grants        core.GrantStore
	authenticator Authenticator
	continuations *ContinuationSigner
	cfg           Config
	metrics       *Metrics
	now           func() time.Time
	newCode       func() (string, error)
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithMetrics records bridge activity in m.
func WithMetrics(m *Metrics) BridgeOption {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) BridgeOption {
	return func(b *Bridge) {
		b.now = now
		if b.continuations != nil {
			b.continuations.now = now
		}
		if b.registry != nil {
			b.registry.now = now
		}
	}
}

// NewBridge wires the bridge components together.
func NewBridge(
	registry *Registry,
	grants core.GrantStore,
	authenticator Authenticator,
	continuations *ContinuationSigner,
	cfg Config,
	opts ...BridgeOption,
) *Bridge {
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = MaxCodeTTL
	}
	if cfg.CodeTTL > MaxCodeTTL {
		slog.Warn("authorization code TTL clamped", "requested", cfg.CodeTTL, "max", MaxCodeTTL)
		cfg.CodeTTL = MaxCodeTTL
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = DefaultUpstreamTimeout
	}

	b := &Bridge{
		registry:      registry,
		grants:        grants,
		authenticator: authenticator,
		continuations: continuations,
		cfg:           cfg,
		now:           time.Now,
		newCode:       generateCode,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Config returns the effective bridge configuration.
func (b *Bridge) Config() Config {
	return b.cfg
}

// Registry returns the client registry used by the bridge.
func (b *Bridge) Registry() *Registry {
	return b.registry
}

// Metadata returns the discovery document for the configured issuer.
func (b *Bridge) Metadata() Document {
	return Metadata(b.cfg.Issuer)
}

// Authorize validates an authorization request and returns the login form
// to render. Errors are never redirected to the client.
func (b *Bridge) Authorize(ctx context.Context, req AuthorizeRequest) (*LoginForm, error) {
	form, err := b.authorize(ctx, req)
	b.metrics.observeAuthorize(err)
	return form, err
}

func (b *Bridge) authorize(ctx context.Context, req AuthorizeRequest) (*LoginForm, error) {
	if req.ResponseType == "" {
		return nil, invalidRequest("response_type is required")
	}
	if req.ResponseType != core.ResponseTypeCode {
		return nil, newError(ErrUnsupportedResponseType, CodeUnsupportedResponseType, http.StatusBadRequest,
			"only response_type=code is supported")
	}

	client, err := b.validateClientRedirect(ctx, req.ClientID, req.RedirectURI)
	if err != nil {
		return nil, err
	}

	if req.CodeChallengeMethod != "" && req.CodeChallengeMethod != core.CodeChallengeMethodS256 {
		return nil, newError(ErrUnsupportedPKCEMethod, CodeInvalidRequest, http.StatusBadRequest,
			"code_challenge_method must be S256")
	}
	if req.CodeChallengeMethod != "" && req.CodeChallenge == "" {
		return nil, invalidRequest("code_challenge_method given without code_challenge")
	}
	if req.CodeChallenge != "" {
		if req.CodeChallengeMethod == "" {
			// The RFC 7636 default is plain, which is not supported.
			return nil, newError(ErrUnsupportedPKCEMethod, CodeInvalidRequest, http.StatusBadRequest,
				"code_challenge_method must be S256")
		}
		if !validS256Challenge(req.CodeChallenge) {
			return nil, invalidRequest("code_challenge is malformed")
		}
	}

	continuation, err := b.continuations.Sign(Continuation{
		ClientID:      client.ID,
		RedirectURI:   req.RedirectURI,
		State:         req.State,
		CodeChallenge: req.CodeChallenge,
	})
	if err != nil {
		core.LoggerFromCtx(ctx).Error("failed to sign login continuation", "error", err)
		return nil, serverError()
	}

	return &LoginForm{
		ClientID:     client.ID,
		ClientName:   displayName(client),
		RedirectURI:  req.RedirectURI,
		Continuation: continuation,
	}, nil
}

// ResumeForm rebuilds the login form for a continuation after a failed
// attempt, carrying message as the user-visible error.
func (b *Bridge) ResumeForm(ctx context.Context, continuation, username, message string) (*LoginForm, error) {
	cont, err := b.continuations.Verify(continuation)
	if err != nil {
		return nil, err
	}
	client, err := b.validateClientRedirect(ctx, cont.ClientID, cont.RedirectURI)
	if err != nil {
		return nil, err
	}
	return &LoginForm{
		ClientID:     client.ID,
		ClientName:   displayName(client),
		RedirectURI:  cont.RedirectURI,
		Continuation: continuation,
		Username:     username,
		Error:        message,
	}, nil
}

// Login authenticates the user upstream, stores a new grant and returns the
// client callback URL carrying the code and the original state.
func (b *Bridge) Login(ctx context.Context, req LoginRequest) (*url.URL, error) {
	logger := core.LoggerFromCtx(ctx)

	cont, err := b.continuations.Verify(req.Continuation)
	if err != nil {
		b.metrics.observeLogin("invalid_continuation")
		return nil, err
	}
	client, err := b.validateClientRedirect(ctx, cont.ClientID, cont.RedirectURI)
	if err != nil {
		b.metrics.observeLogin("invalid_client")
		return nil, err
	}

	if req.Username == "" || req.Password == "" {
		b.metrics.observeLogin("invalid_credentials")
		return nil, credentialsError()
	}

	authCtx, cancel := context.WithTimeout(ctx, b.cfg.UpstreamTimeout)
	upstreamToken, err := b.authenticator.Authenticate(authCtx, req.Username, req.Password)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrInvalidCredentials) {
			logger.Info("login rejected by identity service", "client_id", client.ID)
			b.metrics.observeLogin("invalid_credentials")
			return nil, credentialsError()
		}
		logger.Warn("identity service unavailable", "client_id", client.ID, "error", err)
		b.metrics.observeLogin("upstream_unavailable")
		return nil, newError(ErrUpstreamUnavailable, CodeTemporarilyUnavailable, http.StatusBadGateway,
			"the identity service is unavailable, please try again later")
	}
	if upstreamToken == "" {
		b.metrics.observeLogin("upstream_unavailable")
		return nil, newError(ErrUpstreamUnavailable, CodeTemporarilyUnavailable, http.StatusBadGateway,
			"the identity service returned no token")
	}

	redirect, err := url.Parse(cont.RedirectURI)
	if err != nil {
		return nil, invalidRequest("redirect_uri is not a valid URI")
	}

	// A cancelled request must not leave a grant behind.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	code, err := b.storeGrant(ctx, client.ID, cont, upstreamToken)
	if err != nil {
		logger.Error("failed to store authorization grant", "client_id", client.ID, "error", err)
		b.metrics.observeLogin("server_error")
		return nil, serverError()
	}

	q := redirect.Query()
	q.Set("code", code)
	if cont.State != "" {
		q.Set("state", cont.State)
	}
	redirect.RawQuery = q.Encode()

	logger.Info("authorization code issued", "client_id", client.ID, "code", core.Redact(code))
	b.metrics.observeLogin(outcomeSuccess)
	return redirect, nil
}

func (b *Bridge) storeGrant(ctx context.Context, clientID string, cont Continuation, upstreamToken string) (string, error) {
	for range maxCodeAttempts {
		code, err := b.newCode()
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		now := b.now()
		err = b.grants.PutGrant(ctx, &core.AuthorizationGrant{
			Code:          code,
			ClientID:      clientID,
			RedirectURI:   cont.RedirectURI,
			CodeChallenge: cont.CodeChallenge,
			UpstreamToken: upstreamToken,
			IssuedAt:      now,
			ExpiresAt:     now.Add(b.cfg.CodeTTL),
		})
		if errors.Is(err, store.ErrDuplicateCode) {
			continue
		}
		if err != nil {
			return "", err
		}
		return code, nil
	}
	return "", store.ErrDuplicateCode
}

// Token exchanges an authorization code for the upstream token it was issued with.
func (b *Bridge) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	resp, err := b.token(ctx, req)
	b.metrics.observeExchange(err)
	return resp, err
}

func (b *Bridge) token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	logger := core.LoggerFromCtx(ctx)

	if req.GrantType == "" {
		return nil, invalidRequest("grant_type is required")
	}
	if req.GrantType != core.GrantTypeAuthorizationCode {
		return nil, newError(ErrUnsupportedGrantType, CodeUnsupportedGrantType, http.StatusBadRequest,
			"only authorization_code is supported")
	}
	switch {
	case req.Code == "":
		return nil, invalidRequest("code is required")
	case req.ClientID == "":
		return nil, invalidRequest("client_id is required")
	case req.RedirectURI == "":
		return nil, invalidRequest("redirect_uri is required")
	}

	client, err := b.registry.Lookup(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, ErrUnknownClient) {
			return nil, newError(ErrUnknownClient, CodeInvalidClient, http.StatusUnauthorized, "unknown client")
		}
		logger.Error("failed to load client", "client_id", req.ClientID, "error", err)
		return nil, serverError()
	}
	if err := b.registry.AuthenticateSecret(client, req.ClientSecret); err != nil {
		return nil, newError(ErrInvalidClient, CodeInvalidClient, http.StatusUnauthorized, "client authentication failed")
	}

	now := b.now()
	grant, err := b.grants.GetGrant(ctx, req.Code)
	if err != nil {
		if errors.Is(err, store.ErrCodeNotFound) {
			return nil, invalidGrant("authorization code is invalid")
		}
		logger.Error("failed to load authorization grant", "error", err)
		return nil, serverError()
	}
	if grant.Consumed {
		logger.Warn("authorization code replayed", "client_id", req.ClientID, "code", core.Redact(req.Code))
		return nil, invalidGrant("authorization code has already been used")
	}
	if grant.Expired(now) {
		return nil, invalidGrant("authorization code has expired")
	}
	if grant.ClientID != req.ClientID || grant.RedirectURI != req.RedirectURI {
		return nil, invalidGrant("authorization code was not issued to this client or redirect_uri")
	}

	if grant.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return nil, invalidGrant("code_verifier is required")
		}
		if !VerifyS256(req.CodeVerifier, grant.CodeChallenge) {
			return nil, invalidGrant("code_verifier does not match code_challenge")
		}
	} else if req.CodeVerifier != "" {
		return nil, invalidGrant("code_verifier sent but no code_challenge was issued")
	}

	consumed, err := b.grants.ConsumeGrant(ctx, req.Code, req.ClientID, req.RedirectURI, now)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrCodeConsumed):
			logger.Warn("authorization code replayed", "client_id", req.ClientID, "code", core.Redact(req.Code))
			return nil, invalidGrant("authorization code has already been used")
		case errors.Is(err, store.ErrCodeNotFound),
			errors.Is(err, store.ErrCodeExpired),
			errors.Is(err, store.ErrGrantMismatch):
			return nil, invalidGrant("authorization code is invalid")
		default:
			logger.Error("failed to consume authorization grant", "error", err)
			return nil, serverError()
		}
	}

	logger.Info("authorization code exchanged", "client_id", req.ClientID, "code", core.Redact(req.Code))
	return &TokenResponse{
		AccessToken: consumed.UpstreamToken,
		TokenType:   core.TokenTypeBearer,
		ExpiresIn:   int64(b.cfg.TokenTTL / time.Second),
	}, nil
}

// Sweep removes stale grants once.
func (b *Bridge) Sweep(ctx context.Context) (int, error) {
	n, err := b.grants.Sweep(ctx, b.now())
	if err != nil {
		return 0, err
	}
	b.metrics.observeSwept(n)
	return n, nil
}

// RunSweeper sweeps stale grants every interval until ctx is done.
func (b *Bridge) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := b.Sweep(ctx)
			if err != nil {
				slog.Error("grant sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("swept authorization grants", "removed", n)
			}
		}
	}
}

func (b *Bridge) validateClientRedirect(ctx context.Context, clientID, redirectURI string) (*core.Client, error) {
	if clientID == "" {
		return nil, invalidRequest("client_id is required")
	}
	client, err := b.registry.Lookup(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrUnknownClient) {
			return nil, newError(ErrUnknownClient, CodeInvalidClient, http.StatusBadRequest, "unknown client")
		}
		core.LoggerFromCtx(ctx).Error("failed to load client", "client_id", clientID, "error", err)
		return nil, serverError()
	}
	if redirectURI == "" {
		return nil, newError(ErrInvalidRedirectURI, CodeInvalidRequest, http.StatusBadRequest, "redirect_uri is required")
	}
	if !client.HasRedirectURI(redirectURI) {
		return nil, newError(ErrInvalidRedirectURI, CodeInvalidRequest, http.StatusBadRequest,
			"redirect_uri is not registered for this client")
	}
	return client, nil
}

func credentialsError() *Error {
	return newError(ErrInvalidCredentials, CodeAccessDenied, http.StatusUnauthorized, "invalid username or password")
}

func displayName(c *core.Client) string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// generateCode returns 256 bits of randomness, base64url encoded.
func generateCode() (string, error) {
	b := make([]byte, codeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
