package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultUpstreamTimeout bounds a single call to the identity service.
	DefaultUpstreamTimeout = 10 * time.Second
	maxUpstreamTokenBytes  = 64 << 10
)

// Authenticator exchanges user credentials for an upstream workspace token.
// Implementations return ErrInvalidCredentials when the identity service
// rejects the credentials and ErrUpstreamUnavailable for any other failure.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, username, password string) (string, error)

// Authenticate calls f.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, username, password string) (string, error) {
	return f(ctx, username, password)
}

// HTTPAuthenticator posts a username/password form to the identity service
// and reads the upstream token from the response body.
type HTTPAuthenticator struct {
	url        string
	httpClient *http.Client
}

// NewHTTPAuthenticator creates an authenticator for authenticationURL.
func NewHTTPAuthenticator(authenticationURL string, timeout time.Duration) *HTTPAuthenticator {
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}
	return &HTTPAuthenticator{
		url: authenticationURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Authenticate implements Authenticator.
func (a *HTTPAuthenticator) Authenticate(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/plain, application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamTokenBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUpstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusBadRequest:
		return "", ErrInvalidCredentials
	default:
		return "", fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrUpstreamUnavailable)
	}
	return token, nil
}
