package oauth

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth 2.0 error codes (RFC 6749 §5.2, RFC 7591 §3.2.2).
const (
	CodeInvalidRequest          = "invalid_request"
	CodeInvalidClient           = "invalid_client"
	CodeInvalidGrant            = "invalid_grant"
	CodeUnauthorizedClient      = "unauthorized_client"
	CodeUnsupportedGrantType    = "unsupported_grant_type"
	CodeUnsupportedResponseType = "unsupported_response_type"
	CodeAccessDenied            = "access_denied"
	CodeInvalidClientMetadata   = "invalid_client_metadata"
	CodeInvalidRedirectURI      = "invalid_redirect_uri"
	CodeTemporarilyUnavailable  = "temporarily_unavailable"
	CodeServerError             = "server_error"
)

var (
	// ErrUnknownClient is returned when a client_id is not registered.
	ErrUnknownClient = errors.New("unknown client")
	// ErrInvalidClient is returned when client authentication fails.
	ErrInvalidClient = errors.New("invalid client")
	// ErrInvalidRedirectURI is returned for a malformed or unregistered redirect URI.
	ErrInvalidRedirectURI = errors.New("invalid redirect_uri")
	// ErrInvalidClientMetadata is returned for a registration request with unsupported metadata.
	ErrInvalidClientMetadata = errors.New("invalid client metadata")
	// ErrUnsupportedPKCEMethod is returned for any code_challenge_method other than S256.
	ErrUnsupportedPKCEMethod = errors.New("unsupported code_challenge_method")
	// ErrUnsupportedResponseType is returned for any response_type other than code.
	ErrUnsupportedResponseType = errors.New("unsupported response_type")
	// ErrUnsupportedGrantType is returned for any grant_type other than authorization_code.
	ErrUnsupportedGrantType = errors.New("unsupported grant_type")
	// ErrInvalidRequest is returned for missing or malformed parameters.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidGrant is returned for an absent, consumed, expired or mismatched code.
	ErrInvalidGrant = errors.New("invalid grant")
	// ErrInvalidContinuation is returned when a login form continuation fails verification.
	ErrInvalidContinuation = errors.New("invalid login continuation")
	// ErrInvalidCredentials is returned by an Authenticator for a bad username or password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUpstreamUnavailable is returned when the identity service times out or fails.
	ErrUpstreamUnavailable = errors.New("access denied: identity service unavailable")
	// ErrServer is returned for internal failures that must not leak details.
	ErrServer = errors.New("internal server error")
)

// Error is an OAuth 2.0 error response. It wraps one of the package sentinel
// errors so callers can match with errors.Is.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`

	kind error
}

func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return e.Code
}

// Unwrap returns the sentinel error describing the failure class.
func (e *Error) Unwrap() error {
	return e.kind
}

func newError(kind error, code string, status int, description string) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
		kind:        kind,
	}
}

func invalidRequest(description string) *Error {
	return newError(ErrInvalidRequest, CodeInvalidRequest, http.StatusBadRequest, description)
}

func invalidGrant(description string) *Error {
	return newError(ErrInvalidGrant, CodeInvalidGrant, http.StatusBadRequest, description)
}

func serverError() *Error {
	return newError(ErrServer, CodeServerError, http.StatusInternalServerError, "")
}

// AsError converts any error into an *Error suitable for a response body.
// Unrecognized errors become a generic server_error.
func AsError(err error) *Error {
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	return serverError()
}
