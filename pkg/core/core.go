package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
)

// AuthKey is a custom context key type for storing the workspace token in context.
type AuthKey struct{}

// RequestIDKey is a custom context key type for storing the request ID in context.
type RequestIDKey struct{}

// tokenEnvVars are checked in order when running over stdio.
var tokenEnvVars = []string{"WORKSPACE_TOKEN", "KB_AUTH_TOKEN"}

// WithRequestID returns a new context with a generated request ID set.
func WithRequestID(ctx context.Context) context.Context {
	reqID := uuid.New().String()
	return context.WithValue(ctx, RequestIDKey{}, reqID)
}

// RequestIDFromCtx returns the request ID stored in ctx, or an empty string.
func RequestIDFromCtx(ctx context.Context) string {
	reqID, _ := ctx.Value(RequestIDKey{}).(string)
	return reqID
}

// WithToken returns a new context with the provided workspace token set.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, AuthKey{}, token)
}

// AuthFromRequest extracts the bearer credential from the Authorization header
// and stores it in the context. Used for HTTP transport.
func AuthFromRequest(ctx context.Context, r *http.Request) context.Context {
	return WithToken(ctx, BearerToken(r.Header.Get("Authorization")))
}

// AuthFromEnv reads the workspace token from the environment and stores it in
// the context. Used for stdio transport.
func AuthFromEnv(ctx context.Context) context.Context {
	for _, name := range tokenEnvVars {
		if v := os.Getenv(name); v != "" {
			return WithToken(ctx, v)
		}
	}
	return WithToken(ctx, "")
}

// BearerToken strips an optional "Bearer " scheme from an Authorization header value.
// Workspace tokens are sent raw by some clients, so a value without a scheme
// is returned unchanged.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

// TokenFromContext retrieves the workspace token from the context.
// Returns the token string if present, or an error if missing.
func TokenFromContext(ctx context.Context) (string, error) {
	auth, ok := ctx.Value(AuthKey{}).(string)
	if !ok {
		return "", fmt.Errorf("missing auth")
	}
	return auth, nil
}

// LoggerFromCtx returns a slog.Logger with request_id field if present in context.
// If no request ID is found, it returns the default logger.
func LoggerFromCtx(ctx context.Context) *slog.Logger {
	if reqID := RequestIDFromCtx(ctx); reqID != "" {
		return slog.Default().With("request_id", reqID)
	}
	return slog.Default()
}

// Redact keeps a short prefix of a secret value for log correlation.
func Redact(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:6] + "****"
}
