package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// ContentType is the media type the workspace service expects.
	ContentType = "application/jsonrpc+json"
	// DefaultTimeout bounds a single HTTP round trip.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxTries includes the initial attempt.
	DefaultMaxTries = 3

	maxResponseBytes = 32 << 20
)

var (
	// ErrEmptyResult is returned when a response carries neither a result nor an error.
	ErrEmptyResult = errors.New("jsonrpc: response has no result")
	// ErrInvalidResponse is returned when a successful response is not valid JSON-RPC.
	ErrInvalidResponse = errors.New("jsonrpc: invalid response")
)

// Error is a JSON-RPC error object returned by the remote service.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`

	Method string `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc: %s failed: %s (code %d)", e.Method, e.Message, e.Code)
}

// HTTPError is returned for a non-2xx response that is not a JSON-RPC error.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("jsonrpc: unexpected HTTP status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying the request may succeed.
func (e *HTTPError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

type request struct {
	Version string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      int64  `json:"id"`
	Params  any    `json:"params"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// Caller posts JSON-RPC 2.0 requests to a single endpoint.
type Caller struct {
	url        string
	httpClient *http.Client
	maxTries   uint
	initial    time.Duration
	nextID     atomic.Int64
}

// Option configures a Caller.
type Option func(*Caller)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(caller *Caller) {
		caller.httpClient = c
	}
}

// WithMaxTries sets how many attempts a call makes on transient failures.
func WithMaxTries(n uint) Option {
	return func(caller *Caller) {
		if n > 0 {
			caller.maxTries = n
		}
	}
}

// WithInitialInterval sets the first retry delay.
func WithInitialInterval(d time.Duration) Option {
	return func(caller *Caller) {
		caller.initial = d
	}
}

// NewCaller creates a caller for url.
func NewCaller(url string, opts ...Option) *Caller {
	c := &Caller{
		url:        strings.TrimRight(url, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		maxTries:   DefaultMaxTries,
		initial:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CallOptions tune a single call.
type CallOptions struct {
	// NoRetry makes one attempt only. Use it for methods that are not
	// idempotent, where a lost response must not trigger a second request.
	NoRetry bool
}

// CallOption configures a single call.
type CallOption func(*CallOptions)

// NoRetry disables retries for the call.
func NoRetry() CallOption {
	return func(o *CallOptions) {
		o.NoRetry = true
	}
}

// URL returns the endpoint the caller posts to.
func (c *Caller) URL() string {
	return c.url
}

// Call invokes method with params and returns the raw result. The token is
// sent verbatim in the Authorization header. Transport failures and
// temporary HTTP statuses are retried unless NoRetry is given; remote errors
// are returned as *Error.
func (c *Caller) Call(ctx context.Context, method string, params any, token string, opts ...CallOption) (json.RawMessage, error) {
	var callOpts CallOptions
	for _, opt := range opts {
		opt(&callOpts)
	}
	maxTries := c.maxTries
	if callOpts.NoRetry {
		maxTries = 1
	}

	body, err := json.Marshal(request{
		Version: "2.0",
		Method:  method,
		ID:      c.nextID.Add(1),
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: marshal %s: %w", method, err)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.initial
	expBackoff.Reset()

	attempt := 0
	operation := func() (json.RawMessage, error) {
		attempt++
		result, err := c.do(ctx, method, body, token)
		if err == nil {
			return result, nil
		}
		var rpcErr *Error
		var httpErr *HTTPError
		switch {
		case errors.As(err, &rpcErr):
			return nil, backoff.Permanent(err)
		case errors.As(err, &httpErr) && !httpErr.Temporary():
			return nil, backoff.Permanent(err)
		case errors.Is(err, ErrEmptyResult), errors.Is(err, ErrInvalidResponse), ctx.Err() != nil:
			return nil, backoff.Permanent(err)
		}
		slog.Warn("jsonrpc call failed", "method", method, "attempt", attempt, "error", err)
		return nil, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(maxTries),
	)
}

func (c *Caller) do(ctx context.Context, method string, body []byte, token string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: build request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: read %s response: %w", method, err)
	}

	// The workspace service reports remote failures as a JSON-RPC error
	// object inside an HTTP 500, so decode before looking at the status.
	var decoded response
	decodeErr := json.Unmarshal(raw, &decoded)
	if decodeErr == nil && decoded.Error != nil {
		decoded.Error.Method = method
		return nil, decoded.Error
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 512)}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: decode %s response: %v", ErrInvalidResponse, method, decodeErr)
	}
	if len(decoded.Result) == 0 || string(decoded.Result) == "null" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyResult, method)
	}
	return decoded.Result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
