// Package operation maps MCP tool names to typed handlers and adapts them to
// the mcp-go server.
package operation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-training/workspace-mcp/pkg/core"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

var (
	// ErrUnknownTool is returned when dispatching a name nothing registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrMissingArgument is returned when a required argument is absent or empty.
	ErrMissingArgument = errors.New("missing argument")
	// ErrInvalidArgument is returned when an argument has the wrong type.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Request is a decoded tool invocation.
type Request struct {
	Tool      string
	Arguments map[string]any
}

// String returns the trimmed string argument key, or "" when absent.
func (r Request) String(key string) string {
	s, _ := r.Arguments[key].(string)
	return strings.TrimSpace(s)
}

// RequireString returns the string argument key or ErrMissingArgument.
func (r Request) RequireString(key string) (string, error) {
	v, ok := r.Arguments[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %s", ErrMissingArgument, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidArgument, key)
	}
	if s = strings.TrimSpace(s); s == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingArgument, key)
	}
	return s, nil
}

// Strings returns a string list argument. A single string is accepted as a
// one-element list.
func (r Request) Strings(key string) ([]string, error) {
	switch v := r.Arguments[key].(type) {
	case nil:
		return nil, nil
	case string:
		if v = strings.TrimSpace(v); v == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must contain strings", ErrInvalidArgument, key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a list of strings", ErrInvalidArgument, key)
	}
}

// Result is a tool's output. Data, when set, is rendered as indented JSON;
// otherwise Text is returned as is.
type Result struct {
	Text string
	Data any
}

// Text returns a plain text result.
func Text(s string) Result {
	return Result{Text: s}
}

// JSON returns a result rendered from v.
func JSON(v any) Result {
	return Result{Data: v}
}

// Render returns the text sent back to the client.
func (r Result) Render() (string, error) {
	if r.Data == nil {
		return r.Text, nil
	}
	b, err := json.MarshalIndent(r.Data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render result: %w", err)
	}
	return string(b), nil
}

// Handler executes one tool.
type Handler interface {
	Handle(ctx context.Context, req Request) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (Result, error)

// Handle calls f(ctx, req).
func (f HandlerFunc) Handle(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

type entry struct {
	tool    mcp.Tool
	handler Handler
}

/*
Registry holds the tools exposed by the server, keyed by name.

Fields:
  - handlers: every registered tool by name.
  - write: names registered as write operations, in registration order.
  - read: names registered as read operations, in registration order.
*/
type Registry struct {
	handlers map[string]entry
	write    []string
	read     []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]entry)}
}

// RegisterWrite registers a tool that changes workspace state.
// It panics if the name is already taken.
func (r *Registry) RegisterWrite(tool mcp.Tool, h Handler) {
	r.add(tool, h)
	r.write = append(r.write, tool.Name)
}

// RegisterRead registers a tool that only reads state.
// It panics if the name is already taken.
func (r *Registry) RegisterRead(tool mcp.Tool, h Handler) {
	r.add(tool, h)
	r.read = append(r.read, tool.Name)
}

func (r *Registry) add(tool mcp.Tool, h Handler) {
	if tool.Name == "" {
		panic("operation: tool without a name")
	}
	if h == nil {
		panic("operation: nil handler for " + tool.Name)
	}
	if _, dup := r.handlers[tool.Name]; dup {
		panic("operation: duplicate tool " + tool.Name)
	}
	r.handlers[tool.Name] = entry{tool: tool, handler: h}
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle dispatches req to the tool it names.
func (r *Registry) Handle(ctx context.Context, req Request) (Result, error) {
	e, ok := r.handlers[req.Tool]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, req.Tool)
	}
	return e.handler.Handle(ctx, req)
}

/*
Tools returns every registered tool adapted to mcp-go.

Returns:
  - []server.ServerTool: write tools first, then read tools, each in registration order.

Handler errors become tool error results so the client sees the message
instead of a protocol failure.
*/
func (r *Registry) Tools() []server.ServerTool {
	tools := make([]server.ServerTool, 0, len(r.handlers))
	for _, name := range r.write {
		tools = append(tools, r.serverTool(name))
	}
	for _, name := range r.read {
		tools = append(tools, r.serverTool(name))
	}
	return tools
}

// Register adds every tool to s.
func (r *Registry) Register(s *server.MCPServer) {
	s.AddTools(r.Tools()...)
}

func (r *Registry) serverTool(name string) server.ServerTool {
	e := r.handlers[name]
	return server.ServerTool{
		Tool: e.tool,
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			res, err := e.handler.Handle(ctx, Request{Tool: name, Arguments: req.GetArguments()})
			if err != nil {
				core.LoggerFromCtx(ctx).Warn("tool call failed", "tool", name, "error", err)
				return mcp.NewToolResultError(err.Error()), nil
			}
			text, err := res.Render()
			if err != nil {
				return nil, err
			}
			return mcp.NewToolResultText(text), nil
		},
	}
}
