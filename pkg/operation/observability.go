package operation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-training/workspace-mcp/pkg/core"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Metrics counts tool calls. A nil *Metrics records nothing.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the tool call collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workspace_mcp",
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Tool calls by tool and status.",
		}, []string{"tool", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workspace_mcp",
			Subsystem: "tools",
			Name:      "call_duration_seconds",
			Help:      "Tool call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
	}
	if reg != nil {
		reg.MustRegister(m.calls, m.duration)
	}
	return m
}

func (m *Metrics) observe(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(tool, status).Inc()
	m.duration.WithLabelValues(tool).Observe(d.Seconds())
}

/*
AddRequestAttributes sets attributes on the current trace span. Without a
recording span the attributes are logged instead, together with the trace
and span ids when present.
*/
func AddRequestAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
		return
	}

	logAttrs := make([]slog.Attr, 0, len(attrs)+3)
	for _, attr := range attrs {
		logAttrs = append(logAttrs, slog.Any(string(attr.Key), attr.Value.AsInterface()))
	}
	logAttrs = append(logAttrs, slog.Bool("observability.fallback", true))
	sc := span.SpanContext()
	if sc.HasTraceID() {
		logAttrs = append(logAttrs, slog.String("trace_id", sc.TraceID().String()))
	}
	if sc.HasSpanID() {
		logAttrs = append(logAttrs, slog.String("span_id", sc.SpanID().String()))
	}
	core.LoggerFromCtx(ctx).LogAttrs(ctx, slog.LevelDebug, "tool call", logAttrs...)
}

// ToolHandlerMiddleware records the tool name, arguments, status and
// duration of every call. The token argument is redacted.
func ToolHandlerMiddleware(m *Metrics) server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			start := time.Now()
			AddRequestAttributes(ctx,
				attribute.String("mcp.tool", req.Params.Name),
				attribute.String("mcp.params", fmt.Sprintf("%v", redactArguments(req.GetArguments()))),
			)

			res, err := next(ctx, req)
			elapsed := time.Since(start)

			status := "ok"
			var errMsg string
			switch {
			case err != nil:
				status = "error"
				errMsg = err.Error()
			case res != nil && res.IsError:
				status = "error"
				errMsg = resultText(res)
			}

			attrs := []attribute.KeyValue{
				attribute.String("mcp.status", status),
				attribute.Float64("mcp.duration_ms", float64(elapsed.Microseconds())/1000.0),
			}
			if errMsg != "" {
				attrs = append(attrs, attribute.String("mcp.error", errMsg))
			}
			AddRequestAttributes(ctx, attrs...)
			m.observe(req.Params.Name, status, elapsed)

			return res, err
		}
	}
}

func redactArguments(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok && k == "token" {
			v = core.Redact(s)
		}
		out[k] = v
	}
	return out
}

func resultText(res *mcp.CallToolResult) string {
	if len(res.Content) == 0 {
		return "unknown error with no content"
	}
	if txt, ok := res.Content[0].(mcp.TextContent); ok {
		return txt.Text
	}
	return fmt.Sprintf("unknown error with content type %T", res.Content[0])
}
