package oauth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Metrics counts bridge activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registrations *prometheus.CounterVec
	authorizes    *prometheus.CounterVec
	logins        *prometheus.CounterVec
	exchanges     *prometheus.CounterVec
	swept         prometheus.Counter
}

// NewMetrics creates the bridge collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workspace_mcp",
			Subsystem: "oauth",
			Name:      "registrations_total",
			Help:      "Dynamic client registrations by outcome.",
		}, []string{"outcome"}),
		authorizes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workspace_mcp",
			Subsystem: "oauth",
			Name:      "authorize_requests_total",
			Help:      "Authorization requests by outcome.",
		}, []string{"outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workspace_mcp",
			Subsystem: "oauth",
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workspace_mcp",
			Subsystem: "oauth",
			Name:      "token_exchanges_total",
			Help:      "Token endpoint requests by OAuth result code.",
		}, []string{"result"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "workspace_mcp",
			Subsystem: "oauth",
			Name:      "grants_swept_total",
			Help:      "Authorization grants removed by the sweeper.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.registrations, m.authorizes, m.logins, m.exchanges, m.swept)
	}
	return m
}

// ObserveRegistration records a registration outcome.
func (m *Metrics) ObserveRegistration(err error) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(outcomeLabel(err)).Inc()
}

func (m *Metrics) observeAuthorize(err error) {
	if m == nil {
		return
	}
	m.authorizes.WithLabelValues(outcomeLabel(err)).Inc()
}

func (m *Metrics) observeLogin(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) observeExchange(err error) {
	if m == nil {
		return
	}
	result := outcomeSuccess
	if err != nil {
		result = AsError(err).Code
	}
	m.exchanges.WithLabelValues(result).Inc()
}

func (m *Metrics) observeSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(float64(n))
}

func outcomeLabel(err error) string {
	if err != nil {
		return outcomeFailure
	}
	return outcomeSuccess
}
