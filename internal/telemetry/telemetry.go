// Package telemetry wires the narrow set of alert-worthy conditions this
// server distinguishes from routine client-input failures — upstream 5xx,
// upstream parse failure, fatal invariant violation — to Prometheus
// counters. It deliberately does not attempt request-level instrumentation
// (server/server.go's requestCounter / durationHist / sizeHist trio): only
// conditions an operator should be paged on get a counter here, not a
// general metrics framework.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters this server emits.
type Metrics struct {
	UpstreamServerErrors  prometheus.Counter
	UpstreamParseFailures prometheus.Counter
	InvariantViolations   prometheus.Counter
}

// New constructs Metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UpstreamServerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oauth_broker_upstream_server_errors_total",
			Help: "Count of upstream 5xx responses classified as operator-facing.",
		}),
		UpstreamParseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oauth_broker_upstream_parse_failures_total",
			Help: "Count of upstream responses that did not match the expected token schema.",
		}),
		InvariantViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oauth_broker_invariant_violations_total",
			Help: "Count of fatal internal invariant violations (e.g. a missing wrapped key for an unconsumed authorization code).",
		}),
	}
	reg.MustRegister(m.UpstreamServerErrors, m.UpstreamParseFailures, m.InvariantViolations)
	return m
}
