// Package metrics holds the Prometheus collectors of the auth broker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

const namespace = "pephub_auth"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	logins         *prometheus.CounterVec
	exchangeCodes  *prometheus.CounterVec
	developerKeys  *prometheus.CounterVec
	decodeFailures *prometheus.CounterVec
	policyDenials  *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, along with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by flow and result.",
		}, []string{"flow", "result"}),
		exchangeCodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchange_codes_total",
			Help:      "Exchange code events: issued, redeemed, invalid, redirect_mismatch.",
		}, []string{"outcome"}),
		developerKeys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "developer_keys_total",
			Help:      "Developer key operations by result.",
		}, []string{"operation", "result"}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_decode_failures_total",
			Help:      "Rejected bearer tokens by reason.",
		}, []string{"reason"}),
		policyDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_denials_total",
			Help:      "Authorization denials by rule and error code.",
		}, []string{"rule", "code"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.logins,
		m.exchangeCodes,
		m.developerKeys,
		m.decodeFailures,
		m.policyDenials,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry, for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) Login(flow string, err error) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(flow, result(err)).Inc()
}

func (m *Metrics) ExchangeCode(outcome string) {
	if m == nil {
		return
	}
	m.exchangeCodes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DeveloperKey(operation string, err error) {
	if m == nil {
		return
	}
	m.developerKeys.WithLabelValues(operation, result(err)).Inc()
}

func (m *Metrics) DecodeFailure(reason string) {
	if m == nil {
		return
	}
	m.decodeFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) PolicyDenial(rule, code string) {
	if m == nil {
		return
	}
	m.policyDenials.WithLabelValues(rule, code).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Module provides *Metrics.
var Module = fx.Module("metrics", fx.Provide(New))
