// Package metrics exposes engine counters through Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is a
// valid no-op receiver so metrics stay optional.
type Metrics struct {
	logins        *prometheus.CounterVec
	mfaOutcomes   *prometheus.CounterVec
	bioOutcomes   *prometheus.CounterVec
	auditEvents   *prometheus.CounterVec
	riskScores    prometheus.Histogram
	sessionsOpen  prometheus.Gauge
	registry      *prometheus.Registry
}

// New builds and registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "castellan_logins_total",
			Help: "OAuth login attempts by outcome.",
		}, []string{"outcome"}),
		mfaOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "castellan_mfa_verifications_total",
			Help: "MFA challenge verifications by result.",
		}, []string{"result"}),
		bioOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "castellan_biometric_verifications_total",
			Help: "Biometric verifications by result.",
		}, []string{"result"}),
		auditEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "castellan_audit_events_total",
			Help: "Audit entries recorded, by action.",
		}, []string{"action"}),
		riskScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "castellan_audit_risk_score",
			Help:    "Distribution of audit entry risk scores.",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		}),
		sessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "castellan_active_sessions",
			Help: "Sessions created minus sessions invalidated or expired.",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(m.logins, m.mfaOutcomes, m.bioOutcomes, m.auditEvents, m.riskScores, m.sessionsOpen)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveMFA(result string) {
	if m == nil {
		return
	}
	m.mfaOutcomes.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveBiometric(result string) {
	if m == nil {
		return
	}
	m.bioOutcomes.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveAudit(action string, riskScore int) {
	if m == nil {
		return
	}
	m.auditEvents.WithLabelValues(action).Inc()
	m.riskScores.Observe(float64(riskScore))
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpen.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsOpen.Dec()
}
