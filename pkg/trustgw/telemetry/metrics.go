// Package telemetry exports the engine's operational metrics through a
// dedicated Prometheus registry. Labels carry low-cardinality values
// only (outcomes, tiers, kinds), never organization identifiers.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/intelmesh/trustgw/pkg/trustgw/trust"
)

// Metrics holds the Prometheus collectors for the trust and
// anonymization engines. It implements trust.DecisionEmitter and the
// sharing service's metrics interface.
type Metrics struct {
	registry *prometheus.Registry

	resolutions      *prometheus.CounterVec
	stateTransitions *prometheus.CounterVec
	fieldsAnonymized *prometheus.CounterVec
	fieldsRedacted   prometheus.Counter
	shares           *prometheus.CounterVec
	auditDropped     prometheus.Counter
}

// NewMetrics creates the collectors on a fresh registry, including the
// standard Go runtime and process collectors.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "trustgw"
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trust_resolutions_total",
			Help:      "Trust resolutions by outcome and effective anonymization tier",
		}, []string{"outcome", "tier"}),
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relationship_transitions_total",
			Help:      "Relationship state transitions by from and to status",
		}, []string{"from", "to"}),
		fieldsAnonymized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fields_anonymized_total",
			Help:      "Anonymized fields by strategy kind and tier",
		}, []string{"kind", "tier"}),
		fieldsRedacted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fields_redacted_total",
			Help:      "Fields redacted because a strategy failed or the declared type did not match",
		}),
		shares: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "share_requests_total",
			Help:      "Share requests by request shape (record or bulk)",
		}, []string{"shape"}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_entries_dropped_total",
			Help:      "Audit entries dropped because the buffer was full",
		}),
	}

	registry.MustRegister(
		m.resolutions,
		m.stateTransitions,
		m.fieldsAnonymized,
		m.fieldsRedacted,
		m.shares,
		m.auditDropped,
	)
	return m
}

// EmitResolution implements trust.DecisionEmitter. Organization names
// are dropped here on purpose; they would explode label cardinality.
func (m *Metrics) EmitResolution(sourceOrg, targetOrg, outcome string, tier trust.AnonymizationTier) {
	m.resolutions.WithLabelValues(outcome, string(tier)).Inc()
}

// EmitStateTransition implements trust.DecisionEmitter.
func (m *Metrics) EmitStateTransition(relationshipID string, from, to trust.RelationshipStatus) {
	m.stateTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// ObserveField counts one anonymized field.
func (m *Metrics) ObserveField(kind string, tier trust.AnonymizationTier) {
	m.fieldsAnonymized.WithLabelValues(kind, string(tier)).Inc()
}

// ObserveRedaction counts one redacted field.
func (m *Metrics) ObserveRedaction() {
	m.fieldsRedacted.Inc()
}

// ObserveShare counts one share request by shape ("record" or "bulk").
func (m *Metrics) ObserveShare(shape string) {
	m.shares.WithLabelValues(shape).Inc()
}

// ObserveAuditDrop counts one dropped audit entry. Wired as the audit
// service's drop handler.
func (m *Metrics) ObserveAuditDrop() {
	m.auditDropped.Inc()
}

// Handler returns the scrape handler, rate limited so a misbehaving
// scraper cannot starve the service.
func (m *Metrics) Handler(requestsPerSecond float64, burst int) http.Handler {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	if burst <= 0 {
		burst = 10
	}
	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			log.Warn().
				Str("remote_addr", r.RemoteAddr).
				Msg("Metrics scrape rate limited")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		inner.ServeHTTP(w, r)
	})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
