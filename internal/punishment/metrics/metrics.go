package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the punishment engine's Prometheus collectors.
type Metrics struct {
	CacheLookups     *prometheus.CounterVec
	CacheLoads       prometheus.Counter
	CacheLoadErrors  prometheus.Counter
	CacheStaleServed prometheus.Counter
	CacheEvictions   *prometheus.CounterVec
	CacheEntries     prometheus.Gauge
	CacheLoadSeconds prometheus.Histogram

	EnforcementDecisions *prometheus.CounterVec
	EnforcementDegraded  *prometheus.CounterVec
	EnforcementSeconds   *prometheus.HistogramVec

	PunishmentsIssued *prometheus.CounterVec
	PunishmentsLifted *prometheus.CounterVec
	StoreRetries      prometheus.Counter

	SharedLookups *prometheus.CounterVec

	EventsPublished *prometheus.CounterVec
	EventsDropped   prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg yields
// unregistered collectors, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ban_cache_lookups_total",
			Help: "Active punishment cache lookups by result (hit, miss, stale)",
		}, []string{"result"}),
		CacheLoads: f.NewCounter(prometheus.CounterOpts{
			Name: "ban_cache_loads_total",
			Help: "Store loads performed by the active punishment cache",
		}),
		CacheLoadErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "ban_cache_load_errors_total",
			Help: "Store loads that failed and were not cached",
		}),
		CacheStaleServed: f.NewCounter(prometheus.CounterOpts{
			Name: "ban_cache_stale_served_total",
			Help: "Lookups answered from a stale entry",
		}),
		CacheEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ban_cache_evictions_total",
			Help: "Cache entries removed by reason (capacity, idle)",
		}, []string{"reason"}),
		CacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "ban_cache_entries",
			Help: "Current number of cached keys",
		}),
		CacheLoadSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ban_cache_load_duration_seconds",
			Help:    "Latency of store loads issued by the cache",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		EnforcementDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ban_enforcement_decisions_total",
			Help: "Enforcement decisions by check (ban, mute) and outcome (allowed, denied)",
		}, []string{"check", "outcome"}),
		EnforcementDegraded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ban_enforcement_degraded_total",
			Help: "Decisions made without a complete lookup, by check and reason",
		}, []string{"check", "reason"}),
		EnforcementSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ban_enforcement_duration_seconds",
			Help:    "Latency of enforcement checks",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}, []string{"check"}),
		PunishmentsIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ban_punishments_issued_total",
			Help: "Punishments persisted by type",
		}, []string{"type"}),
		PunishmentsLifted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ban_punishments_lifted_total",
			Help: "Punishments lifted by type",
		}, []string{"type"}),
		StoreRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "ban_store_retries_total",
			Help: "Store writes retried after the store was unavailable",
		}),
		SharedLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ban_shared_cache_lookups_total",
			Help: "Redis candidate list lookups by result (hit, miss, error, bypass, superseded)",
		}, []string{"result"}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ban_events_published_total",
			Help: "Punishment events handed to sinks by outcome (ok, error)",
		}, []string{"outcome"}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "ban_events_dropped_total",
			Help: "Punishment events dropped because the buffer was full or closed",
		}),
	}
}

func (m *Metrics) ObserveLookup(result string) {
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveEviction(reason string) {
	m.CacheEvictions.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveDecision(check string, allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.EnforcementDecisions.WithLabelValues(check, outcome).Inc()
}

func (m *Metrics) ObserveDegraded(check, reason string) {
	m.EnforcementDegraded.WithLabelValues(check, reason).Inc()
}

func (m *Metrics) ObserveEnforcementDuration(check string, seconds float64) {
	m.EnforcementSeconds.WithLabelValues(check).Observe(seconds)
}

func (m *Metrics) IncrementIssued(typ string) {
	m.PunishmentsIssued.WithLabelValues(typ).Inc()
}

func (m *Metrics) IncrementLifted(typ string) {
	m.PunishmentsLifted.WithLabelValues(typ).Inc()
}

func (m *Metrics) ObserveSharedLookup(result string) {
	m.SharedLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObservePublish(ok bool) {
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	m.EventsPublished.WithLabelValues(outcome).Inc()
}
