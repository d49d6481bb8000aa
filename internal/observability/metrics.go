package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sentinel"

// Metrics holds the Prometheus counters, histograms, and gauges for the sentinel.
type Metrics struct {
	PipelineRunning prometheus.Gauge
	CyclesTotal     *prometheus.CounterVec // labels: outcome={completed,skipped,failed}
	CycleDuration   prometheus.Histogram
	LeaseContention prometheus.Counter

	// Adapter and source health metrics.
	AdapterPolls *prometheus.CounterVec // labels: source, outcome={success,error}
	SourceHealth *prometheus.GaugeVec   // labels: source; 0 healthy, 1 degraded, 2 offline

	// Queue metrics.
	EventsAdmitted   *prometheus.CounterVec // labels: source
	EventsSuppressed *prometheus.CounterVec // labels: source, rule
	MalformedEvents  prometheus.Counter
	QueueEvents      prometheus.Gauge

	// Scoring metrics.
	ScoredUnits     *prometheus.GaugeVec   // labels: level
	ResolvedUnits   prometheus.Counter
	AlertsPublished *prometheus.CounterVec // labels: kind={escalated,resolved}

	// Persistence metrics.
	PersistErrors *prometheus.CounterVec // labels: tier={local,remote}, op={load,save}

	// Reverse geocoding metrics.
	GeocodeEnabled     prometheus.Gauge
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,empty,error}
	GeocodeCache       *prometheus.CounterVec // labels: result={hit,miss}
	GeocodeAPIDuration prometheus.Histogram
	GeocodedEvents     prometheus.Counter
}

// NewMetrics creates and registers all sentinel metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PipelineRunning,
		m.CyclesTotal,
		m.CycleDuration,
		m.LeaseContention,
		m.AdapterPolls,
		m.SourceHealth,
		m.EventsAdmitted,
		m.EventsSuppressed,
		m.MalformedEvents,
		m.QueueEvents,
		m.ScoredUnits,
		m.ResolvedUnits,
		m.AlertsPublished,
		m.PersistErrors,
		m.GeocodeEnabled,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodedEvents,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the cycle scheduler is active, 0 when shut down.",
		}),
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Poll-and-score cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete poll, enqueue, and score cycle.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		LeaseContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_contention_total",
			Help:      "Cycles skipped because another holder owned the build lease.",
		}),
		AdapterPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_polls_total",
			Help:      "Adapter invocations by source and outcome.",
		}, []string{"source", "outcome"}),
		SourceHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_health",
			Help:      "Derived source health: 0 healthy, 1 degraded, 2 offline.",
		}, []string{"source"}),
		EventsAdmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_admitted_total",
			Help:      "Change events admitted into the rolling queue.",
		}, []string{"source"}),
		EventsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_suppressed_total",
			Help:      "Change events suppressed by dedup, by source and rule.",
		}, []string{"source", "rule"}),
		MalformedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_events_total",
			Help:      "Events dropped during normalization or admitted without usable geography.",
		}),
		QueueEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_events",
			Help:      "Events currently held in the rolling queue.",
		}),
		ScoredUnits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scored_units",
			Help:      "Watershed units in the latest scoring output by level.",
		}, []string{"level"}),
		ResolvedUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolved_units_total",
			Help:      "Units that dropped out of WATCH or CRITICAL.",
		}),
		AlertsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_published_total",
			Help:      "Alerts published downstream by kind.",
		}, []string{"kind"}),
		PersistErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Persistence failures by tier and operation.",
		}, []string{"tier", "op"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when reverse geocoding of located events is enabled.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Reverse geocoding API calls by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Reverse geocoding cache lookups by result.",
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Latency of reverse geocoding API calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		GeocodedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocoded_events_total",
			Help:      "Events whose state was resolved from coordinates.",
		}),
	}
}
