package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the poller.
type Metrics struct {
	FetchRequests *prometheus.CounterVec // labels: outcome={success,error,aborted}
	FetchDuration prometheus.Histogram
	EventsFetched prometheus.Gauge
	PollerEnabled prometheus.Gauge
	Stale         prometheus.Gauge

	// Render metrics.
	EventsRendered    prometheus.Gauge
	ThinDropped       prometheus.Counter
	ThinDuration      prometheus.Histogram
	ThinWarnExceeded  prometheus.Counter
	SnapshotPublishes *prometheus.CounterVec // labels: outcome={success,error,dropped}

	// Backoff metrics.
	BackoffAttempt   prometheus.Gauge
	BackoffExhausted prometheus.Counter
}

// NewMetrics creates and registers all poller metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.FetchRequests,
		m.FetchDuration,
		m.EventsFetched,
		m.PollerEnabled,
		m.Stale,
		m.EventsRendered,
		m.ThinDropped,
		m.ThinDuration,
		m.ThinWarnExceeded,
		m.SnapshotPublishes,
		m.BackoffAttempt,
		m.BackoffExhausted,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geo_poller",
			Name:      "fetch_requests_total",
			Help:      "Feed fetches by outcome.",
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "geo_poller",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of a feed fetch including filtering and thinning.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		EventsFetched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "geo_poller",
			Name:      "events_fetched",
			Help:      "Number of events returned by the last successful fetch.",
		}),
		PollerEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "geo_poller",
			Name:      "enabled",
			Help:      "1 when polling is enabled, 0 otherwise.",
		}),
		Stale: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "geo_poller",
			Name:      "stale",
			Help:      "1 when the rendered set is stale, 0 when fresh.",
		}),
		EventsRendered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "geo_poller",
			Name:      "events_rendered",
			Help:      "Number of events in the current render set after filtering and thinning.",
		}),
		ThinDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geo_poller",
			Name:      "thin_dropped_total",
			Help:      "Events removed by spatial thinning.",
		}),
		ThinDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "geo_poller",
			Name:      "thin_duration_seconds",
			Help:      "Duration of a spatial thinning pass.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.02, 0.06, 0.1, 0.25},
		}),
		ThinWarnExceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geo_poller",
			Name:      "thin_warn_exceeded_total",
			Help:      "Thinning passes whose input exceeded the warn threshold.",
		}),
		SnapshotPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geo_poller",
			Name:      "snapshot_publishes_total",
			Help:      "Render snapshots published to the sink topic by outcome.",
		}, []string{"outcome"}),
		BackoffAttempt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "geo_poller",
			Name:      "backoff_attempt",
			Help:      "Consecutive failed fetches since the last success.",
		}),
		BackoffExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geo_poller",
			Name:      "backoff_exhausted_total",
			Help:      "Times automatic retries stopped after reaching the attempt limit.",
		}),
	}
}
