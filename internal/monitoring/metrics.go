// internal/monitoring/metrics.go

package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the analytics engine.
type Metrics struct {
	IngestDecisions   *prometheus.CounterVec
	ValidationDrops   prometheus.Counter
	RevisionConflicts prometheus.Counter
	StateCorruptions  prometheus.Counter
	ProcessingTime    prometheus.Histogram
	SnapshotsWritten  *prometheus.CounterVec
	PublishRetries    prometheus.Counter
	PublishFailures   prometheus.Counter
	LiveBuckets       prometheus.Gauge
	TrackedPosts      prometheus.Gauge
	AlertsPublished   *prometheus.CounterVec
}

// NewMetrics creates and registers the engine's instruments.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socialpulse_ingest_decisions_total",
				Help: "Ledger decisions by kind (new, unchanged, updated)",
			},
			[]string{"decision"},
		),
		ValidationDrops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "socialpulse_validation_drops_total",
				Help: "Raw posts dropped by the normalizer",
			},
		),
		RevisionConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "socialpulse_revision_conflicts_total",
				Help: "Ledger revision conflicts observed (must stay zero)",
			},
		),
		StateCorruptions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "socialpulse_state_corruptions_total",
				Help: "Aggregate buckets evicted after an invariant violation",
			},
		),
		ProcessingTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "socialpulse_processing_seconds",
				Help:    "End-to-end processing time per delivered post",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
		SnapshotsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socialpulse_snapshots_written_total",
				Help: "Snapshots persisted by granularity",
			},
			[]string{"granularity"},
		),
		PublishRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "socialpulse_publish_retries_total",
				Help: "Snapshot publish attempts that were retried",
			},
		),
		PublishFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "socialpulse_publish_failures_total",
				Help: "Snapshot publishes abandoned after retry exhaustion",
			},
		),
		LiveBuckets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "socialpulse_live_buckets",
				Help: "Aggregate buckets currently resident in memory",
			},
		),
		TrackedPosts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "socialpulse_tracked_posts",
				Help: "Post identities tracked by the ledger",
			},
		),
		AlertsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socialpulse_alerts_published_total",
				Help: "Alert events published by type",
			},
			[]string{"type"},
		),
	}

	reg.MustRegister(
		m.IngestDecisions,
		m.ValidationDrops,
		m.RevisionConflicts,
		m.StateCorruptions,
		m.ProcessingTime,
		m.SnapshotsWritten,
		m.PublishRetries,
		m.PublishFailures,
		m.LiveBuckets,
		m.TrackedPosts,
		m.AlertsPublished,
	)
	return m
}
