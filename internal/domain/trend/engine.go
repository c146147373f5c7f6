// internal/domain/trend/engine.go

package trend

import (
	"context"
	"time"
)

// Metric names a ranking dimension.
type Metric string

const (
	MetricScore      Metric = "score"
	MetricViral      Metric = "viral"
	MetricVelocity   Metric = "velocity"
	MetricEngagement Metric = "engagement"
)

// Metrics lists every tracked ranking dimension.
var Metrics = []Metric{MetricScore, MetricViral, MetricVelocity, MetricEngagement}

// Aggregator exposes the read side of the windowed aggregate state.
type Aggregator interface {
	// Stats returns read-time views of the live buckets matching the filter.
	Stats(filter Filter) []BucketStats
}

// Entities exposes the read side of the entity mention state.
type Entities interface {
	// TopEntities returns the leading entities for a window, ordered by
	// mention count.
	TopEntities(granularity Granularity, start time.Time, limit int) []TopEntity
}

// Rankings exposes the read side of the top-N ranking state.
type Rankings interface {
	// Top returns the best-ranked in-horizon posts for a source and metric.
	Top(source string, metric Metric, limit int) []RankedPost

	// Sources returns every source with at least one ranked post.
	Sources() []string
}

// SnapshotStore persists published snapshots and serves their history.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	SaveTopEntities(ctx context.Context, snapshotTime time.Time, entities []TopEntity) error
	FindSnapshots(ctx context.Context, filter Filter) ([]Snapshot, error)
}
