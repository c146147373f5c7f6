package analytics

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialpulse/internal/domain/post"
	"socialpulse/internal/domain/trend"
	"socialpulse/internal/monitoring"
)

type fakeSnapshotStore struct {
	mu        sync.Mutex
	failAll   bool
	saveCalls int
	snapshots []trend.Snapshot
	entities  []trend.TopEntity
}

func (f *fakeSnapshotStore) SaveSnapshot(ctx context.Context, snap trend.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.failAll {
		return fmt.Errorf("store unavailable")
	}
	f.snapshots = append(f.snapshots, snap)
	return nil
}

func (f *fakeSnapshotStore) SaveTopEntities(ctx context.Context, snapshotTime time.Time, entities []trend.TopEntity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return fmt.Errorf("store unavailable")
	}
	f.entities = append(f.entities, entities...)
	return nil
}

func (f *fakeSnapshotStore) FindSnapshots(ctx context.Context, filter trend.Filter) ([]trend.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots, nil
}

func newTestPublisher(store trend.SnapshotStore, now time.Time) (*Publisher, *Aggregator, *EntityTracker, *Ranking) {
	agg := NewAggregator(AggregatorConfig{})
	entities := NewEntityTracker(nil, 0)
	ranking := NewRanking(RankingConfig{})
	pub := NewPublisher(agg, entities, ranking, store, nil,
		monitoring.NewMetrics(prometheus.NewRegistry()), zerolog.Nop(),
		PublisherConfig{MaxAttempts: 2, BackoffBase: time.Millisecond})
	pub.clock = func() time.Time { return now }
	return pub, agg, entities, ranking
}

func TestPublisher_CycleMaterializesBuckets(t *testing.T) {
	now := bucketHour.Add(30 * time.Minute)
	store := &fakeSnapshotStore{}
	pub, agg, entities, _ := newTestPublisher(store, now)

	p, d := aggPost("a", 40)
	p.Entities = []post.Entity{{Text: "Go", Type: "technology"}}
	agg.AddPost(p, d)
	entities.AddPost(p)

	pub.Cycle(context.Background(), trend.GranularityHour)

	require.Len(t, store.snapshots, 1, "one snapshot per live hour bucket")
	snap := store.snapshots[0]
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, now, snap.SnapshotTime)
	assert.Equal(t, "x", snap.Stats.Source)
	assert.Equal(t, trend.GranularityHour, snap.Stats.Granularity)
	assert.Equal(t, int64(1), snap.Stats.PostCount)
	assert.InDelta(t, 40.0, snap.Stats.AvgScore, 1e-9)

	require.Len(t, store.entities, 1, "the current window's entities are published")
	assert.Equal(t, "Go", store.entities[0].EntityText)
}

func TestPublisher_SnapshotsAreImmutableCopies(t *testing.T) {
	now := bucketHour.Add(30 * time.Minute)
	store := &fakeSnapshotStore{}
	pub, agg, _, _ := newTestPublisher(store, now)

	p, d := aggPost("a", 40)
	agg.AddPost(p, d)

	pub.Cycle(context.Background(), trend.GranularityHour)

	// Later mutations must not reach the already-published record.
	p2, d2 := aggPost("b", 400)
	agg.AddPost(p2, d2)

	require.Len(t, store.snapshots, 1)
	assert.Equal(t, int64(1), store.snapshots[0].Stats.PostCount)

	pub.Cycle(context.Background(), trend.GranularityHour)
	require.Len(t, store.snapshots, 2)
	assert.Equal(t, int64(2), store.snapshots[1].Stats.PostCount,
		"the next cycle sees the new state")
}

func TestPublisher_FailedPublishRetainsState(t *testing.T) {
	now := bucketHour.Add(30 * time.Minute)
	store := &fakeSnapshotStore{failAll: true}
	pub, agg, _, _ := newTestPublisher(store, now)

	p, d := aggPost("a", 40)
	agg.AddPost(p, d)

	pub.Cycle(context.Background(), trend.GranularityHour)

	assert.Equal(t, 2, store.saveCalls, "bounded retries, then give up until next cycle")
	assert.Empty(t, store.snapshots)

	_, ok := agg.StatsFor(hourKey("x"))
	assert.True(t, ok, "in-memory state stays authoritative after a failed publish")

	// A recovered store picks the bucket up on the next cycle.
	store.failAll = false
	pub.Cycle(context.Background(), trend.GranularityHour)
	assert.Len(t, store.snapshots, 1)
}

func TestPublisher_CycleEvictsExpiredBuckets(t *testing.T) {
	now := bucketHour.Add(30 * time.Minute)
	store := &fakeSnapshotStore{}
	pub, agg, _, _ := newTestPublisher(store, now)

	p, d := aggPost("a", 40)
	agg.AddPost(p, d)

	old := p
	old.ExternalID = "ancient"
	old.CreatedAt = bucketHour.Add(-80 * time.Hour)
	agg.AddPost(old, Compute(old, now))

	pub.Cycle(context.Background(), trend.GranularityHour)

	remaining := 0
	for _, key := range agg.Keys() {
		if key.Granularity == trend.GranularityHour {
			remaining++
		}
	}
	assert.Equal(t, 1, remaining, "buckets past retention leave memory after the cycle")
	assert.Len(t, store.snapshots, 2, "the expiring bucket is still published once before eviction")
}

func TestPublisher_StartStop(t *testing.T) {
	store := &fakeSnapshotStore{}
	pub, _, _, _ := newTestPublisher(store, time.Now().UTC())

	require.NoError(t, pub.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, pub.Stop(ctx))
}
