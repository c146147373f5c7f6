package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialpulse/internal/domain/post"
	"socialpulse/internal/domain/trend"
	"socialpulse/internal/monitoring"
	"socialpulse/internal/service/analytics"
)

type fakePostStore struct {
	mu      sync.Mutex
	upserts []int64
}

func (f *fakePostStore) UpsertPost(ctx context.Context, p post.Post, d post.Derived, revision int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, revision)
	return nil
}

func newTestEngine(store PostStore) (*Engine, *analytics.Aggregator, *analytics.Ranking, time.Time) {
	now := time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)
	agg := analytics.NewAggregator(analytics.AggregatorConfig{})
	entities := analytics.NewEntityTracker(nil, 0)
	ranking := analytics.NewRanking(analytics.RankingConfig{})
	engine := NewEngine(NewLedger(), agg, entities, ranking, store, nil,
		monitoring.NewMetrics(prometheus.NewRegistry()), zerolog.Nop(), PipelineConfig{})
	engine.clock = func() time.Time { return now }
	return engine, agg, ranking, now
}

func rawFixture(now time.Time, score int) RawPost {
	comments := 10
	return RawPost{
		Source:         "reddit",
		ExternalID:     "t3_abc",
		Title:          "Go 1.23 released",
		Score:          &score,
		NumComments:    &comments,
		SentimentScore: 0.3,
		ViralScore:     0.5,
		Keywords:       []string{"go"},
		CreatedAt:      now.Add(-2 * time.Hour),
	}
}

func bucketOf(now time.Time) trend.BucketKey {
	return trend.BucketKey{
		Source:      "reddit",
		Granularity: trend.GranularityHour,
		Start:       trend.GranularityHour.BucketStart(now.Add(-2 * time.Hour)),
	}
}

func TestIngest_RedeliveryLeavesStateUntouched(t *testing.T) {
	store := &fakePostStore{}
	engine, agg, ranking, now := newTestEngine(store)
	raw := rawFixture(now, 100)

	first, err := engine.Ingest(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, post.DecisionNew, first.Kind)

	before, ok := agg.StatsFor(bucketOf(now))
	require.True(t, ok)

	second, err := engine.Ingest(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, post.DecisionUnchanged, second.Kind)

	after, ok := agg.StatsFor(bucketOf(now))
	require.True(t, ok)
	assert.Equal(t, before, after, "a duplicate delivery must not move any aggregate")
	assert.Len(t, ranking.Top("reddit", trend.MetricScore, 10), 1)
	assert.Len(t, store.upserts, 1, "unchanged posts are not re-persisted")
}

func TestIngest_UpdateRetractsThenReapplies(t *testing.T) {
	store := &fakePostStore{}
	engine, agg, ranking, now := newTestEngine(store)

	_, err := engine.Ingest(context.Background(), rawFixture(now, 100))
	require.NoError(t, err)

	decision, err := engine.Ingest(context.Background(), rawFixture(now, 300))
	require.NoError(t, err)
	assert.Equal(t, post.DecisionUpdated, decision.Kind)
	assert.Equal(t, int64(2), decision.Revision)

	st, ok := agg.StatsFor(bucketOf(now))
	require.True(t, ok)
	assert.Equal(t, int64(1), st.PostCount, "an update never double counts")
	assert.InDelta(t, 300.0, st.AvgScore, 1e-9, "the old contribution is fully replaced")

	top := ranking.Top("reddit", trend.MetricScore, 10)
	require.Len(t, top, 1)
	assert.Equal(t, 300.0, top[0].Value)

	assert.Equal(t, []int64{1, 2}, store.upserts)
}

func TestIngest_ValidationFailureDrops(t *testing.T) {
	engine, agg, _, now := newTestEngine(nil)

	raw := rawFixture(now, 100)
	raw.Title = "   "

	_, err := engine.Ingest(context.Background(), raw)
	assert.ErrorIs(t, err, ErrValidation)

	_, ok := agg.StatsFor(bucketOf(now))
	assert.False(t, ok, "rejected posts touch nothing downstream")
}

func TestIngest_DistinctIdentitiesAccumulate(t *testing.T) {
	engine, agg, ranking, now := newTestEngine(nil)

	for i, id := range []string{"t3_a", "t3_b", "t3_c"} {
		raw := rawFixture(now, 100+i)
		raw.ExternalID = id
		_, err := engine.Ingest(context.Background(), raw)
		require.NoError(t, err)
	}

	st, ok := agg.StatsFor(bucketOf(now))
	require.True(t, ok)
	assert.Equal(t, int64(3), st.PostCount)
	assert.Len(t, ranking.Top("reddit", trend.MetricScore, 10), 3)
}

func TestDispatch_SameIdentitySameWorker(t *testing.T) {
	engine, _, _, _ := newTestEngine(nil)
	engine.workers = make([]chan RawPost, engine.config.Workers)
	for i := range engine.workers {
		engine.workers[i] = make(chan RawPost, 16)
	}

	raw := RawPost{Source: "reddit", ExternalID: "t3_abc", Title: "x"}
	engine.dispatch(raw)
	engine.dispatch(raw)

	loaded := 0
	for _, ch := range engine.workers {
		if n := len(ch); n > 0 {
			loaded++
			assert.Equal(t, 2, n, "both deliveries land on the identity's worker")
		}
	}
	assert.Equal(t, 1, loaded)
}

func TestEngine_LateDeliveryAfterStopIsDropped(t *testing.T) {
	engine, agg, _, now := newTestEngine(nil)
	require.NoError(t, engine.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, engine.Stop(ctx))

	// A consumer callback can still fire behind the unsubscribe.
	assert.NotPanics(t, func() { engine.dispatch(rawFixture(now, 100)) })

	_, ok := agg.StatsFor(bucketOf(now))
	assert.False(t, ok, "deliveries behind the shutdown touch nothing")
}

func TestEngine_StopRacesLateDeliveries(t *testing.T) {
	engine, _, _, now := newTestEngine(nil)
	require.NoError(t, engine.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			raw := rawFixture(now, i)
			raw.ExternalID = fmt.Sprintf("t3_%03d", i)
			engine.dispatch(raw)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, engine.Stop(ctx))
	<-done
}

func TestTruncate_KeepsRuneBoundaries(t *testing.T) {
	assert.Equal(t, "héllo", truncate("héllo", 100))

	title := strings.Repeat("é", 60)
	cut := truncate(title, 99)
	assert.True(t, utf8.ValidString(cut), "a cut title must stay valid UTF-8")
	assert.Equal(t, 98, len(cut), "the cut backs off to the previous rune start")

	assert.Equal(t, "abc", truncate("abcdef", 3))
	assert.Equal(t, "", truncate("é", 1))
}

func TestEngine_StartStopDrains(t *testing.T) {
	engine, agg, _, now := newTestEngine(nil)

	require.NoError(t, engine.Start(context.Background()))
	engine.dispatch(rawFixture(now, 100))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, engine.Stop(ctx))

	st, ok := agg.StatsFor(bucketOf(now))
	require.True(t, ok, "queued work finishes before shutdown completes")
	assert.Equal(t, int64(1), st.PostCount)
}
