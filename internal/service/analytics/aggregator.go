// internal/service/analytics/aggregator.go

package analytics

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"

	"socialpulse/internal/domain/post"
	"socialpulse/internal/domain/trend"
)

const aggregatorShards = 64

// fixedScale converts float metrics to fixed-point for the bucket sums.
// Integer addition is exactly invertible, so a retraction restores the sum
// bit-for-bit; accumulating float64 directly drifts because float addition
// is not associative.
const fixedScale = 1e6

func toFixed(v float64) int64 { return int64(math.Round(v * fixedScale)) }

func fromFixed(v int64) float64 { return float64(v) / fixedScale }

// ErrStateCorruption reports an aggregate whose totals went negative after
// a retraction. Deltas are exactly invertible, so this can only happen on a
// concurrency-control bug; the bucket is discarded rather than computed on.
var ErrStateCorruption = fmt.Errorf("aggregate state corruption")

// AggregatorConfig contains configuration for the windowed aggregator.
type AggregatorConfig struct {
	Granularities []trend.Granularity
	KeywordCap    int
}

// bucket holds the running sums and counts for one (source, granularity,
// bucket_start). Only sums and counts are stored; averages and ratios are
// derived at read time so retraction stays exact. The float metrics are
// summed in fixed-point for the same reason.
type bucket struct {
	postCount      int64
	scoreSum       int64
	commentSum     int64
	sentimentSum   int64
	viralSum       int64
	velocitySum    int64
	highPerformers int64
	sentiment      map[string]int64
	viral          map[string]int64
	content        map[string]int64
	keywords       map[string]int64
}

func newBucket() *bucket {
	return &bucket{
		sentiment: make(map[string]int64),
		viral:     make(map[string]int64),
		content:   make(map[string]int64),
		keywords:  make(map[string]int64),
	}
}

// Aggregator maintains per-(source, granularity, bucket) running statistics
// for every configured granularity, updated incrementally as posts arrive
// or are revised. Buckets are sharded by key so unrelated sources and
// windows never contend.
type Aggregator struct {
	config AggregatorConfig
	shards [aggregatorShards]aggShard
}

type aggShard struct {
	mu      sync.RWMutex
	buckets map[trend.BucketKey]*bucket
}

// NewAggregator creates a windowed aggregator.
func NewAggregator(config AggregatorConfig) *Aggregator {
	if len(config.Granularities) == 0 {
		config.Granularities = []trend.Granularity{trend.GranularityHour, trend.GranularityDay}
	}
	if config.KeywordCap <= 0 {
		config.KeywordCap = 50
	}
	a := &Aggregator{config: config}
	for i := range a.shards {
		a.shards[i].buckets = make(map[trend.BucketKey]*bucket)
	}
	return a
}

func (a *Aggregator) shard(key trend.BucketKey) *aggShard {
	h := fnv.New32a()
	h.Write([]byte(key.Source))
	h.Write([]byte{0})
	h.Write([]byte(key.Granularity))
	h.Write([]byte{0})
	h.Write([]byte(key.Start.Format(time.RFC3339)))
	return &a.shards[h.Sum32()%aggregatorShards]
}

// keys returns the bucket keys a post belongs to, one per granularity,
// derived from created_at.
func (a *Aggregator) keys(p post.Post) []trend.BucketKey {
	keys := make([]trend.BucketKey, 0, len(a.config.Granularities))
	for _, g := range a.config.Granularities {
		keys = append(keys, trend.BucketKey{
			Source:      p.Source,
			Granularity: g,
			Start:       g.BucketStart(p.CreatedAt),
		})
	}
	return keys
}

// AddPost folds a post's metrics into its hour and day buckets.
func (a *Aggregator) AddPost(p post.Post, d post.Derived) {
	for _, key := range a.keys(p) {
		s := a.shard(key)
		s.mu.Lock()
		b, ok := s.buckets[key]
		if !ok {
			b = newBucket()
			s.buckets[key] = b
		}
		b.apply(p, d, 1, a.config.KeywordCap)
		s.mu.Unlock()
	}
}

// RetractPost applies the exact inverse deltas of AddPost. It is used on
// Updated decisions before re-adding with fresh metrics, and never on New.
// If any total goes negative the bucket is evicted and ErrStateCorruption
// returned; continuing to compute on corrupted aggregates is worse than
// rebuilding the bucket from the post store.
func (a *Aggregator) RetractPost(p post.Post, d post.Derived) error {
	var corrupt []trend.BucketKey
	for _, key := range a.keys(p) {
		s := a.shard(key)
		s.mu.Lock()
		b, ok := s.buckets[key]
		if !ok {
			s.mu.Unlock()
			continue
		}
		b.apply(p, d, -1, a.config.KeywordCap)
		if b.postCount < 0 || b.highPerformers < 0 ||
			b.sentiment[d.SentimentCategory] < 0 ||
			b.viral[d.ViralCategory] < 0 ||
			b.content[d.ContentType] < 0 {
			delete(s.buckets, key)
			corrupt = append(corrupt, key)
		}
		s.mu.Unlock()
	}
	if len(corrupt) > 0 {
		return fmt.Errorf("%w: %d bucket(s) evicted, first %s/%s@%s",
			ErrStateCorruption, len(corrupt),
			corrupt[0].Source, corrupt[0].Granularity, corrupt[0].Start.Format(time.RFC3339))
	}
	return nil
}

// apply folds one post into the bucket with the given sign.
func (b *bucket) apply(p post.Post, d post.Derived, sign int64, keywordCap int) {
	b.postCount += sign
	b.scoreSum += sign * int64(p.Score)
	b.commentSum += sign * int64(p.NumComments)
	b.sentimentSum += sign * toFixed(p.SentimentScore)
	b.viralSum += sign * toFixed(p.ViralScore)
	b.velocitySum += sign * toFixed(d.Velocity)
	if d.IsHighPerformer {
		b.highPerformers += sign
	}
	b.sentiment[d.SentimentCategory] += sign
	b.viral[d.ViralCategory] += sign
	b.content[d.ContentType] += sign

	for _, kw := range p.Keywords {
		if sign > 0 {
			b.addKeyword(kw, keywordCap)
		} else {
			b.retractKeyword(kw)
		}
	}
}

// addKeyword bumps a keyword's frequency, evicting the lowest-frequency
// entry once the map exceeds its cap. The cap bounds memory under
// high-cardinality vocabularies; evicted counts are lost, which makes the
// keyword list an approximation, unlike the exact sums above.
func (b *bucket) addKeyword(kw string, limit int) {
	if _, ok := b.keywords[kw]; !ok && len(b.keywords) >= limit {
		lowest := ""
		var lowestCount int64
		for k, c := range b.keywords {
			if lowest == "" || c < lowestCount || (c == lowestCount && k > lowest) {
				lowest, lowestCount = k, c
			}
		}
		if lowestCount > 1 {
			// Everything tracked is more frequent than a first sighting.
			return
		}
		delete(b.keywords, lowest)
	}
	b.keywords[kw]++
}

func (b *bucket) retractKeyword(kw string) {
	if c, ok := b.keywords[kw]; ok {
		if c <= 1 {
			delete(b.keywords, kw)
		} else {
			b.keywords[kw] = c - 1
		}
	}
}

// Stats returns read-time views of the live buckets matching the filter,
// newest first. Ratios are computed here from the stored sums.
func (a *Aggregator) Stats(filter trend.Filter) []trend.BucketStats {
	var out []trend.BucketStats
	for i := range a.shards {
		s := &a.shards[i]
		s.mu.RLock()
		for key, b := range s.buckets {
			if filter.Source != "" && key.Source != filter.Source {
				continue
			}
			if filter.Granularity != "" && key.Granularity != filter.Granularity {
				continue
			}
			if !filter.Since.IsZero() && key.Start.Before(filter.Since) {
				continue
			}
			out = append(out, b.stats(key))
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BucketStart.Equal(out[j].BucketStart) {
			return out[i].BucketStart.After(out[j].BucketStart)
		}
		return out[i].Source < out[j].Source
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// StatsFor returns the view of a single bucket, false if absent.
func (a *Aggregator) StatsFor(key trend.BucketKey) (trend.BucketStats, bool) {
	s := a.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[key]
	if !ok {
		return trend.BucketStats{}, false
	}
	return b.stats(key), true
}

// Keys lists the live bucket keys, used by the snapshot publisher to walk
// every bucket due for materialization.
func (a *Aggregator) Keys() []trend.BucketKey {
	var keys []trend.BucketKey
	for i := range a.shards {
		s := &a.shards[i]
		s.mu.RLock()
		for key := range s.buckets {
			keys = append(keys, key)
		}
		s.mu.RUnlock()
	}
	return keys
}

// EvictBefore drops buckets of a granularity whose window closed before the
// cutoff. Called by the snapshot cycle after publication so memory stays
// bounded as time advances.
func (a *Aggregator) EvictBefore(g trend.Granularity, cutoff time.Time) int {
	evicted := 0
	for i := range a.shards {
		s := &a.shards[i]
		s.mu.Lock()
		for key := range s.buckets {
			if key.Granularity == g && key.Start.Add(g.Duration()).Before(cutoff) {
				delete(s.buckets, key)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

// stats derives the external view from the stored sums. Division guards
// keep empty buckets at zero rather than NaN.
func (b *bucket) stats(key trend.BucketKey) trend.BucketStats {
	st := trend.BucketStats{
		Source:          key.Source,
		Granularity:     key.Granularity,
		BucketStart:     key.Start,
		PostCount:       b.postCount,
		HighPerformers:  b.highPerformers,
		SentimentCounts: copyCounts(b.sentiment),
		ViralCounts:     copyCounts(b.viral),
		ContentCounts:   copyCounts(b.content),
		TopKeywords:     topKeywords(b.keywords),
	}
	if b.postCount > 0 {
		n := float64(b.postCount)
		st.AvgScore = float64(b.scoreSum) / n
		st.AvgComments = float64(b.commentSum) / n
		st.AvgSentiment = fromFixed(b.sentimentSum) / n
		st.AvgViral = fromFixed(b.viralSum) / n
		st.AvgVelocity = fromFixed(b.velocitySum) / n

		pos := b.sentiment[post.SentimentVeryPositive] + b.sentiment[post.SentimentPositive]
		neg := b.sentiment[post.SentimentVeryNegative] + b.sentiment[post.SentimentNegative]
		st.SentimentIndex = float64(pos-neg) / n
		st.PositivePct = 100 * float64(pos) / n
		st.NegativePct = 100 * float64(neg) / n
	}
	return st
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}

// topKeywords orders the bucket's keyword frequencies, ties broken
// lexicographically for stable output.
func topKeywords(freq map[string]int64) []trend.KeywordCount {
	out := make([]trend.KeywordCount, 0, len(freq))
	for k, c := range freq {
		out = append(out, trend.KeywordCount{Keyword: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Keyword < out[j].Keyword
	})
	return out
}
