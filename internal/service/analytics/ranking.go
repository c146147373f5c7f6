// internal/service/analytics/ranking.go

package analytics

import (
	"sort"
	"sync"
	"time"

	"socialpulse/internal/domain/post"
	"socialpulse/internal/domain/trend"
)

// RankingConfig contains configuration for the top-N ranking engine.
type RankingConfig struct {
	TopK         int
	TopThreshold int
	HorizonHours float64
}

// rankEntry is one ranked post inside a set.
type rankEntry struct {
	externalID    string
	title         string
	value         float64
	score         int
	createdAt     time.Time
	highPerformer bool
}

// outranks reports whether a places before b. Ties on the metric value are
// broken by larger raw score, then lexicographically smaller external_id,
// so every recomputation orders identically.
func (a rankEntry) outranks(b rankEntry) bool {
	if a.value != b.value {
		return a.value > b.value
	}
	if a.score != b.score {
		return a.score > b.score
	}
	return a.externalID < b.externalID
}

type setKey struct {
	source string
	metric trend.Metric
}

type rankSet struct {
	mu      sync.RWMutex
	entries map[string]rankEntry
}

// Ranking maintains, per (source, metric), a bounded ordered set of post
// identities restricted to posts younger than the horizon. Each set has its
// own lock; distinct sources and metrics never contend.
type Ranking struct {
	config RankingConfig
	mu     sync.RWMutex
	sets   map[setKey]*rankSet
}

// NewRanking creates a top-N ranking engine.
func NewRanking(config RankingConfig) *Ranking {
	if config.TopK <= 0 {
		config.TopK = 100
	}
	if config.TopThreshold <= 0 {
		config.TopThreshold = 10
	}
	if config.HorizonHours <= 0 {
		config.HorizonHours = 48
	}
	return &Ranking{config: config, sets: make(map[setKey]*rankSet)}
}

func (r *Ranking) set(key setKey, create bool) *rankSet {
	r.mu.RLock()
	s, ok := r.sets[key]
	r.mu.RUnlock()
	if ok || !create {
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.sets[key]; ok {
		return s
	}
	s = &rankSet{entries: make(map[string]rankEntry)}
	r.sets[key] = s
	return s
}

// Upsert places a post in every metric's set for its source, replacing any
// prior entry for the same identity. Posts older than the horizon are
// evicted instead; when a set grows past K the lowest-ranked entry goes.
func (r *Ranking) Upsert(p post.Post, d post.Derived) {
	for _, metric := range trend.Metrics {
		key := setKey{source: p.Source, metric: metric}
		if d.AgeHours > r.config.HorizonHours {
			if s := r.set(key, false); s != nil {
				s.mu.Lock()
				delete(s.entries, p.ExternalID)
				s.mu.Unlock()
			}
			continue
		}

		entry := rankEntry{
			externalID:    p.ExternalID,
			title:         p.Title,
			value:         MetricValue(metric, p, d),
			score:         p.Score,
			createdAt:     p.CreatedAt,
			highPerformer: d.IsHighPerformer,
		}

		s := r.set(key, true)
		s.mu.Lock()
		s.entries[p.ExternalID] = entry
		if len(s.entries) > r.config.TopK {
			s.evictLowest()
		}
		s.mu.Unlock()
	}
}

// evictLowest removes the worst-ranked entry. Caller holds the set lock.
func (s *rankSet) evictLowest() {
	var lowest rankEntry
	first := true
	for _, e := range s.entries {
		if first || lowest.outranks(e) {
			lowest = e
			first = false
		}
	}
	if !first {
		delete(s.entries, lowest.externalID)
	}
}

// Sweep evicts entries that have aged past the horizon. Age advances
// whether or not new posts arrive, so the snapshot cycle triggers this
// rather than relying on upserts alone.
func (r *Ranking) Sweep(now time.Time) int {
	r.mu.RLock()
	sets := make([]*rankSet, 0, len(r.sets))
	for _, s := range r.sets {
		sets = append(sets, s)
	}
	r.mu.RUnlock()

	evicted := 0
	for _, s := range sets {
		s.mu.Lock()
		for id, e := range s.entries {
			if now.Sub(e.createdAt).Hours() > r.config.HorizonHours {
				delete(s.entries, id)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

// Top returns the best-ranked posts for a source and metric, at most limit
// (default: the full set). The is_top_post flag is derived here: a post is
// top iff it ranks at or above the threshold in any of the score, viral or
// velocity sets for its source. Engagement is tracked but deliberately
// excluded from the flag.
func (r *Ranking) Top(source string, metric trend.Metric, limit int) []trend.RankedPost {
	ordered := r.ordered(setKey{source: source, metric: metric})
	if limit <= 0 || limit > len(ordered) {
		limit = len(ordered)
	}

	out := make([]trend.RankedPost, 0, limit)
	for i := 0; i < limit; i++ {
		e := ordered[i]
		out = append(out, trend.RankedPost{
			Source:          source,
			ExternalID:      e.externalID,
			Title:           e.title,
			Rank:            i + 1,
			Value:           e.value,
			Score:           e.score,
			AgeHours:        time.Since(e.createdAt).Hours(),
			IsTopPost:       r.IsTopPost(source, e.externalID),
			IsHighPerformer: e.highPerformer,
		})
	}
	return out
}

// IsTopPost reports whether a post ranks at or above the top threshold on
// score, viral or velocity for its source.
func (r *Ranking) IsTopPost(source, externalID string) bool {
	for _, metric := range []trend.Metric{trend.MetricScore, trend.MetricViral, trend.MetricVelocity} {
		rank := r.rankOf(setKey{source: source, metric: metric}, externalID)
		if rank > 0 && rank <= r.config.TopThreshold {
			return true
		}
	}
	return false
}

// rankOf returns the 1-based rank of a post in a set, zero if absent.
func (r *Ranking) rankOf(key setKey, externalID string) int {
	for i, e := range r.ordered(key) {
		if e.externalID == externalID {
			return i + 1
		}
	}
	return 0
}

// ordered returns the set's entries best-first.
func (r *Ranking) ordered(key setKey) []rankEntry {
	s := r.set(key, false)
	if s == nil {
		return nil
	}
	s.mu.RLock()
	entries := make([]rankEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].outranks(entries[j])
	})
	return entries
}

// Sources returns every source with at least one ranked post, sorted.
func (r *Ranking) Sources() []string {
	r.mu.RLock()
	seen := make(map[string]bool)
	for key, s := range r.sets {
		s.mu.RLock()
		if len(s.entries) > 0 {
			seen[key.source] = true
		}
		s.mu.RUnlock()
	}
	r.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for source := range seen {
		out = append(out, source)
	}
	sort.Strings(out)
	return out
}
