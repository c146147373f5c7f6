// internal/service/analytics/entities.go

package analytics

import (
	"sort"
	"sync"
	"time"

	"socialpulse/internal/domain/post"
	"socialpulse/internal/domain/trend"
)

type entityKey struct {
	text string
	typ  string
}

// entityStats holds the invertible tallies for one entity in one window.
// Averages derive from the sum at read time, and the sentiment sum is kept
// in fixed-point, same rules as buckets.
type entityStats struct {
	mentions     int64
	sentimentSum int64
	sources      map[string]int64
}

type entityWindow struct {
	granularity trend.Granularity
	start       time.Time
	entities    map[entityKey]*entityStats
}

// EntityTracker aggregates entity mentions per (granularity, bucket_start),
// across sources. Mentions support exact retraction so revised posts
// correct the tallies the same way buckets do.
type EntityTracker struct {
	granularities []trend.Granularity
	cap           int
	mu            sync.RWMutex
	windows       map[trend.BucketKey]*entityWindow
}

// NewEntityTracker creates an entity tracker. cap bounds the number of
// distinct entities tracked per window.
func NewEntityTracker(granularities []trend.Granularity, cap int) *EntityTracker {
	if len(granularities) == 0 {
		granularities = []trend.Granularity{trend.GranularityHour, trend.GranularityDay}
	}
	if cap <= 0 {
		cap = 100
	}
	return &EntityTracker{
		granularities: granularities,
		cap:           cap,
		windows:       make(map[trend.BucketKey]*entityWindow),
	}
}

// windowKey keeps Source empty: entities aggregate across sources, the
// per-source split lives in each entity's sources tally.
func (t *EntityTracker) windowKey(g trend.Granularity, createdAt time.Time) trend.BucketKey {
	return trend.BucketKey{Granularity: g, Start: g.BucketStart(createdAt)}
}

// AddPost tallies a post's entity mentions into its windows.
func (t *EntityTracker) AddPost(p post.Post) {
	if len(p.Entities) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, g := range t.granularities {
		key := t.windowKey(g, p.CreatedAt)
		w, ok := t.windows[key]
		if !ok {
			w = &entityWindow{
				granularity: g,
				start:       key.Start,
				entities:    make(map[entityKey]*entityStats),
			}
			t.windows[key] = w
		}
		for _, ent := range p.Entities {
			ek := entityKey{text: ent.Text, typ: ent.Type}
			st, ok := w.entities[ek]
			if !ok {
				if len(w.entities) >= t.cap {
					continue
				}
				st = &entityStats{sources: make(map[string]int64)}
				w.entities[ek] = st
			}
			st.mentions++
			st.sentimentSum += toFixed(p.SentimentScore)
			st.sources[p.Source]++
		}
	}
}

// RetractPost reverses AddPost for a post's prior state.
func (t *EntityTracker) RetractPost(p post.Post) {
	if len(p.Entities) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, g := range t.granularities {
		w, ok := t.windows[t.windowKey(g, p.CreatedAt)]
		if !ok {
			continue
		}
		for _, ent := range p.Entities {
			ek := entityKey{text: ent.Text, typ: ent.Type}
			st, ok := w.entities[ek]
			if !ok {
				continue
			}
			st.mentions--
			st.sentimentSum -= toFixed(p.SentimentScore)
			if st.sources[p.Source]--; st.sources[p.Source] <= 0 {
				delete(st.sources, p.Source)
			}
			if st.mentions <= 0 {
				delete(w.entities, ek)
			}
		}
	}
}

// TopEntities returns the leading entities for a window, ordered by mention
// count then entity text for deterministic output.
func (t *EntityTracker) TopEntities(g trend.Granularity, start time.Time, limit int) []trend.TopEntity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	w, ok := t.windows[trend.BucketKey{Granularity: g, Start: start}]
	if !ok {
		return nil
	}

	out := make([]trend.TopEntity, 0, len(w.entities))
	for ek, st := range w.entities {
		e := trend.TopEntity{
			EntityText:   ek.text,
			EntityType:   ek.typ,
			MentionCount: st.mentions,
			Sources:      make(map[string]int64, len(st.sources)),
		}
		if st.mentions > 0 {
			e.AvgSentiment = fromFixed(st.sentimentSum) / float64(st.mentions)
		}
		for s, c := range st.sources {
			e.Sources[s] = c
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MentionCount != out[j].MentionCount {
			return out[i].MentionCount > out[j].MentionCount
		}
		return out[i].EntityText < out[j].EntityText
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// EvictBefore drops windows whose interval closed before the cutoff.
func (t *EntityTracker) EvictBefore(g trend.Granularity, cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	evicted := 0
	for key := range t.windows {
		if key.Granularity == g && key.Start.Add(g.Duration()).Before(cutoff) {
			delete(t.windows, key)
			evicted++
		}
	}
	return evicted
}
