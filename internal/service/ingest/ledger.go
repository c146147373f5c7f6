// internal/service/ingest/ledger.go

package ingest

import (
	"hash/fnv"
	"sync"

	"socialpulse/internal/domain/post"
)

const ledgerShards = 64

// entry is the latest applied state for one post identity. Entries are
// created on first acceptance and updated on each materially different
// delivery; they are never deleted, since the prior state is what makes
// retraction exact.
type entry struct {
	post     post.Post
	derived  post.Derived
	revision int64
}

// Ledger is the dedup/upsert store keyed on (source, external_id). Shard
// locks give single-writer discipline per identity while unrelated
// identities proceed in parallel.
type Ledger struct {
	shards [ledgerShards]ledgerShard
}

type ledgerShard struct {
	mu      sync.RWMutex
	entries map[post.Identity]*entry
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	l := &Ledger{}
	for i := range l.shards {
		l.shards[i].entries = make(map[post.Identity]*entry)
	}
	return l
}

func (l *Ledger) shard(id post.Identity) *ledgerShard {
	h := fnv.New32a()
	h.Write([]byte(id.Source))
	h.Write([]byte{0})
	h.Write([]byte(id.ExternalID))
	return &l.shards[h.Sum32()%ledgerShards]
}

// Apply records a delivery and decides what downstream work it requires.
// Unseen identities return New. Deliveries whose raw fields all match the
// stored entry return Unchanged and must not touch aggregates; this is what
// absorbs duplicate deliveries from the at-least-once transport. Anything
// else returns Updated carrying the prior post and derived metrics so the
// caller can retract stale contributions first.
func (l *Ledger) Apply(p post.Post, derived post.Derived) post.Decision {
	id := p.ID()
	s := l.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		s.entries[id] = &entry{post: p, derived: derived, revision: 1}
		return post.Decision{Kind: post.DecisionNew, Revision: 1}
	}

	if rawEqual(e.post, p) {
		return post.Decision{Kind: post.DecisionUnchanged, Revision: e.revision}
	}

	prevPost := e.post
	prevDerived := e.derived
	e.post = p
	e.derived = derived
	e.revision++

	return post.Decision{
		Kind:            post.DecisionUpdated,
		Revision:        e.revision,
		Previous:        &prevPost,
		PreviousDerived: &prevDerived,
	}
}

// Revision returns the current revision for an identity, zero if unseen.
func (l *Ledger) Revision(id post.Identity) int64 {
	s := l.shard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[id]; ok {
		return e.revision
	}
	return 0
}

// Len returns the number of tracked identities.
func (l *Ledger) Len() int {
	n := 0
	for i := range l.shards {
		l.shards[i].mu.RLock()
		n += len(l.shards[i].entries)
		l.shards[i].mu.RUnlock()
	}
	return n
}

// rawEqual compares the raw attributes that feed derived computation.
// ObservedAt is deliberately excluded: a rescrape that found nothing new
// still advances the observation clock, and treating it as a material
// change would defeat duplicate absorption.
func rawEqual(a, b post.Post) bool {
	if a.Title != b.Title || a.Body != b.Body {
		return false
	}
	if a.Score != b.Score || a.NumComments != b.NumComments || a.UpvoteRatio != b.UpvoteRatio {
		return false
	}
	if a.SentimentScore != b.SentimentScore || a.ViralScore != b.ViralScore {
		return false
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return false
	}
	if !stringsEqual(a.Topics, b.Topics) || !stringsEqual(a.Keywords, b.Keywords) {
		return false
	}
	if len(a.Entities) != len(b.Entities) {
		return false
	}
	for i := range a.Entities {
		if a.Entities[i] != b.Entities[i] {
			return false
		}
	}
	return true
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
