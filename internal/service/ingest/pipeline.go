// internal/service/ingest/pipeline.go

package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"socialpulse/internal/domain/post"
	"socialpulse/internal/monitoring"
	"socialpulse/internal/service/analytics"
)

// PipelineConfig contains configuration for the ingest pipeline.
type PipelineConfig struct {
	Workers        int
	QueueSize      int
	RawTopic       string
	ProcessedTopic string
	AlertsTopic    string
}

// PostStore persists upserted post rows with raw and derived fields.
type PostStore interface {
	UpsertPost(ctx context.Context, p post.Post, d post.Derived, revision int64) error
}

// Engine is the metric computation and trend aggregation pipeline. Ingest
// is its sole write entrypoint; the NATS consumer feeds it one call per
// delivered message. Messages are routed to workers by identity hash, so
// revisions of one post apply in arrival order while distinct identities
// process in parallel.
type Engine struct {
	config   PipelineConfig
	ledger   *Ledger
	agg      *analytics.Aggregator
	entities *analytics.EntityTracker
	ranking  *analytics.Ranking
	store    PostStore
	eventBus *nats.Conn
	metrics  *monitoring.Metrics
	logger   zerolog.Logger
	clock    func() time.Time

	workers    []chan RawPost
	sub        *nats.Subscription
	wg         sync.WaitGroup
	cancel     context.CancelFunc
	dispatchMu sync.Mutex
	closed     bool
}

// NewEngine creates the ingest pipeline.
func NewEngine(
	ledger *Ledger,
	agg *analytics.Aggregator,
	entities *analytics.EntityTracker,
	ranking *analytics.Ranking,
	store PostStore,
	eventBus *nats.Conn,
	metrics *monitoring.Metrics,
	logger zerolog.Logger,
	config PipelineConfig,
) *Engine {
	if config.Workers <= 0 {
		config.Workers = 8
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	return &Engine{
		config:   config,
		ledger:   ledger,
		agg:      agg,
		entities: entities,
		ranking:  ranking,
		store:    store,
		eventBus: eventBus,
		metrics:  metrics,
		logger:   logger.With().Str("component", "pipeline").Logger(),
		clock:    time.Now,
	}
}

// Start subscribes to the raw post topic and launches the worker pool.
func (e *Engine) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)

	e.workers = make([]chan RawPost, e.config.Workers)
	for i := range e.workers {
		e.workers[i] = make(chan RawPost, e.config.QueueSize)
		e.wg.Add(1)
		go e.worker(ctx, e.workers[i])
	}

	if e.eventBus != nil && e.config.RawTopic != "" {
		sub, err := e.eventBus.Subscribe(e.config.RawTopic, func(msg *nats.Msg) {
			var raw RawPost
			if err := json.Unmarshal(msg.Data, &raw); err != nil {
				e.metrics.ValidationDrops.Inc()
				e.logger.Warn().Err(err).Msg("Dropping undecodable raw post")
				return
			}
			e.dispatch(raw)
		})
		if err != nil {
			return fmt.Errorf("error subscribing to %s: %w", e.config.RawTopic, err)
		}
		e.sub = sub
	}

	return nil
}

// Stop drains the workers. In-flight mutations are fast and in-memory, so
// they finish before the pool halts.
func (e *Engine) Stop(ctx context.Context) error {
	if e.sub != nil {
		if err := e.sub.Unsubscribe(); err != nil {
			e.logger.Warn().Err(err).Msg("Error unsubscribing raw post consumer")
		}
	}

	// Unsubscribe does not wait for an in-flight callback; the closed flag
	// keeps a late dispatch off the channels being closed.
	e.dispatchMu.Lock()
	e.closed = true
	for _, ch := range e.workers {
		close(ch)
	}
	e.dispatchMu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if e.cancel != nil {
		e.cancel()
	}
	return nil
}

// dispatch routes a raw post to the worker owning its identity. The hash
// is the per-key serialization point of the pipeline. Deliveries arriving
// behind the shutdown unsubscribe are dropped.
func (e *Engine) dispatch(raw RawPost) {
	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()
	if e.closed {
		return
	}
	h := fnv.New32a()
	h.Write([]byte(raw.Source))
	h.Write([]byte{0})
	h.Write([]byte(raw.ExternalID))
	e.workers[h.Sum32()%uint32(len(e.workers))] <- raw
}

func (e *Engine) worker(ctx context.Context, ch chan RawPost) {
	defer e.wg.Done()
	for raw := range ch {
		if _, err := e.Ingest(ctx, raw); err != nil {
			// Validation drops are already counted; nothing to retry.
			continue
		}
	}
}

// Ingest applies one delivered raw post end to end: normalize, compute
// derived metrics, take the ledger decision, then fold the result into the
// aggregates and rankings. Redeliveries are absorbed as Unchanged; material
// updates retract the prior contribution before reapplying, which keeps
// every aggregate exact under at-least-once delivery.
func (e *Engine) Ingest(ctx context.Context, raw RawPost) (post.Decision, error) {
	start := e.clock()
	now := start.UTC()

	p, err := Normalize(raw, now)
	if err != nil {
		e.metrics.ValidationDrops.Inc()
		e.logger.Warn().Err(err).
			Str("source", raw.Source).
			Str("external_id", raw.ExternalID).
			Msg("Dropping invalid post")
		return post.Decision{}, err
	}

	derived := analytics.Compute(p, now)
	decision := e.ledger.Apply(p, derived)
	e.metrics.IngestDecisions.WithLabelValues(decision.Kind.String()).Inc()

	switch decision.Kind {
	case post.DecisionUnchanged:
		// Duplicate delivery; nothing downstream moves.
		return decision, nil

	case post.DecisionUpdated:
		if err := e.agg.RetractPost(*decision.Previous, *decision.PreviousDerived); err != nil {
			e.metrics.StateCorruptions.Inc()
			e.logger.Error().Err(err).
				Str("source", p.Source).
				Str("external_id", p.ExternalID).
				Msg("Aggregate corruption detected, bucket state discarded")
		}
		e.entities.RetractPost(*decision.Previous)
	}

	e.agg.AddPost(p, derived)
	e.entities.AddPost(p)
	e.ranking.Upsert(p, derived)

	// Under per-key routing no other writer can have advanced this
	// identity while we held it; a moved revision is a concurrency bug.
	if rev := e.ledger.Revision(p.ID()); rev != decision.Revision {
		e.metrics.RevisionConflicts.Inc()
		e.logger.Error().
			Str("source", p.Source).
			Str("external_id", p.ExternalID).
			Int64("expected", decision.Revision).
			Int64("observed", rev).
			Msg("Revision conflict: per-key serialization violated")
	}

	if e.store != nil {
		if err := e.store.UpsertPost(ctx, p, derived, decision.Revision); err != nil {
			e.logger.Error().Err(err).
				Str("external_id", p.ExternalID).
				Msg("Failed to persist post row")
		}
	}

	e.publishProcessed(p, derived, decision)
	e.checkAlerts(p, derived)

	e.metrics.TrackedPosts.Set(float64(e.ledger.Len()))
	e.metrics.ProcessingTime.Observe(e.clock().Sub(start).Seconds())
	return decision, nil
}

// publishProcessed re-publishes the enriched post for live consumers.
func (e *Engine) publishProcessed(p post.Post, d post.Derived, decision post.Decision) {
	if e.eventBus == nil || e.config.ProcessedTopic == "" {
		return
	}
	event := map[string]interface{}{
		"decision":           decision.Kind.String(),
		"revision":           decision.Revision,
		"source":             p.Source,
		"external_id":        p.ExternalID,
		"title":              p.Title,
		"score":              p.Score,
		"num_comments":       p.NumComments,
		"sentiment_score":    p.SentimentScore,
		"sentiment_category": d.SentimentCategory,
		"viral_score":        p.ViralScore,
		"viral_category":     d.ViralCategory,
		"velocity":           d.Velocity,
		"engagement_rate":    d.EngagementRate,
		"content_type":       d.ContentType,
		"is_high_performer":  d.IsHighPerformer,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := e.eventBus.Publish(e.config.ProcessedTopic, data); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to publish processed post")
	}
}

// checkAlerts publishes alert events for posts crossing the viral or
// sentiment-spike thresholds.
func (e *Engine) checkAlerts(p post.Post, d post.Derived) {
	if e.eventBus == nil || e.config.AlertsTopic == "" {
		return
	}

	publish := func(alertType string, payload map[string]interface{}) {
		payload["type"] = alertType
		payload["source"] = p.Source
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		if err := e.eventBus.Publish(e.config.AlertsTopic, data); err != nil {
			e.logger.Warn().Err(err).Str("alert", alertType).Msg("Failed to publish alert")
			return
		}
		e.metrics.AlertsPublished.WithLabelValues(alertType).Inc()
	}

	if p.ViralScore >= 0.8 {
		publish("viral", map[string]interface{}{
			"title":       truncate(p.Title, 100),
			"viral_score": p.ViralScore,
			"url":         p.URL,
		})
	}
	if p.SentimentScore >= 0.8 || p.SentimentScore <= -0.8 {
		publish("sentiment_spike", map[string]interface{}{
			"title":     truncate(p.Title, 100),
			"sentiment": p.SentimentScore,
			"category":  d.SentimentCategory,
		})
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
