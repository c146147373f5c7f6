// internal/service/analytics/publisher.go

package analytics

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"socialpulse/internal/domain/trend"
	"socialpulse/internal/monitoring"
)

// PublisherConfig contains configuration for the snapshot publisher.
type PublisherConfig struct {
	Cadences       map[trend.Granularity]time.Duration
	Retention      map[trend.Granularity]time.Duration
	TopEntityCount int
	MaxAttempts    int
	BackoffBase    time.Duration
	CycleTopic     string
}

// Publisher materializes aggregator, entity and ranking state into
// immutable snapshot records on a fixed cadence per granularity. The
// in-memory state stays authoritative: a failed publish delays data but
// never loses it, the next cycle simply tries again.
type Publisher struct {
	config   PublisherConfig
	agg      *Aggregator
	entities *EntityTracker
	ranking  *Ranking
	store    trend.SnapshotStore
	eventBus *nats.Conn
	breaker  *gobreaker.CircuitBreaker
	metrics  *monitoring.Metrics
	logger   zerolog.Logger
	clock    func() time.Time
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// NewPublisher creates a snapshot publisher.
func NewPublisher(
	agg *Aggregator,
	entities *EntityTracker,
	ranking *Ranking,
	store trend.SnapshotStore,
	eventBus *nats.Conn,
	metrics *monitoring.Metrics,
	logger zerolog.Logger,
	config PublisherConfig,
) *Publisher {
	if config.Cadences == nil {
		config.Cadences = map[trend.Granularity]time.Duration{
			trend.GranularityHour: time.Hour,
			trend.GranularityDay:  24 * time.Hour,
		}
	}
	if config.Retention == nil {
		config.Retention = map[trend.Granularity]time.Duration{
			trend.GranularityHour: 48 * time.Hour,
			trend.GranularityDay:  14 * 24 * time.Hour,
		}
	}
	if config.TopEntityCount <= 0 {
		config.TopEntityCount = 20
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 500 * time.Millisecond
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "snapshot-store",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Publisher{
		config:   config,
		agg:      agg,
		entities: entities,
		ranking:  ranking,
		store:    store,
		eventBus: eventBus,
		breaker:  breaker,
		metrics:  metrics,
		logger:   logger.With().Str("component", "publisher").Logger(),
		clock:    time.Now,
	}
}

// Start launches one publish loop per configured granularity.
func (p *Publisher) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)
	for g, cadence := range p.config.Cadences {
		p.wg.Add(1)
		go p.run(ctx, g, cadence)
	}
	return nil
}

// Stop cancels the publish loops and waits for in-flight cycles.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) run(ctx context.Context, g trend.Granularity, cadence time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Cycle(ctx, g)
		}
	}
}

// Cycle runs one publish pass for a granularity: sweep aged ranking
// entries, materialize every live bucket of the granularity, emit top
// entities, broadcast the cycle event, then evict buckets past retention.
func (p *Publisher) Cycle(ctx context.Context, g trend.Granularity) {
	now := p.clock().UTC()

	swept := p.ranking.Sweep(now)
	if swept > 0 {
		p.logger.Debug().Int("evicted", swept).Msg("Swept aged ranking entries")
	}

	published := 0
	for _, key := range p.agg.Keys() {
		if key.Granularity != g {
			continue
		}
		stats, ok := p.agg.StatsFor(key)
		if !ok {
			continue
		}
		snap := trend.Snapshot{
			ID:           uuid.NewString(),
			SnapshotTime: now,
			Stats:        stats,
		}
		if err := p.persist(ctx, func() error { return p.store.SaveSnapshot(ctx, snap) }); err != nil {
			p.logger.Error().Err(err).
				Str("source", key.Source).
				Str("granularity", string(key.Granularity)).
				Time("bucket_start", key.Start).
				Msg("Snapshot publish abandoned, state retained for next cycle")
			continue
		}
		published++
		p.metrics.SnapshotsWritten.WithLabelValues(string(g)).Inc()
	}

	entities := p.entities.TopEntities(g, g.BucketStart(now), p.config.TopEntityCount)
	if len(entities) > 0 {
		err := p.persist(ctx, func() error {
			return p.store.SaveTopEntities(ctx, now, entities)
		})
		if err != nil {
			p.logger.Error().Err(err).Msg("Top entity publish abandoned")
		}
	}

	p.publishCycleEvent(g, now)

	evicted := p.agg.EvictBefore(g, now.Add(-p.config.Retention[g]))
	evicted += p.entities.EvictBefore(g, now.Add(-p.config.Retention[g]))
	p.metrics.LiveBuckets.Set(float64(len(p.agg.Keys())))

	p.logger.Info().
		Str("granularity", string(g)).
		Int("snapshots", published).
		Int("entities", len(entities)).
		Int("evicted", evicted).
		Msg("Publish cycle complete")
}

// persist runs a store write behind the circuit breaker with bounded
// exponential backoff. Exhaustion surfaces as a metric, never a crash.
func (p *Publisher) persist(ctx context.Context, write func() error) error {
	var lastErr error
	backoff := p.config.BackoffBase
	for attempt := 0; attempt < p.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			p.metrics.PublishRetries.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		_, lastErr = p.breaker.Execute(func() (interface{}, error) {
			return nil, write()
		})
		if lastErr == nil {
			return nil
		}
	}
	p.metrics.PublishFailures.Inc()
	return lastErr
}

// publishCycleEvent broadcasts the current ranked lists for real-time
// consumers. Best effort: the durable contract is the store, not the bus.
func (p *Publisher) publishCycleEvent(g trend.Granularity, now time.Time) {
	if p.eventBus == nil || p.config.CycleTopic == "" {
		return
	}

	rankings := make(map[string]map[string][]trend.RankedPost)
	for _, source := range p.ranking.Sources() {
		rankings[source] = make(map[string][]trend.RankedPost)
		for _, metric := range trend.Metrics {
			rankings[source][string(metric)] = p.ranking.Top(source, metric, 10)
		}
	}

	event := map[string]interface{}{
		"type":        "trend_cycle",
		"granularity": g,
		"time":        now,
		"rankings":    rankings,
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to marshal cycle event")
		return
	}
	if err := p.eventBus.Publish(p.config.CycleTopic, data); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to publish cycle event")
	}
}
