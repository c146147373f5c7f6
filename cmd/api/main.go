// cmd/api/main.go

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"socialpulse/internal/adapter/storage"
	"socialpulse/internal/config"
	"socialpulse/internal/domain/trend"
	"socialpulse/internal/monitoring"
	"socialpulse/internal/server"
	"socialpulse/internal/service/analytics"
	"socialpulse/internal/service/ingest"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Console logging in development, JSON elsewhere
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Initialize dependencies
	db, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	natsConn, err := initNATS(cfg.NATS)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer natsConn.Close()

	// Prometheus registry and engine metrics
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	metrics := monitoring.NewMetrics(promRegistry)

	// Initialize storage adapters
	postStore := storage.NewPostStore(db)
	snapshotStore := storage.NewSnapshotStore(db)

	// Initialize analytics state
	aggregator := analytics.NewAggregator(analytics.AggregatorConfig{
		Granularities: cfg.Aggregate.Granularities,
		KeywordCap:    cfg.Aggregate.KeywordCap,
	})
	entityTracker := analytics.NewEntityTracker(cfg.Aggregate.Granularities, cfg.Aggregate.EntityCap)
	ranking := analytics.NewRanking(analytics.RankingConfig{
		TopK:         cfg.Ranking.TopK,
		TopThreshold: cfg.Ranking.TopThreshold,
		HorizonHours: cfg.Ranking.HorizonHours,
	})

	// Initialize the ingest pipeline
	engine := ingest.NewEngine(
		ingest.NewLedger(),
		aggregator,
		entityTracker,
		ranking,
		postStore,
		natsConn,
		metrics,
		log.Logger,
		ingest.PipelineConfig{
			Workers:        cfg.Pipeline.Workers,
			QueueSize:      cfg.Pipeline.QueueSize,
			RawTopic:       cfg.NATS.RawTopic,
			ProcessedTopic: cfg.NATS.ProcessedTopic,
			AlertsTopic:    cfg.NATS.AlertsTopic,
		},
	)

	// Initialize the snapshot publisher
	publisher := analytics.NewPublisher(
		aggregator,
		entityTracker,
		ranking,
		snapshotStore,
		natsConn,
		metrics,
		log.Logger,
		analytics.PublisherConfig{
			Cadences: map[trend.Granularity]time.Duration{
				trend.GranularityHour: cfg.Snapshot.HourlyCadence,
				trend.GranularityDay:  cfg.Snapshot.DailyCadence,
			},
			Retention: map[trend.Granularity]time.Duration{
				trend.GranularityHour: cfg.Snapshot.HourRetention,
				trend.GranularityDay:  cfg.Snapshot.DayRetention,
			},
			TopEntityCount: cfg.Snapshot.TopEntityCount,
			MaxAttempts:    cfg.Snapshot.MaxAttempts,
			BackoffBase:    cfg.Snapshot.BackoffBase,
			CycleTopic:     cfg.NATS.CycleTopic,
		},
	)

	// Start the pipeline and publisher
	if err := engine.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start ingest pipeline")
	}
	if err := publisher.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start snapshot publisher")
	}

	// Initialize HTTP server
	httpServer := server.NewServer(
		cfg.Server,
		cfg.NATS,
		natsConn,
		aggregator,
		entityTracker,
		ranking,
		snapshotStore,
		promRegistry,
	)

	// Start HTTP server
	go func() {
		log.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for shutdown signal
	<-shutdown
	log.Info().Msg("Shutdown signal received")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Graceful shutdown
	log.Info().Msg("Shutting down services...")

	// Shutdown HTTP server
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown error")
	}

	// Drain the pipeline so in-flight mutations finish
	if err := engine.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Pipeline shutdown error")
	}

	// Stop the snapshot publisher; pending publishes are retried on restart
	if err := publisher.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Publisher shutdown error")
	}

	log.Info().Msg("Shutdown complete")
}

// Initialize database connection
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.MaxLifetime

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	// Test connection
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return db, nil
}

// Initialize NATS connection
func initNATS(cfg config.NATSConfig) (*nats.Conn, error) {
	options := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	return nc, nil
}
