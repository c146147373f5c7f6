// internal/config/config.go

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"socialpulse/internal/domain/trend"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	NATS        NATSConfig
	Pipeline    PipelineConfig
	Aggregate   AggregateConfig
	Ranking     RankingConfig
	Snapshot    SnapshotConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CorsOrigins     []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	SSLMode      string
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
	RawTopic       string
	ProcessedTopic string
	AlertsTopic    string
	CycleTopic     string
}

// PipelineConfig holds ingest pipeline configuration
type PipelineConfig struct {
	Workers   int
	QueueSize int
}

// AggregateConfig holds windowed aggregation configuration
type AggregateConfig struct {
	Granularities []trend.Granularity
	KeywordCap    int
	EntityCap     int
}

// RankingConfig holds top-N ranking configuration
type RankingConfig struct {
	TopK         int
	TopThreshold int
	HorizonHours float64
}

// SnapshotConfig holds snapshot publisher configuration
type SnapshotConfig struct {
	HourlyCadence  time.Duration
	DailyCadence   time.Duration
	HourRetention  time.Duration
	DayRetention   time.Duration
	TopEntityCount int
	MaxAttempts    int
	BackoffBase    time.Duration
}

// Load loads configuration from environment variables
func Load() (Config, error) {
	// Best effort; real env vars win over .env entries
	_ = godotenv.Load()

	config := Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CorsOrigins:     getEnvAsSlice("SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Database:     getEnv("DB_NAME", "socialpulse"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsDuration("DB_MAX_LIFETIME", 5*time.Minute),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
		},
		NATS: NATSConfig{
			URL:            getEnv("NATS_URL", "nats://localhost:4222"),
			MaxReconnects:  getEnvAsInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait:  getEnvAsDuration("NATS_RECONNECT_WAIT", 1*time.Second),
			ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", 2*time.Second),
			RawTopic:       getEnv("NATS_RAW_TOPIC", "posts.raw"),
			ProcessedTopic: getEnv("NATS_PROCESSED_TOPIC", "posts.processed"),
			AlertsTopic:    getEnv("NATS_ALERTS_TOPIC", "posts.alerts"),
			CycleTopic:     getEnv("NATS_CYCLE_TOPIC", "trends.cycle"),
		},
		Pipeline: PipelineConfig{
			Workers:   getEnvAsInt("PIPELINE_WORKERS", 8),
			QueueSize: getEnvAsInt("PIPELINE_QUEUE_SIZE", 256),
		},
		Aggregate: AggregateConfig{
			Granularities: parseGranularities(getEnvAsSlice("AGGREGATE_GRANULARITIES", []string{"hour", "day"})),
			KeywordCap:    getEnvAsInt("AGGREGATE_KEYWORD_CAP", 50),
			EntityCap:     getEnvAsInt("AGGREGATE_ENTITY_CAP", 100),
		},
		Ranking: RankingConfig{
			TopK:         getEnvAsInt("RANKING_TOP_K", 100),
			TopThreshold: getEnvAsInt("RANKING_TOP_THRESHOLD", 10),
			HorizonHours: getEnvAsFloat("RANKING_HORIZON_HOURS", 48),
		},
		Snapshot: SnapshotConfig{
			HourlyCadence:  getEnvAsDuration("SNAPSHOT_HOURLY_CADENCE", 1*time.Hour),
			DailyCadence:   getEnvAsDuration("SNAPSHOT_DAILY_CADENCE", 24*time.Hour),
			HourRetention:  getEnvAsDuration("SNAPSHOT_HOUR_RETENTION", 48*time.Hour),
			DayRetention:   getEnvAsDuration("SNAPSHOT_DAY_RETENTION", 14*24*time.Hour),
			TopEntityCount: getEnvAsInt("SNAPSHOT_TOP_ENTITIES", 20),
			MaxAttempts:    getEnvAsInt("SNAPSHOT_MAX_ATTEMPTS", 5),
			BackoffBase:    getEnvAsDuration("SNAPSHOT_BACKOFF_BASE", 500*time.Millisecond),
		},
	}

	return config, validate(config)
}

// validate checks if config is valid
func validate(config Config) error {
	if config.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline workers must be positive")
	}
	if config.Ranking.TopThreshold > config.Ranking.TopK {
		return fmt.Errorf("ranking top threshold cannot exceed top K")
	}
	if len(config.Aggregate.Granularities) == 0 {
		return fmt.Errorf("at least one aggregate granularity is required")
	}
	return nil
}

func parseGranularities(values []string) []trend.Granularity {
	var out []trend.Granularity
	for _, v := range values {
		switch strings.TrimSpace(v) {
		case "hour":
			out = append(out, trend.GranularityHour)
		case "day":
			out = append(out, trend.GranularityDay)
		}
	}
	return out
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
