// internal/server/server.go

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"socialpulse/internal/config"
	"socialpulse/internal/domain/trend"
	"socialpulse/internal/server/handlers"
)

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router *chi.Mux
}

// NewServer creates a new HTTP server exposing the read-only analytics API.
func NewServer(
	cfg config.ServerConfig,
	natsCfg config.NATSConfig,
	natsConn *nats.Conn,
	aggregator trend.Aggregator,
	entities trend.Entities,
	rankings trend.Rankings,
	snapshotStore trend.SnapshotStore,
	promRegistry *prometheus.Registry,
) *Server {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Create handler dependencies
	trendHandler := handlers.NewTrendHandler(aggregator, entities, rankings, snapshotStore)

	// Routes
	router.Route("/api", func(r chi.Router) {
		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		// API version
		r.Route("/v1", func(r chi.Router) {
			// Trends API
			r.Route("/trends", func(r chi.Router) {
				r.Get("/", trendHandler.GetTrends)
				r.Get("/history", trendHandler.GetTrendHistory)
			})

			// Posts API
			r.Route("/posts", func(r chi.Router) {
				r.Get("/top", trendHandler.GetTopPosts)
			})

			// Entities API
			r.Get("/entities", trendHandler.GetEntities)

			// Overall stats
			r.Get("/stats", trendHandler.GetStats)
		})
	})

	// Prometheus metrics
	router.Method("GET", "/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	// WebSocket endpoint for the real-time feed
	router.Get("/ws/live", handlers.LiveFeedHandler(
		natsConn,
		natsCfg.ProcessedTopic,
		natsCfg.AlertsTopic,
		natsCfg.CycleTopic,
	))

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{
		server: httpServer,
		router: router,
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
