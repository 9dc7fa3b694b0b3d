package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/krich11/kme-sub000/pkg/kmeservice"
	"github.com/krich11/kme-sub000/pkg/saeauth"
)

// Server holds the HTTP server dependencies.
type Server struct {
	Router    *chi.Mux
	Logger    *slog.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Metrics   *prometheus.Registry
	startedAt time.Time
}

// NewServer builds the chi router: global middleware, health/ready/
// metrics endpoints, then the mTLS-authenticated ETSI routes. There is
// no CORS middleware — this is a machine-to-machine API, not a browser
// client, and no SAE is ever a browser (DESIGN.md).
func NewServer(logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, registry saeauth.Registry, services *kmeservice.Services) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		DB:        db,
		Redis:     rdb,
		Metrics:   metricsReg,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.Router.Group(func(r chi.Router) {
		r.Use(saeauth.Middleware(registry, logger))
		mountETSIRoutes(r, services)
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("readiness check: database ping failed", "error", err)
		Respond(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "component": "database"})
		return
	}

	if s.Redis != nil {
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			s.Logger.Error("readiness check: redis ping failed", "error", err)
			Respond(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "component": "redis"})
			return
		}
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}
