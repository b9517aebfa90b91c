package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vertextoedge/modelcache/internal/domain"
	"github.com/vertextoedge/modelcache/internal/service/loader"
)

// Config contains HTTP server configuration
type Config struct {
	BindAddr      string
	AdminUsername string
	AdminPassword string // empty leaves mutating routes unauthenticated
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:    "0.0.0.0:8080",
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
}

// Models is the model cache surface served over HTTP
type Models interface {
	Open(ctx context.Context, identity string) (*domain.Handle, error)
	Evict(ctx context.Context, identity string) (int, error)
	List(ctx context.Context) ([]domain.ObjectInfo, error)
	Start(ctx context.Context, src domain.Source, identity string, opts loader.Options) (*loader.Session, error)
	Session(id string) (*loader.Session, bool)
}

// Pinger checks backend health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server
type Server struct {
	config   *Config
	models   Models
	store    Pinger
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	server   *http.Server

	mu      sync.Mutex
	baseCtx context.Context
}

// New creates a new HTTP server. A nil gatherer serves the default registry.
func New(cfg *Config, models Models, store Pinger, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:   cfg,
		models:   models,
		store:    store,
		gatherer: gatherer,
		logger:   logger,
		baseCtx:  context.Background(),
	}

	if cfg.AdminPassword == "" {
		logger.Warn("admin password not set, mutating routes are unauthenticated")
	}

	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(s.logger))
	r.Use(middleware.Recoverer)

	admin := func(next http.Handler) http.Handler { return next }
	if s.config.AdminPassword != "" {
		admin = BasicAuthMiddleware(s.config.AdminUsername, s.config.AdminPassword, s.logger)
	}

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Get("/models/{name}", s.handleGetModel)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/models", s.handleListModels)
		r.With(admin).Delete("/models/{name}", s.handleDeleteModel)
		r.With(admin).Post("/loads", s.handleStartLoad)
		r.Get("/loads/{id}", s.handleGetLoad)
	})

	return r
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves HTTP until Stop is called. Loads started over the API
// inherit ctx, so canceling it cancels them.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loadContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}
