package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/librarian/internal/api/http"
	"github.com/GriffinCanCode/librarian/internal/api/middleware"
	"github.com/GriffinCanCode/librarian/internal/domain/inventory"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/config"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/logging"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/storage"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/tracing"
)

const serviceName = "librarian"

// Server wraps the lending service and its dependencies
type Server struct {
	router   *gin.Engine
	pool     *storage.Pool
	breakers *resilience.Registry
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
}

// NewServer creates a new server instance
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	logger := logging.NewFromSettings(cfg.Logging.Level, cfg.Logging.Development)
	return newServer(ctx, cfg, logger)
}

func newServer(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Info("Initializing lending service",
		zap.String("port", cfg.Server.Port),
		zap.String("driver", cfg.Database.Driver),
		zap.Int("pool_max", cfg.Database.PoolMax),
	)

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics(serviceName)
	tracer := tracing.New(serviceName, logger)
	breakers := NewBreakers(cfg.Breaker, logger, metrics)

	pool, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	if cfg.Database.Migrate {
		if err := pool.Migrate(ctx); err != nil {
			pool.Close()
			tracer.Close()
			return nil, fmt.Errorf("failed to migrate storage: %w", err)
		}
		logger.Info("Storage schema is current")
	}
	metrics.ObservePool(serviceName,
		func() int { return pool.Stats().InUse },
		func() int { return pool.Stats().Open },
	)

	manager := inventory.NewManager(pool, breakers,
		inventory.WithLogger(logger),
		inventory.WithRecorder(metrics),
		inventory.WithStatementTimeout(cfg.Database.StatementTimeout),
	)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.BodyLimit(middleware.MaxJSONSize))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		rl.OnLimited = func(c *gin.Context) { metrics.RecordRateLimited(c.Request.URL.Path) }
		router.Use(middleware.RateLimit(rl))
	}

	handlers := apihttp.NewHandlers(manager, breakers, pool, metrics)
	apihttp.RegisterRoutes(router, handlers, metrics)

	logger.Info("Server initialized successfully")

	return &Server{
		router:   router,
		pool:     pool,
		breakers: breakers,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
		tracer:   tracer,
	}, nil
}

// Handler returns the HTTP handler of the service.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	return Serve(ctx, s.logger, addr, s.router, s.config.Server.ShutdownTimeout)
}

// Close releases storage, flushes spans and syncs the logger.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	var closeErr error
	if err := s.pool.Close(); err != nil {
		s.logger.Error("Failed to close storage pool", zap.Error(err))
		closeErr = fmt.Errorf("failed to close storage pool: %w", err)
	}
	s.tracer.Close()
	s.logger.Sync()

	return closeErr
}
