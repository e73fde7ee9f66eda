package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/librarian/internal/gateway"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/config"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/logging"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/tracing"
)

const gatewayName = "gateway"

// GatewayServer runs the authenticating gateway.
type GatewayServer struct {
	gateway *gateway.Gateway
	logger  *logging.Logger
	config  *config.Config
	tracer  *tracing.Tracer
}

// NewGatewayServer creates the gateway from configuration.
func NewGatewayServer(cfg *config.Config) (*GatewayServer, error) {
	logger := logging.NewFromSettings(cfg.Logging.Level, cfg.Logging.Development)
	return newGatewayServer(cfg, logger)
}

func newGatewayServer(cfg *config.Config, logger *logging.Logger) (*GatewayServer, error) {
	if err := cfg.ValidateGateway(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Info("Initializing gateway",
		zap.String("port", cfg.Gateway.Port),
		zap.String("upstream", cfg.Gateway.UpstreamURL),
	)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics := monitoring.NewMetrics(gatewayName)
	tracer := tracing.New(gatewayName, logger)
	breakers := NewBreakers(cfg.Breaker, logger, metrics)

	gw, err := gateway.New(gateway.ConfigFrom(cfg),
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
		gateway.WithTracer(tracer),
		gateway.WithBreakers(breakers),
	)
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	return &GatewayServer{
		gateway: gw,
		logger:  logger,
		config:  cfg,
		tracer:  tracer,
	}, nil
}

// Handler returns the HTTP handler of the gateway.
func (s *GatewayServer) Handler() http.Handler {
	return s.gateway.Handler()
}

// Run serves until ctx is cancelled.
func (s *GatewayServer) Run(ctx context.Context) error {
	addr := s.config.Gateway.Host + ":" + s.config.Gateway.Port
	return Serve(ctx, s.logger, addr, s.gateway.Handler(), s.config.Server.ShutdownTimeout)
}

// Close releases upstream connections, flushes spans and syncs the logger.
func (s *GatewayServer) Close() error {
	s.logger.Info("Shutting down gateway...")
	s.gateway.Close()
	s.tracer.Close()
	s.logger.Sync()
	return nil
}
