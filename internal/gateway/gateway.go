package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/GriffinCanCode/librarian/internal/api/middleware"
	"github.com/GriffinCanCode/librarian/internal/auth"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/config"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/logging"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/tracing"
	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Config holds what the gateway needs to run.
type Config struct {
	UpstreamURL     string
	Secret          string
	PublicPaths     []string
	UpstreamTimeout time.Duration

	RateLimitEnabled bool
	RateLimit        middleware.RateLimitConfig
	CORS             middleware.CORSConfig
}

// ConfigFrom extracts the gateway settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	rl := middleware.DefaultRateLimitConfig()
	rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
	rl.Burst = cfg.RateLimit.Burst

	return Config{
		UpstreamURL:      cfg.Gateway.UpstreamURL,
		Secret:           cfg.Gateway.Secret,
		PublicPaths:      cfg.Gateway.PublicPaths,
		UpstreamTimeout:  cfg.Gateway.UpstreamTimeout,
		RateLimitEnabled: cfg.RateLimit.Enabled,
		RateLimit:        rl,
		CORS:             middleware.DefaultCORSConfig(),
	}
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithTracer sets the tracer. The caller keeps ownership.
func WithTracer(t *tracing.Tracer) Option {
	return func(g *Gateway) { g.tracer = t }
}

// WithBreakers sets the breaker registry guarding the readiness probe.
func WithBreakers(r *resilience.Registry) Option {
	return func(g *Gateway) { g.breakers = r }
}

// WithTransport replaces the upstream transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(g *Gateway) { g.transport = rt }
}

// Gateway authenticates requests and relays them to a single upstream.
type Gateway struct {
	upstream  *url.URL
	timeout   time.Duration
	verifier  *auth.Verifier
	public    *PublicPaths
	transport http.RoundTripper
	probe     *resty.Client

	logger     *logging.Logger
	metrics    *monitoring.Metrics
	tracer     *tracing.Tracer
	ownsTracer bool
	breakers   *resilience.Registry
	engine     *gin.Engine
	cfg        Config
}

// New builds a gateway relaying to cfg.UpstreamURL.
func New(cfg Config, opts ...Option) (*Gateway, error) {
	if cfg.Secret == "" {
		return nil, errors.New("gateway secret is required")
	}
	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("upstream URL must be absolute, got %q", cfg.UpstreamURL)
	}
	public, err := NewPublicPaths(cfg.PublicPaths)
	if err != nil {
		return nil, err
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 30 * time.Second
	}

	g := &Gateway{
		upstream: upstream,
		timeout:  cfg.UpstreamTimeout,
		verifier: auth.NewVerifier(cfg.Secret),
		public:   public,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.logger == nil {
		g.logger = logging.NewNop()
	}
	g.logger = g.logger.Named("gateway")
	if g.metrics == nil {
		g.metrics = monitoring.NewMetrics("gateway")
	}
	if g.tracer == nil {
		g.tracer = tracing.New("gateway", g.logger)
		g.ownsTracer = true
	}
	if g.breakers == nil {
		g.breakers = resilience.NewRegistry(resilience.WithObserver(g.metrics.ObserveBreaker))
	}
	g.breakers.Get(resilience.Upstream)
	if g.transport == nil {
		g.transport = newTransport(g.timeout)
	}
	g.probe = newProbe(upstream, g.timeout)
	g.engine = g.routes()

	g.logger.Info("Gateway configured",
		zap.String("upstream", upstream.Redacted()),
		zap.Strings("public_paths", public.Patterns()),
		zap.Duration("upstream_timeout", g.timeout),
	)

	return g, nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.engine
}

// Close releases idle upstream connections and flushes the tracer if the
// gateway created it.
func (g *Gateway) Close() {
	if t, ok := g.transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
	if g.ownsTracer {
		g.tracer.Close()
	}
}

func (g *Gateway) routes() *gin.Engine {
	router := gin.New()
	router.HandleMethodNotAllowed = false

	router.Use(middleware.Recovery(g.logger))
	router.Use(middleware.RequestID())
	router.Use(tracing.HTTPMiddleware(g.tracer))
	router.Use(monitoring.Middleware(g.metrics))
	router.Use(middleware.Logger(g.logger))
	router.Use(middleware.CORS(g.corsConfig()))
	if g.cfg.RateLimitEnabled {
		rl := g.cfg.RateLimit
		rl.OnLimited = func(c *gin.Context) {
			g.metrics.RecordRateLimited(c.Request.URL.Path)
		}
		router.Use(middleware.RateLimit(rl))
	}

	local := router.Group("/gateway")
	{
		local.GET("/health", g.health)
		local.GET("/ready", g.ready)
		local.GET("/metrics", gin.WrapH(g.metrics.Handler()))
	}

	router.NoRoute(g.authenticate, g.relay)

	return router
}

func (g *Gateway) corsConfig() middleware.CORSConfig {
	if len(g.cfg.CORS.AllowOrigins) == 0 {
		return middleware.DefaultCORSConfig()
	}
	return g.cfg.CORS
}
