package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/GriffinCanCode/librarian/internal/infrastructure/resilience"
	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// readinessPath is probed relative to the upstream base URL.
const readinessPath = "health"

func newProbe(upstream *url.URL, timeout time.Duration) *resty.Client {
	// Probes are single-shot; the breaker decides when to try again.
	pooled := retryablehttp.NewClient()

	return resty.New().
		SetTransport(pooled.HTTPClient.Transport).
		SetBaseURL(upstream.String()).
		SetTimeout(timeout).
		SetHeader("User-Agent", "librarian-gateway").
		SetRetryCount(0)
}

func (g *Gateway) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "gateway",
	})
}

// ready reports whether upstream answers its health check. Probes go
// through the upstream breaker, so a failing upstream is not hammered.
func (g *Gateway) ready(c *gin.Context) {
	start := time.Now()
	check := g.breakers.Guard(resilience.Upstream, func(ctx context.Context) error {
		resp, err := g.probe.R().SetContext(ctx).Get(readinessPath)
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("upstream health returned %d", resp.StatusCode())
		}
		return nil
	})
	err := check(c.Request.Context())

	state := g.breakers.Get(resilience.Upstream).State().String()
	if err != nil {
		g.logger.Warn("upstream not ready", zap.Error(err), zap.String("breaker", state))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unavailable",
			"breaker": state,
			"detail":  describe(c.Request.Context(), err, g.timeout),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ready",
		"breaker":    state,
		"latency_ms": time.Since(start).Milliseconds(),
	})
}
