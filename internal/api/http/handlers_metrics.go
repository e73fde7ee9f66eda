package http

import (
	"github.com/GriffinCanCode/librarian/internal/api/middleware"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/librarian/internal/shared/errs"
	"github.com/gin-gonic/gin"
)

// HandlerMetrics records handler failures alongside the error response.
type HandlerMetrics struct {
	metrics *monitoring.Metrics
}

// NewHandlerMetrics creates a metrics wrapper
func NewHandlerMetrics(metrics *monitoring.Metrics) *HandlerMetrics {
	return &HandlerMetrics{metrics: metrics}
}

// Fail counts err by kind and writes it as the response.
func (hm *HandlerMetrics) Fail(c *gin.Context, err error) {
	if hm.metrics != nil {
		hm.metrics.RecordError(errs.KindOf(err).String())
	}
	middleware.AbortWithError(c, err)
}

// Snapshot returns the aggregate request counters, or nil without metrics.
func (hm *HandlerMetrics) Snapshot() *monitoring.MetricsSnapshot {
	if hm.metrics == nil {
		return nil
	}
	s := hm.metrics.Snapshot()
	return &s
}
