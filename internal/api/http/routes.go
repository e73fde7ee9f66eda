package http

import (
	"github.com/GriffinCanCode/librarian/internal/infrastructure/monitoring"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the lending API on router.
func RegisterRoutes(router *gin.Engine, h *Handlers, metrics *monitoring.Metrics) {
	router.GET("/", h.Root)
	router.GET("/health", h.Health)

	if metrics != nil {
		exposition := metrics.Handler()
		router.GET("/metrics", func(c *gin.Context) {
			metrics.SyncBreakers(h.breakers.Snapshot())
			exposition.ServeHTTP(c.Writer, c.Request)
		})
	}

	v1 := router.Group("/api/v1")
	{
		v1.POST("/borrow", h.Borrow)
		v1.POST("/return", h.Return)
		v1.GET("/borrow/history", h.History)
		v1.GET("/users/:id/history", h.UserHistory)
		v1.GET("/breakers", h.Breakers)
	}
}
