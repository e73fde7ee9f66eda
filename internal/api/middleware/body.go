package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MaxJSONSize is the largest request body the lending API accepts.
const MaxJSONSize = 1 * 1024 * 1024

// BodyLimit caps request bodies at limit bytes. Declared oversize bodies are
// refused with 413 before the handler runs; undeclared ones fail on read.
func BodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "request body too large",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
