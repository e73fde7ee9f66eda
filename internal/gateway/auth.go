package gateway

import (
	"errors"
	"net/http"

	"github.com/GriffinCanCode/librarian/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HeaderSubject carries the verified token subject to upstream.
const HeaderSubject = "X-Authenticated-Subject"

const subjectKey = "auth_subject"

// authenticate lets public paths through and otherwise requires a valid
// bearer token. Rejected requests never reach the relay.
func (g *Gateway) authenticate(c *gin.Context) {
	// Clients must not be able to assert a subject themselves.
	c.Request.Header.Del(HeaderSubject)

	if g.public.Match(c.Request.URL.Path) {
		c.Next()
		return
	}

	token, err := auth.BearerToken(c.GetHeader("Authorization"))
	if err != nil {
		g.reject(c, "missing", err)
		return
	}

	claims, err := g.verifier.Verify(token)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, auth.ErrTokenExpired) {
			reason = "expired"
		}
		g.reject(c, reason, err)
		return
	}

	c.Set(subjectKey, claims.Subject)
	c.Next()
}

func (g *Gateway) reject(c *gin.Context, reason string, err error) {
	message := auth.ErrTokenInvalid.Error()
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		message = auth.ErrMissingToken.Error()
	case errors.Is(err, auth.ErrTokenExpired):
		message = auth.ErrTokenExpired.Error()
	}

	if g.metrics != nil {
		g.metrics.RecordAuthRejection(reason)
	}
	g.logger.Debug("request rejected",
		zap.String("reason", reason),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)

	_ = c.Error(err)
	c.Header("WWW-Authenticate", `Bearer realm="gateway"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}

func subjectOf(c *gin.Context) string {
	return c.GetString(subjectKey)
}
