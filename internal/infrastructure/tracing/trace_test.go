package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/GriffinCanCode/librarian/internal/infrastructure/logging"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedTracer(t *testing.T) (*Tracer, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	tracer := New("test", &logging.Logger{Logger: zap.New(core)})
	return tracer, logs
}

func TestStartSpanInheritsTrace(t *testing.T) {
	tracer, _ := newObservedTracer(t)
	defer tracer.Close()

	parent, ctx := tracer.StartSpan(context.Background(), "parent")
	child, childCtx := tracer.StartSpan(ctx, "child")

	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentID)
	assert.Equal(t, child.SpanID, GetSpanID(childCtx))
	assert.Empty(t, parent.ParentID)
}

func TestInjectExtractRoundTrip(t *testing.T) {
	tracer, _ := newObservedTracer(t)
	defer tracer.Close()

	span, ctx := tracer.StartSpan(context.Background(), "relay")
	h := http.Header{}
	InjectTraceContext(ctx, h)

	extracted := ExtractTraceContext(context.Background(), h)
	assert.Equal(t, span.TraceID, GetTraceID(extracted))
	assert.Equal(t, span.SpanID, GetSpanID(extracted))
}

func TestCloseFlushesSpans(t *testing.T) {
	tracer, logs := newObservedTracer(t)

	span, _ := tracer.StartSpan(context.Background(), "borrow")
	span.SetError(errors.New("boom"))
	span.Finish()
	tracer.Submit(span)
	tracer.Close()

	entries := logs.FilterMessage("span completed with error").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "borrow", entries[0].ContextMap()["operation"])
	assert.EqualValues(t, http.StatusInternalServerError, entries[0].ContextMap()["status"])

	assert.NotPanics(t, func() { tracer.Submit(span) })
}

func TestHTTPMiddlewareContinuesInboundTrace(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer, logs := newObservedTracer(t)

	router := gin.New()
	router.Use(HTTPMiddleware(tracer))
	router.GET("/health", func(c *gin.Context) {
		assert.Equal(t, "trc_inbound", string(GetTraceID(c.Request.Context())))
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(HeaderTraceID, "trc_inbound")
	req.Header.Set(HeaderSpanID, "spn_caller")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	tracer.Close()

	assert.Equal(t, "trc_inbound", w.Header().Get(HeaderTraceID))
	assert.NotEqual(t, "spn_caller", w.Header().Get(HeaderSpanID))

	entries := logs.FilterMessage("span completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/health", fields["operation"])
	assert.Equal(t, "spn_caller", fields["parent_id"])
	assert.Equal(t, "204", fields["http.status"])
}
