package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/librarian/internal/api/middleware"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/tracing"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/net/http/httpguts"
)

// chunkSize is the relay copy buffer; every chunk is flushed to the client.
const chunkSize = 32 * 1024

// errUpstreamIdle cancels a relay whose upstream exchange went quiet.
var errUpstreamIdle = errors.New("upstream idle timeout")

// hopHeaders apply to a single connection and are never relayed. Any
// Proxy-* header and headers listed in Connection are dropped as well.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, chunkSize)
		return &b
	},
}

func newTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	}
}

// relay forwards the request to upstream and streams the response back.
func (g *Gateway) relay(c *gin.Context) {
	in := c.Request

	ctx, cancel := context.WithCancelCause(in.Context())
	defer cancel(nil)
	dog := newWatchdog(g.timeout, func() { cancel(errUpstreamIdle) })
	defer dog.stop()

	span, ctx := g.tracer.StartSpan(ctx, "upstream.relay")
	defer func() {
		span.Finish()
		g.tracer.Submit(span)
	}()

	target := g.target(in.URL)
	span.SetTag("http.method", in.Method)
	span.SetTag("upstream.path", target.EscapedPath())

	out, err := g.outboundRequest(ctx, c, target, dog)
	if err != nil {
		span.SetError(err)
		middleware.AbortWithError(c, err)
		return
	}

	start := time.Now()
	resp, err := g.transport.RoundTrip(out)
	if err != nil {
		span.SetError(err)
		if in.Context().Err() != nil {
			g.metrics.RecordUpstream("canceled", time.Since(start))
			c.Abort()
			return
		}
		g.metrics.RecordUpstream("error", time.Since(start))
		detail := describe(ctx, err, g.timeout)
		g.logger.Warn("upstream unreachable",
			zap.String("method", in.Method),
			zap.String("path", in.URL.Path),
			zap.String("detail", detail),
			zap.String("request_id", middleware.GetRequestID(c)),
		)
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error":  "gateway failed to reach upstream",
			"detail": detail,
		})
		return
	}
	defer resp.Body.Close()
	dog.kick()

	g.metrics.RecordUpstream(strconv.Itoa(resp.StatusCode), time.Since(start))
	span.SetStatus(resp.StatusCode)

	copyResponseHeader(c.Writer.Header(), resp)
	c.Status(resp.StatusCode)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	buf := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(buf)

	w := &flushWriter{w: c.Writer, dog: dog}
	n, err := io.CopyBuffer(w, &idleReader{r: resp.Body, dog: dog}, *buf)
	g.metrics.AddUpstreamBytes(n)
	span.SetTag("response.bytes", strconv.FormatInt(n, 10))
	if err == nil {
		return
	}

	span.SetError(err)
	if w.err != nil || in.Context().Err() != nil {
		g.logger.Debug("client went away during relay",
			zap.String("path", in.URL.Path),
			zap.Int64("bytes", n),
		)
		c.Abort()
		return
	}

	cause := err
	if why := context.Cause(ctx); why != nil {
		cause = why
	}
	g.logger.Warn("upstream body interrupted",
		zap.String("path", in.URL.Path),
		zap.Int64("bytes", n),
		zap.Error(cause),
	)
	// Headers are already on the wire; abort so the client sees a truncated
	// body instead of a clean end of stream.
	panic(http.ErrAbortHandler)
}

func (g *Gateway) outboundRequest(ctx context.Context, c *gin.Context, target *url.URL, dog *watchdog) (*http.Request, error) {
	in := c.Request

	var body io.Reader = http.NoBody
	if in.Body != nil && in.Body != http.NoBody && in.ContentLength != 0 {
		body = &idleReader{r: in.Body, dog: dog}
	}

	out, err := http.NewRequestWithContext(ctx, in.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if body != http.NoBody {
		out.ContentLength = in.ContentLength
	}

	copyHeader(out.Header, in.Header)
	removeHopHeaders(out.Header)
	if httpguts.HeaderValuesContainsToken(in.Header["Te"], "trailers") {
		out.Header.Set("Te", "trailers")
	}
	out.Header.Del("Host")
	// The transport negotiates compression with upstream itself.
	out.Header.Del("Accept-Encoding")

	setForwarded(out.Header, in)
	if rid := middleware.GetRequestID(c); rid != "" {
		out.Header.Set(middleware.HeaderRequestID, rid)
	}
	if subject := subjectOf(c); subject != "" {
		out.Header.Set(HeaderSubject, subject)
	}
	tracing.InjectTraceContext(ctx, out.Header)

	return out, nil
}

// target joins the request path onto the upstream base URL, keeping the
// escaped form and the raw query.
func (g *Gateway) target(in *url.URL) *url.URL {
	u := *g.upstream
	u.Path = singleJoiningSlash(g.upstream.Path, in.Path)
	if g.upstream.RawPath != "" || in.RawPath != "" {
		u.RawPath = singleJoiningSlash(g.upstream.EscapedPath(), in.EscapedPath())
	}
	switch {
	case u.RawQuery == "":
		u.RawQuery = in.RawQuery
	case in.RawQuery != "":
		u.RawQuery += "&" + in.RawQuery
	}
	return &u
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func removeHopHeaders(h http.Header) {
	for _, f := range h["Connection"] {
		for _, sf := range strings.Split(f, ",") {
			if sf = textproto.TrimString(sf); sf != "" && httpguts.ValidHeaderFieldName(sf) {
				h.Del(sf)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
	for k := range h {
		if strings.HasPrefix(k, "Proxy-") {
			delete(h, k)
		}
	}
}

// copyResponseHeader copies upstream headers minus framing. When the
// transport decoded gzip it already dropped Content-Encoding; otherwise the
// upstream value still describes the bytes being written.
func copyResponseHeader(dst http.Header, resp *http.Response) {
	removeHopHeaders(resp.Header)
	resp.Header.Del("Content-Length")

	for k, vv := range resp.Header {
		dst.Del(k)
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	if resp.ContentLength >= 0 && !resp.Uncompressed {
		dst.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
}

func setForwarded(h http.Header, in *http.Request) {
	if clientIP, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := in.Header.Values("X-Forwarded-For"); len(prior) > 0 {
			clientIP = strings.Join(prior, ", ") + ", " + clientIP
		}
		h.Set("X-Forwarded-For", clientIP)
	}
	h.Set("X-Forwarded-Host", in.Host)
	if in.TLS != nil {
		h.Set("X-Forwarded-Proto", "https")
	} else {
		h.Set("X-Forwarded-Proto", "http")
	}
}

// describe renders a transport failure for the 503 body.
func describe(ctx context.Context, err error, timeout time.Duration) string {
	var netErr net.Error
	if errors.Is(context.Cause(ctx), errUpstreamIdle) ||
		errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Sprintf("upstream did not respond within %s", timeout)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err.Error()
	}
	return err.Error()
}

// watchdog cancels the relay when no bytes moved for timeout.
type watchdog struct {
	timer   *time.Timer
	timeout time.Duration
}

func newWatchdog(timeout time.Duration, expire func()) *watchdog {
	return &watchdog{timer: time.AfterFunc(timeout, expire), timeout: timeout}
}

func (w *watchdog) kick() { w.timer.Reset(w.timeout) }

func (w *watchdog) stop() { w.timer.Stop() }

type idleReader struct {
	r   io.Reader
	dog *watchdog
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.dog.kick()
	}
	return n, err
}

// flushWriter pushes every chunk to the client. A blocked client write
// holds the upstream read, which is the relay's backpressure.
type flushWriter struct {
	w   gin.ResponseWriter
	dog *watchdog
	err error
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		f.err = err
		return n, err
	}
	f.w.Flush()
	f.dog.kick()
	return n, nil
}
