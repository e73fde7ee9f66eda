/*
Package tracing provides lightweight request tracing for the gateway and the
lending service.

# Overview

Spans are created per HTTP request and per upstream relay, linked by trace and
parent span IDs, and written to the structured log by a background collector.
The gateway forwards the trace context upstream so one trace covers both
processes.

# Usage

	tracer := tracing.New("gateway", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "upstream.relay")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()
	tracing.InjectTraceContext(ctx, outbound.Header)

# Trace Format

Traces use HTTP headers for propagation:
  - X-Trace-ID: identifier for the entire request flow (trc_<ulid>)
  - X-Span-ID: identifier for the current operation (spn_<ulid>)

# Performance

Spans are buffered (1000) and logged asynchronously; a full buffer drops spans
rather than blocking requests.
*/
package tracing
