/*
Package tracing instruments Go services with the pipeline's own tracer.

# Overview

A Tracer hands each request a trace.Builder carried in the context. Spans
opened on that context become frames of the request's record tree, and the
finished trace goes to the tracer's sink, usually an output worker.

# Usage

	tracer := tracing.New(trace.NewTracer(cfg, symbols, sink, logger), logger)

	// HTTP middleware
	router.Use(tracing.HTTPMiddleware(tracer))

	// Manual spans inside a handler
	span, ctx := tracer.StartSpan(c.Request.Context(), "checkout.Service", "charge")
	err := charge(ctx)
	span.Finish(err)

# Propagation

Trace context travels in two headers:
- X-Trace-ID: 32 hex characters identifying the whole request flow
- X-Span-ID: 16 hex characters identifying the calling span

A traced request carrying both continues the caller's trace with the caller's
span as parent.

Builders are not safe for concurrent use. Spans must be started and finished
on the request goroutine.
*/
package tracing
