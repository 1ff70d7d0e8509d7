/*
Package tracing provides lightweight operation tracing for debugging.

# Overview

This package implements span-based tracing for the trayfold daemon. It follows
OpenTelemetry concepts but with a minimal implementation tailored to a local
desktop daemon: spans land in the structured log rather than an external
collector.

# Features

- Trace context propagation via HTTP headers
- Span creation and management with parent-child relationships
- Automatic trace ID generation
- HTTP middleware for automatic instrumentation
- Structured logging integration
- Low overhead with buffered span collection

# Usage

	// Create tracer
	tracer := tracing.New("trayfoldd", logger)

	// HTTP middleware
	router.Use(tracing.HTTPMiddleware(tracer))

	// Manual span creation
	span, ctx := tracer.StartSpan(ctx, "scan.owners")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

	span.SetTag("cache", "miss")

# Trace Format

Traces use standard HTTP headers for propagation:
- X-Trace-ID: Unique identifier for entire request flow
- X-Span-ID: Identifier for current operation

# Performance

The tracing system is designed for minimal overhead:
- Buffered span collection (1000 spans)
- Async span processing
- Completed spans log at debug level
*/
package tracing
