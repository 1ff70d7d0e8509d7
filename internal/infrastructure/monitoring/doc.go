/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics collection for the trayfold
daemon, tracking fold state transitions, tray scans, relocations, and the
control API.

# Features

- HTTP request metrics (latency, throughput)
- Fold state metrics (transitions, refusals, forced recoveries)
- Scan metrics (duration, item counts, cache hit rates)
- Relocation outcome metrics
- WebSocket connection metrics
- System metrics (uptime)

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics()

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Record domain metrics
	metrics.RecordTransition("hidden", true)
	metrics.RecordRefusal()

	// Time scans
	started := time.Now()
	// ... enumerate ...
	metrics.RecordScan("owners", time.Since(started), len(owners))

# Metrics Endpoint

Expose metrics via the standard Prometheus endpoint:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
