/*
Package monitoring provides Prometheus metrics for the collector and for the
agent-side output worker.

# Overview

Metrics are registered on an explicit registry so several collectors (or
tests) can live in one process. Every recording method accepts a nil
receiver, which lets core packages take an optional *Metrics.

# Metrics

- HTTP requests (count, latency, request size) per route template
- Ingest messages and bytes per kind and transport, protocol errors by reason
- Decode latency and chunks indexed
- Active and evicted agent sessions
- Store occupancy and evictions
- Output queue depth, dropped, lost, sent and retried records

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", monitoring.Handler(metrics))

	timer := monitoring.NewTimer(metrics)
	chunks := indexer.Index(data)
	timer.Stop(len(chunks))
*/
package monitoring
