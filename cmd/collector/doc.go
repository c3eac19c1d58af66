// Package main is the entry point of the tracepipe collector.
//
// The collector accepts trace data from agents, indexes it into chunks
// and serves them for search.
//
// Architecture:
//
//	Agent (HTTP)  → /agent/*   ┐
//	                           ├→ Collector → ChunkStore (memory|sqlite)
//	Agent (TCP)   → framed CBOR┘       └→ /stream (WebSocket feed)
//
// The server provides:
//   - Agent protocol over HTTP and framed TCP
//   - REST API for chunk search and call trees
//   - WebSocket feed of newly stored chunks
//   - Prometheus metrics on /metrics
//
// Configuration:
//   - Environment variables (12-factor)
//   - A YAML or TOML file given with --config
//   - CLI flags (override both)
//
// Usage:
//
//	# In-memory store on the default port
//	./collector
//
//	# Persistent store, framed listener, debug logs
//	./collector --store sqlite --store-path /var/lib/tracepipe.db --tcp :8641 --dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
