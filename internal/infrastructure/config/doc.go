// Package config provides 12-factor configuration for the collector and agents.
//
// Configuration is loaded from environment variables with defaults. An
// optional YAML or TOML file can seed values that the environment does not
// set. CLI flags in cmd/ override both.
//
// Configuration Sections:
//   - Server: HTTP and framed TCP listeners
//   - Collector: shared secret and session eviction
//   - Store: chunk store kind, capacity and payload compression
//   - Tracer: capture thresholds (minimum trace/method time, overflow limit)
//   - Output: agent-side shipping (queue, batching, retries, backoff)
//   - Logging, RateLimit
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("collector on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
package config
