package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all collector and agent configuration.
type Config struct {
	Server    ServerConfig
	Collector CollectorConfig
	Store     StoreConfig
	Tracer    TracerConfig
	Output    OutputConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds listener configuration.
type ServerConfig struct {
	Port    string `envconfig:"PORT" default:"8640"`
	Host    string `envconfig:"HOST" default:"0.0.0.0"`
	TCPAddr string `envconfig:"TCP_ADDR" default:""`
}

// CollectorConfig holds agent session handling configuration.
type CollectorConfig struct {
	AuthKey        string        `envconfig:"COLLECTOR_AUTH_KEY" default:""`
	SessionTimeout time.Duration `envconfig:"COLLECTOR_SESSION_TIMEOUT" default:"10m"`
	SweepInterval  time.Duration `envconfig:"COLLECTOR_SWEEP_INTERVAL" default:"1m"`
	MaxPayload     int64         `envconfig:"COLLECTOR_MAX_PAYLOAD" default:"16777216"`
}

// StoreConfig holds chunk store configuration.
type StoreConfig struct {
	Kind        string `envconfig:"STORE_KIND" default:"memory"`
	Path        string `envconfig:"STORE_PATH" default:"tracepipe.db"`
	MaxSize     int64  `envconfig:"STORE_MAX_SIZE" default:"268435456"`
	DeleteSize  int64  `envconfig:"STORE_DELETE_SIZE" default:"16777216"`
	Compression string `envconfig:"STORE_COMPRESSION" default:"lz4"`
}

// TracerConfig holds capture-side thresholds.
type TracerConfig struct {
	MinTraceTime  time.Duration `envconfig:"TRACER_MIN_TRACE_TIME" default:"50ms"`
	MinMethodTime time.Duration `envconfig:"TRACER_MIN_METHOD_TIME" default:"250us"`
	MaxRecords    int           `envconfig:"TRACER_MAX_RECORDS" default:"4096"`
	// DropInterim replaces pass-through frames by their only child.
	DropInterim   bool          `envconfig:"TRACER_DROP_INTERIM" default:"true"`
}

// OutputConfig holds agent-side shipping configuration.
type OutputConfig struct {
	URL         string        `envconfig:"OUTPUT_URL" default:"http://localhost:8640"`
	Transport   string        `envconfig:"OUTPUT_TRANSPORT" default:"http"`
	AuthKey     string        `envconfig:"OUTPUT_AUTH_KEY" default:""`
	QueueLength int           `envconfig:"OUTPUT_QUEUE_LENGTH" default:"64"`
	BatchSize   int           `envconfig:"OUTPUT_BATCH_SIZE" default:"16"`
	PacketSize  int           `envconfig:"OUTPUT_PACKET_SIZE" default:"4194304"`
	Retries     int           `envconfig:"OUTPUT_RETRIES" default:"10"`
	RetryTime   time.Duration `envconfig:"OUTPUT_RETRY_TIME" default:"125ms"`
	RetryExp    float64       `envconfig:"OUTPUT_RETRY_EXP" default:"2"`
	Timeout     time.Duration `envconfig:"OUTPUT_TIMEOUT" default:"60s"`
	Compression string        `envconfig:"OUTPUT_COMPRESSION" default:"zstd"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds ingest rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"500"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"1000"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate checks cross-field constraints that tags cannot express.
func (c *Config) Validate() error {
	if c.Store.MaxSize <= 0 {
		return fmt.Errorf("invalid config: STORE_MAX_SIZE must be positive")
	}
	if c.Store.DeleteSize <= 0 || c.Store.DeleteSize > c.Store.MaxSize {
		return fmt.Errorf("invalid config: STORE_DELETE_SIZE must be in (0, STORE_MAX_SIZE]")
	}
	if c.Tracer.MaxRecords <= 0 {
		return fmt.Errorf("invalid config: TRACER_MAX_RECORDS must be positive")
	}
	if c.Output.QueueLength <= 0 || c.Output.BatchSize <= 0 {
		return fmt.Errorf("invalid config: OUTPUT_QUEUE_LENGTH and OUTPUT_BATCH_SIZE must be positive")
	}
	if c.Output.RetryExp < 1 {
		return fmt.Errorf("invalid config: OUTPUT_RETRY_EXP must be >= 1")
	}
	switch c.Store.Kind {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("invalid config: unknown STORE_KIND %q", c.Store.Kind)
	}
	switch c.Output.Transport {
	case "http", "tcp":
	default:
		return fmt.Errorf("invalid config: unknown OUTPUT_TRANSPORT %q", c.Output.Transport)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8640",
			Host: "0.0.0.0",
		},
		Collector: CollectorConfig{
			SessionTimeout: 10 * time.Minute,
			SweepInterval:  time.Minute,
			MaxPayload:     16 << 20,
		},
		Store: StoreConfig{
			Kind:        "memory",
			Path:        "tracepipe.db",
			MaxSize:     256 << 20,
			DeleteSize:  16 << 20,
			Compression: "lz4",
		},
		Tracer: TracerConfig{
			MinTraceTime:  50 * time.Millisecond,
			MinMethodTime: 250 * time.Microsecond,
			MaxRecords:    4096,
			DropInterim:   true,
		},
		Output: OutputConfig{
			URL:         "http://localhost:8640",
			Transport:   "http",
			QueueLength: 64,
			BatchSize:   16,
			PacketSize:  4 << 20,
			Retries:     10,
			RetryTime:   125 * time.Millisecond,
			RetryExp:    2,
			Timeout:     60 * time.Second,
			Compression: "zstd",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 500,
			Burst:             1000,
			Enabled:           true,
		},
	}
}
