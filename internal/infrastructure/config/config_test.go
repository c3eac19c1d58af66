package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8640", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Empty(t, cfg.Server.TCPAddr)

	assert.Equal(t, 10*time.Minute, cfg.Collector.SessionTimeout)
	assert.Equal(t, "memory", cfg.Store.Kind)
	assert.Equal(t, int64(256<<20), cfg.Store.MaxSize)
	assert.Equal(t, 4096, cfg.Tracer.MaxRecords)
	assert.True(t, cfg.Tracer.DropInterim)
	assert.Equal(t, 10, cfg.Output.Retries)
	assert.Equal(t, 125*time.Millisecond, cfg.Output.RetryTime)

	require.NoError(t, cfg.Validate())
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                      "9000",
		"TCP_ADDR":                  ":9001",
		"COLLECTOR_SESSION_TIMEOUT": "30s",
		"STORE_KIND":                "sqlite",
		"STORE_MAX_SIZE":            "1048576",
		"STORE_DELETE_SIZE":         "4096",
		"TRACER_MIN_METHOD_TIME":    "1ms",
		"OUTPUT_TRANSPORT":          "tcp",
		"OUTPUT_RETRY_EXP":          "1.5",
		"LOG_LEVEL":                 "debug",
		"RATE_LIMIT_ENABLED":        "false",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, ":9001", cfg.Server.TCPAddr)
	assert.Equal(t, 30*time.Second, cfg.Collector.SessionTimeout)
	assert.Equal(t, "sqlite", cfg.Store.Kind)
	assert.Equal(t, int64(1048576), cfg.Store.MaxSize)
	assert.Equal(t, int64(4096), cfg.Store.DeleteSize)
	assert.Equal(t, time.Millisecond, cfg.Tracer.MinMethodTime)
	assert.Equal(t, "tcp", cfg.Output.Transport)
	assert.InDelta(t, 1.5, cfg.Output.RetryExp, 1e-9)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "delete quota above max", mutate: func(c *Config) { c.Store.DeleteSize = c.Store.MaxSize + 1 }, wantErr: true},
		{name: "zero max records", mutate: func(c *Config) { c.Tracer.MaxRecords = 0 }, wantErr: true},
		{name: "unknown store", mutate: func(c *Config) { c.Store.Kind = "redis" }, wantErr: true},
		{name: "unknown transport", mutate: func(c *Config) { c.Output.Transport = "udp" }, wantErr: true},
		{name: "shrinking backoff", mutate: func(c *Config) { c.Output.RetryExp = 0.5 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func unsetAfter(t *testing.T, keys ...string) {
	t.Cleanup(func() {
		for _, k := range keys {
			os.Unsetenv(k)
		}
	})
}

func TestLoadFileYAML(t *testing.T) {
	unsetAfter(t, "PORT", "STORE_MAX_SIZE", "STORE_DELETE_SIZE", "COLLECTOR_SESSION_TIMEOUT")
	t.Setenv("PORT", "7000")

	path := filepath.Join(t.TempDir(), "collector.yaml")
	content := "PORT: 1234\nstore:\n  max_size: 2048\n  delete_size: 512\ncollector:\n  session_timeout: 2m\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port, "environment wins over file")
	assert.Equal(t, int64(2048), cfg.Store.MaxSize)
	assert.Equal(t, int64(512), cfg.Store.DeleteSize)
	assert.Equal(t, 2*time.Minute, cfg.Collector.SessionTimeout)
}

func TestLoadFileTOML(t *testing.T) {
	unsetAfter(t, "OUTPUT_RETRIES", "OUTPUT_COMPRESSION")

	path := filepath.Join(t.TempDir(), "agent.toml")
	content := "[output]\nretries = 3\ncompression = \"gzip\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Output.Retries)
	assert.Equal(t, "gzip", cfg.Output.Compression)
}

func TestLoadFileRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.ini")
	require.NoError(t, os.WriteFile(path, []byte("x=1"), 0o600))

	_, err := LoadFile(path)
	assert.Error(t, err)
}
