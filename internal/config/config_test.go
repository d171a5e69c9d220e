package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
log_level: debug
engine:
  tick_interval_seconds: 15
  max_concurrency: 9
broadcast:
  transport: nats
  nats_url: nats://broker:4222
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log_level debug, got %q", cfg.LogLevel)
	}
	if cfg.Engine.TickIntervalSeconds != 15 {
		t.Fatalf("expected tick interval 15, got %d", cfg.Engine.TickIntervalSeconds)
	}
	if cfg.Engine.MaxConcurrency != 9 {
		t.Fatalf("expected concurrency 9, got %d", cfg.Engine.MaxConcurrency)
	}
	if cfg.Broadcast.Transport != "nats" {
		t.Fatalf("expected nats transport, got %q", cfg.Broadcast.Transport)
	}
	// untouched keys keep their defaults
	if cfg.Engine.ExecutionTimeoutSeconds != 30 {
		t.Fatalf("expected default execution timeout, got %d", cfg.Engine.ExecutionTimeoutSeconds)
	}
}

func TestLoadEnvironmentWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: warn\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LOG_LEVEL", "trace")
	t.Setenv("MAX_CONCURRENCY", "3")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "trace" {
		t.Fatalf("expected env log level, got %q", cfg.LogLevel)
	}
	if cfg.Engine.MaxConcurrency != 3 {
		t.Fatalf("expected env concurrency, got %d", cfg.Engine.MaxConcurrency)
	}
}

func TestLoadKafkaBrokersFromEnv(t *testing.T) {
	t.Setenv("BROADCAST_TRANSPORT", "kafka")
	t.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Broadcast.KafkaBrokers) != 2 {
		t.Fatalf("expected 2 brokers, got %v", cfg.Broadcast.KafkaBrokers)
	}
	if cfg.Broadcast.KafkaBrokers[1] != "b2:9092" {
		t.Fatalf("expected trimmed broker, got %q", cfg.Broadcast.KafkaBrokers[1])
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tick interval", func(c *Config) { c.Engine.TickIntervalSeconds = 0 }},
		{"zero concurrency", func(c *Config) { c.Engine.MaxConcurrency = 0 }},
		{"unknown transport", func(c *Config) { c.Broadcast.Transport = "carrier-pigeon" }},
		{"kafka without brokers", func(c *Config) { c.Broadcast.Transport = "kafka" }},
		{"empty database url", func(c *Config) { c.DatabaseURL = "" }},
		{"inverted frequency bounds", func(c *Config) { c.API.MinFrequencyMinutes = 100; c.API.MaxFrequencyMinutes = 10 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
