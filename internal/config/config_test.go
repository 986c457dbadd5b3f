package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeTempConfig(t, "data_dir: /tmp/sitewatch-test\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Expected default log level 'info', got %s", cfg.Log.Level)
	}
	if cfg.Streams.BufferSize != 10 {
		t.Errorf("Expected default buffer size 10, got %d", cfg.Streams.BufferSize)
	}
	if cfg.Streams.SampleFPS != 2 {
		t.Errorf("Expected default sample fps 2, got %f", cfg.Streams.SampleFPS)
	}
	if cfg.Streams.MaxReconnectAttempts != 5 {
		t.Errorf("Expected default max reconnect attempts 5, got %d", cfg.Streams.MaxReconnectAttempts)
	}
	if cfg.Rules.ReloadTTL != 5*time.Minute {
		t.Errorf("Expected default reload TTL 5m, got %v", cfg.Rules.ReloadTTL)
	}
	if cfg.Throttle.AttributionThreshold != 0.3 {
		t.Errorf("Expected default attribution threshold 0.3, got %f", cfg.Throttle.AttributionThreshold)
	}
	if cfg.Notify.RetryAttempts != 3 {
		t.Errorf("Expected default retry attempts 3, got %d", cfg.Notify.RetryAttempts)
	}
	if !strings.HasPrefix(cfg.Screenshots.Dir, "/tmp/sitewatch-test") {
		t.Errorf("Expected screenshots dir under data_dir, got %s", cfg.Screenshots.Dir)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestLoad_ExplicitValues(t *testing.T) {
	path := writeTempConfig(t, `
log:
  level: debug
  format: json
streams:
  buffer_size: 32
  sample_fps: 4
  max_reconnect_attempts: 3
  reconnect_delay: 2s
notify:
  endpoint: http://webhook.local/violations
  async: true
  retry_attempts: 5
throttle:
  helmet_cooldown: 20s
  attribution_threshold: 0.4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log config not parsed: %+v", cfg.Log)
	}
	if cfg.Streams.BufferSize != 32 {
		t.Errorf("Expected buffer size 32, got %d", cfg.Streams.BufferSize)
	}
	if cfg.Streams.ReconnectDelay != 2*time.Second {
		t.Errorf("Expected reconnect delay 2s, got %v", cfg.Streams.ReconnectDelay)
	}
	if cfg.Notify.Endpoint != "http://webhook.local/violations" {
		t.Errorf("Expected notify endpoint, got %s", cfg.Notify.Endpoint)
	}
	if cfg.Notify.RetryAttempts != 5 {
		t.Errorf("Expected retry attempts 5, got %d", cfg.Notify.RetryAttempts)
	}
	if cfg.Throttle.HelmetCooldown != 20*time.Second {
		t.Errorf("Expected helmet cooldown 20s, got %v", cfg.Throttle.HelmetCooldown)
	}
	if cfg.Throttle.AttributionThreshold != 0.4 {
		t.Errorf("Expected attribution threshold 0.4, got %f", cfg.Throttle.AttributionThreshold)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.Log.Level = "verbose" },
			want:   "invalid log level",
		},
		{
			name:   "bad threshold",
			mutate: func(c *Config) { c.Detect.FaceThreshold = 1.5 },
			want:   "face_threshold",
		},
		{
			name:   "bad attribution threshold",
			mutate: func(c *Config) { c.Throttle.AttributionThreshold = 1.5 },
			want:   "attribution_threshold",
		},
		{
			name:   "mqtt without broker",
			mutate: func(c *Config) { c.Notify.MQTT.Enabled = true },
			want:   "mqtt.broker",
		},
		{
			name:   "s3 without bucket",
			mutate: func(c *Config) { c.Screenshots.S3.Enabled = true; c.Screenshots.S3.Endpoint = "minio:9000" },
			want:   "s3.bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.setDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
