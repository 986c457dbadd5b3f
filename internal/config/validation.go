package config

import (
	"fmt"
	"strings"
)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format: %s (must be: text or json)", c.Log.Format))
	}

	if c.Store.Path == "" {
		errors = append(errors, "store.path is required")
	}
	if c.Store.RefreshInterval <= 0 {
		errors = append(errors, fmt.Sprintf("store.refresh_interval must be > 0, got: %v", c.Store.RefreshInterval))
	}

	if c.Streams.BufferSize <= 0 {
		errors = append(errors, fmt.Sprintf("streams.buffer_size must be > 0, got: %d", c.Streams.BufferSize))
	}
	if c.Streams.SampleFPS <= 0 {
		errors = append(errors, fmt.Sprintf("streams.sample_fps must be > 0, got: %.2f", c.Streams.SampleFPS))
	}
	if c.Streams.MaxReconnectAttempts < 0 {
		errors = append(errors, fmt.Sprintf("streams.max_reconnect_attempts must be >= 0, got: %d", c.Streams.MaxReconnectAttempts))
	}

	if c.Detect.ServiceURL == "" {
		errors = append(errors, "detect.service_url is required")
	}
	for name, v := range map[string]float64{
		"detect.face_threshold":   c.Detect.FaceThreshold,
		"detect.helmet_threshold": c.Detect.HelmetThreshold,
		"detect.drowsy_threshold": c.Detect.DrowsyThreshold,
	} {
		if v < 0 || v > 1 {
			errors = append(errors, fmt.Sprintf("%s must be between 0 and 1, got: %.2f", name, v))
		}
	}

	if c.Throttle.AttributionThreshold <= 0 || c.Throttle.AttributionThreshold > 1 {
		errors = append(errors, fmt.Sprintf("throttle.attribution_threshold must be in (0,1], got: %.2f", c.Throttle.AttributionThreshold))
	}
	if c.Throttle.MotionThreshold < 0 || c.Throttle.MotionThreshold > 100 {
		errors = append(errors, fmt.Sprintf("throttle.motion_threshold must be between 0 and 100, got: %.2f", c.Throttle.MotionThreshold))
	}

	if c.Notify.QueueSize <= 0 {
		errors = append(errors, fmt.Sprintf("notify.queue_size must be > 0, got: %d", c.Notify.QueueSize))
	}
	if c.Notify.RetryAttempts <= 0 {
		errors = append(errors, fmt.Sprintf("notify.retry_attempts must be > 0, got: %d", c.Notify.RetryAttempts))
	}
	if c.Notify.MQTT.Enabled && c.Notify.MQTT.Broker == "" {
		errors = append(errors, "notify.mqtt.broker is required when mqtt is enabled")
	}

	if c.Screenshots.JPEGQuality < 1 || c.Screenshots.JPEGQuality > 100 {
		errors = append(errors, fmt.Sprintf("screenshots.jpeg_quality must be between 1 and 100, got: %d", c.Screenshots.JPEGQuality))
	}
	if c.Screenshots.RetentionDays < 0 {
		errors = append(errors, fmt.Sprintf("screenshots.retention_days must be >= 0, got: %d", c.Screenshots.RetentionDays))
	}
	if c.Screenshots.S3.Enabled {
		if c.Screenshots.S3.Endpoint == "" {
			errors = append(errors, "screenshots.s3.endpoint is required when s3 is enabled")
		}
		if c.Screenshots.S3.Bucket == "" {
			errors = append(errors, "screenshots.s3.bucket is required when s3 is enabled")
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
