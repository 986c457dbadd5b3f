package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log         LogConfig         `yaml:"log,omitempty"`
	Store       StoreConfig       `yaml:"store"`
	Streams     StreamsConfig     `yaml:"streams"`
	Rules       RulesConfig       `yaml:"rules"`
	Detect      DetectConfig      `yaml:"detect"`
	Throttle    ThrottleConfig    `yaml:"throttle"`
	Notify      NotifyConfig      `yaml:"notify"`
	Screenshots ScreenshotsConfig `yaml:"screenshots"`
	Violations  ViolationsConfig  `yaml:"violations"`
	Health      HealthConfig      `yaml:"health"`
	DataDir     string            `yaml:"data_dir"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// StoreConfig points at the external configuration store holding
// stream descriptors and detection rules. The core only reads it.
type StoreConfig struct {
	Path            string        `yaml:"path"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// StreamsConfig contains defaults applied to every stream client
type StreamsConfig struct {
	BufferSize           int           `yaml:"buffer_size"`
	SampleFPS            float64       `yaml:"sample_fps"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	ReadTimeout          time.Duration `yaml:"read_timeout"`
	FFmpegPath           string        `yaml:"ffmpeg_path"`
}

// RulesConfig contains rule engine configuration
type RulesConfig struct {
	ReloadTTL time.Duration `yaml:"reload_ttl"`
}

// DetectConfig contains detector capability configuration
type DetectConfig struct {
	ServiceURL      string        `yaml:"service_url"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	FaceThreshold   float64       `yaml:"face_threshold"`
	HelmetThreshold float64       `yaml:"helmet_threshold"`
	DrowsyThreshold float64       `yaml:"drowsy_threshold"`
}

// ThrottleConfig contains per-category cool-down configuration
type ThrottleConfig struct {
	FaceCooldown         time.Duration `yaml:"face_cooldown"`
	HelmetCooldown       time.Duration `yaml:"helmet_cooldown"`
	DrowsyCooldown       time.Duration `yaml:"drowsy_cooldown"`
	AttributionThreshold float64       `yaml:"attribution_threshold"`
	InactivityThreshold  time.Duration `yaml:"inactivity_threshold"`
	InactivityInterval   time.Duration `yaml:"inactivity_check_interval"`
	MotionThreshold      float64       `yaml:"motion_threshold"`
}

// NotifyConfig contains notification dispatcher configuration
type NotifyConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	Async         bool          `yaml:"async"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	QueueSize     int           `yaml:"queue_size"`
	MQTT          MQTTConfig    `yaml:"mqtt"`
}

// MQTTConfig contains the optional MQTT notification fan-out
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ScreenshotsConfig contains screenshot store configuration
type ScreenshotsConfig struct {
	Dir           string   `yaml:"dir"`
	JPEGQuality   int      `yaml:"jpeg_quality"`
	RetentionDays int      `yaml:"retention_days"`
	S3            S3Config `yaml:"s3"`
}

// S3Config contains the optional MinIO/S3 screenshot upload target
type S3Config struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// ViolationsConfig contains the violation sink configuration
type ViolationsConfig struct {
	SinkURL  string        `yaml:"sink_url"`
	APIToken string        `yaml:"api_token"`
	Timeout  time.Duration `yaml:"timeout"`
}

// HealthConfig contains health/metrics server configuration
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads and parses the configuration file. A .env file next to
// the working directory, when present, supplies secret overrides so
// credentials stay out of the yaml.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"/etc/sitewatch/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	// Return the first default if none found (will error later)
	return paths[0]
}

// applyEnvOverrides pulls credentials from the environment
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SITEWATCH_S3_ACCESS_KEY"); v != "" {
		c.Screenshots.S3.AccessKey = v
	}
	if v := os.Getenv("SITEWATCH_S3_SECRET_KEY"); v != "" {
		c.Screenshots.S3.SecretKey = v
	}
	if v := os.Getenv("SITEWATCH_MQTT_USERNAME"); v != "" {
		c.Notify.MQTT.Username = v
	}
	if v := os.Getenv("SITEWATCH_MQTT_PASSWORD"); v != "" {
		c.Notify.MQTT.Password = v
	}
	if v := os.Getenv("SITEWATCH_API_TOKEN"); v != "" {
		c.Violations.APIToken = v
	}
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.DataDir == "" {
		c.DataDir = "./data"
	}

	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "db", "sitewatch.db")
	}
	if c.Store.RefreshInterval == 0 {
		c.Store.RefreshInterval = 60 * time.Second
	}

	if c.Streams.BufferSize == 0 {
		c.Streams.BufferSize = 10
	}
	if c.Streams.SampleFPS == 0 {
		c.Streams.SampleFPS = 2
	}
	if c.Streams.MaxReconnectAttempts == 0 {
		c.Streams.MaxReconnectAttempts = 5
	}
	if c.Streams.ReconnectDelay == 0 {
		c.Streams.ReconnectDelay = 5 * time.Second
	}
	if c.Streams.ReadTimeout == 0 {
		c.Streams.ReadTimeout = 30 * time.Second
	}
	if c.Streams.FFmpegPath == "" {
		c.Streams.FFmpegPath = "ffmpeg"
	}

	if c.Rules.ReloadTTL == 0 {
		c.Rules.ReloadTTL = 5 * time.Minute
	}

	if c.Detect.ServiceURL == "" {
		c.Detect.ServiceURL = "http://localhost:8080"
	}
	if c.Detect.RequestTimeout == 0 {
		c.Detect.RequestTimeout = 10 * time.Second
	}
	if c.Detect.FaceThreshold == 0 {
		c.Detect.FaceThreshold = 0.6
	}
	if c.Detect.HelmetThreshold == 0 {
		c.Detect.HelmetThreshold = 0.5
	}
	if c.Detect.DrowsyThreshold == 0 {
		c.Detect.DrowsyThreshold = 0.6
	}

	if c.Throttle.FaceCooldown == 0 {
		c.Throttle.FaceCooldown = 10 * time.Second
	}
	if c.Throttle.HelmetCooldown == 0 {
		c.Throttle.HelmetCooldown = 20 * time.Second
	}
	if c.Throttle.DrowsyCooldown == 0 {
		c.Throttle.DrowsyCooldown = 20 * time.Second
	}
	if c.Throttle.AttributionThreshold == 0 {
		c.Throttle.AttributionThreshold = 0.3
	}
	if c.Throttle.InactivityThreshold == 0 {
		c.Throttle.InactivityThreshold = 10 * time.Minute
	}
	if c.Throttle.InactivityInterval == 0 {
		c.Throttle.InactivityInterval = 10 * time.Minute
	}
	if c.Throttle.MotionThreshold == 0 {
		c.Throttle.MotionThreshold = 5.0
	}

	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = 10 * time.Second
	}
	if c.Notify.RetryAttempts == 0 {
		c.Notify.RetryAttempts = 3
	}
	if c.Notify.RetryDelay == 0 {
		c.Notify.RetryDelay = time.Second
	}
	if c.Notify.QueueSize == 0 {
		c.Notify.QueueSize = 256
	}
	if c.Notify.MQTT.ClientID == "" {
		c.Notify.MQTT.ClientID = "sitewatch-core"
	}
	if c.Notify.MQTT.Topic == "" {
		c.Notify.MQTT.Topic = "sitewatch/violations"
	}

	if c.Screenshots.Dir == "" {
		c.Screenshots.Dir = filepath.Join(c.DataDir, "screenshots")
	}
	if c.Screenshots.JPEGQuality == 0 {
		c.Screenshots.JPEGQuality = 85
	}
	if c.Screenshots.RetentionDays == 0 {
		c.Screenshots.RetentionDays = 30
	}

	if c.Violations.Timeout == 0 {
		c.Violations.Timeout = 10 * time.Second
	}

	if c.Health.Addr == "" {
		c.Health.Addr = ":9090"
	}
}
