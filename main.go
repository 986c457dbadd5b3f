package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/visionward/sitewatch/internal/config"
	"github.com/visionward/sitewatch/internal/detect"
	"github.com/visionward/sitewatch/internal/health"
	"github.com/visionward/sitewatch/internal/logger"
	"github.com/visionward/sitewatch/internal/metrics"
	"github.com/visionward/sitewatch/internal/monitor"
	"github.com/visionward/sitewatch/internal/notify"
	"github.com/visionward/sitewatch/internal/registry"
	"github.com/visionward/sitewatch/internal/rules"
	"github.com/visionward/sitewatch/internal/screenshot"
	"github.com/visionward/sitewatch/internal/service"
	"github.com/visionward/sitewatch/internal/store"
	"github.com/visionward/sitewatch/internal/stream"
	"github.com/visionward/sitewatch/internal/throttle"
	"github.com/visionward/sitewatch/internal/violation"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting sitewatch core",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	// Configuration store: stream descriptors and detection rules.
	st, err := store.NewStore(cfg.Store.Path, log)
	if err != nil {
		log.Error("Failed to open configuration store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Stream registry with protocol adapters.
	ffmpeg, err := stream.NewFFmpegWrapper(cfg.Streams.FFmpegPath, log)
	if err != nil {
		log.Warn("FFmpeg unavailable, ffmpeg-backed protocols will fail to connect", "error", err)
	}
	clientCfg := stream.ClientConfig{
		QueueSize:            cfg.Streams.BufferSize,
		MaxReconnectAttempts: cfg.Streams.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Streams.ReconnectDelay,
		ReadTimeout:          cfg.Streams.ReadTimeout,
		FFmpegPath:           cfg.Streams.FFmpegPath,
		OnError: func(streamID string, err error) {
			log.Warn("Stream error", "stream_id", streamID, "error", err)
		},
	}
	reg := registry.New(registry.Config{
		SampleInterval: sampleInterval(cfg.Streams.SampleFPS),
		Factory: func(desc stream.Descriptor) (stream.Client, error) {
			return stream.NewClient(desc, clientCfg, ffmpeg, log)
		},
	}, log)

	// Rule engine over the store with a TTL pull.
	engine := rules.NewEngine(st, rules.EngineConfig{TTL: cfg.Rules.ReloadTTL}, log)

	// Detectors backed by the external inference service.
	provider := detect.NewProvider(func(category detect.Category) (detect.Detector, error) {
		return detect.NewRemoteDetector(category, detect.RemoteConfig{
			ServiceURL:    cfg.Detect.ServiceURL,
			Timeout:       cfg.Detect.RequestTimeout,
			MinConfidence: detectorFloor(cfg, category),
		}, log), nil
	}, log)

	// Notification chain: webhook, optional MQTT fan-out, dispatcher.
	var sender notify.Sender = notify.NewWebhookSender(notify.WebhookConfig{
		DefaultEndpoint: cfg.Notify.Endpoint,
		Timeout:         cfg.Notify.Timeout,
	}, log)
	var fanout *notify.MQTTFanout
	if cfg.Notify.MQTT.Enabled {
		host, port, err := splitBroker(cfg.Notify.MQTT.Broker)
		if err != nil {
			log.Error("Invalid MQTT broker", "broker", cfg.Notify.MQTT.Broker, "error", err)
			os.Exit(1)
		}
		fanout, err = notify.NewMQTTFanout(sender, notify.MQTTConfig{
			Host:     host,
			Port:     port,
			Username: cfg.Notify.MQTT.Username,
			Password: cfg.Notify.MQTT.Password,
			ClientID: cfg.Notify.MQTT.ClientID,
			Topic:    cfg.Notify.MQTT.Topic,
		}, log)
		if err != nil {
			log.Error("Failed to connect MQTT fan-out", "error", err)
			os.Exit(1)
		}
		defer fanout.Close()
		sender = fanout
	}
	mode := notify.ModeSync
	if cfg.Notify.Async {
		mode = notify.ModeAsync
	}
	dispatcher := notify.NewDispatcher(sender, notify.DispatcherConfig{
		Mode:        mode,
		QueueSize:   cfg.Notify.QueueSize,
		Retries:     cfg.Notify.RetryAttempts,
		RetryDelay:  cfg.Notify.RetryDelay,
		OnDelivered: m.NotificationsDelivered.Inc,
		OnFailed:    m.NotificationsFailed.Inc,
	}, log)

	// Screenshot store: local disk or an S3-compatible bucket.
	var shots screenshot.Store
	if cfg.Screenshots.S3.Enabled {
		shots, err = screenshot.NewMinioStore(screenshot.MinioConfig{
			Endpoint:  cfg.Screenshots.S3.Endpoint,
			AccessKey: cfg.Screenshots.S3.AccessKey,
			SecretKey: cfg.Screenshots.S3.SecretKey,
			Bucket:    cfg.Screenshots.S3.Bucket,
			UseSSL:    cfg.Screenshots.S3.UseSSL,
		}, log)
	} else {
		shots, err = screenshot.NewLocalStore(screenshot.LocalConfig{
			Dir: cfg.Screenshots.Dir,
		}, log)
	}
	if err != nil {
		log.Error("Failed to create screenshot store", "error", err)
		os.Exit(1)
	}

	sink := violation.NewHTTPSink(violation.HTTPSinkConfig{
		Endpoint: cfg.Violations.SinkURL,
		APIToken: cfg.Violations.APIToken,
		Timeout:  cfg.Violations.Timeout,
	}, log)

	mon := monitor.New(monitor.Config{
		DrowsinessCooldown: cfg.Throttle.DrowsyCooldown,
		ScreenshotQuality:  cfg.Screenshots.JPEGQuality,
	}, monitor.Deps{
		Engine:      engine,
		Provider:    provider,
		Registry:    reg,
		Dispatcher:  dispatcher,
		Sink:        sink,
		Screenshots: shots,
		Face: throttle.NewFaceThrottle(throttle.FaceConfig{
			Cooldown: cfg.Throttle.FaceCooldown,
		}, log),
		Helmet: throttle.NewHelmetThrottle(throttle.HelmetConfig{
			Cooldown:             cfg.Throttle.HelmetCooldown,
			AttributionThreshold: cfg.Throttle.AttributionThreshold,
		}, log),
		Inactivity: throttle.NewInactivityThrottle(throttle.InactivityConfig{
			Threshold:     cfg.Throttle.InactivityThreshold,
			CheckInterval: cfg.Throttle.InactivityInterval,
			MotionCutoff:  cfg.Throttle.MotionThreshold,
		}, log),
		Metrics: m,
	}, log)

	poller := store.NewPoller(st, reg, store.PollerConfig{
		Interval: cfg.Store.RefreshInterval,
	}, log)

	// The monitor starts before the registry so its frame handler is
	// in place when the first streams connect.
	svcMgr := service.NewManager(log)
	svcMgr.Register(dispatcher)
	svcMgr.Register(mon)
	svcMgr.Register(reg)
	svcMgr.Register(poller)
	if !cfg.Screenshots.S3.Enabled && cfg.Screenshots.RetentionDays > 0 {
		svcMgr.Register(screenshot.NewRetention(screenshot.RetentionConfig{
			Dir:           cfg.Screenshots.Dir,
			RetentionDays: cfg.Screenshots.RetentionDays,
		}, log))
	}

	healthMgr := health.NewManager(health.Config{Addr: cfg.Health.Addr}, svcMgr, log)
	healthMgr.RegisterChecker(health.NewDatabaseChecker(st.GetDB()))
	healthMgr.RegisterChecker(health.NewDetectorChecker(cfg.Detect.ServiceURL))
	if !cfg.Screenshots.S3.Enabled {
		healthMgr.RegisterChecker(health.NewScreenshotDirChecker(cfg.Screenshots.Dir))
	}
	healthMgr.RegisterChecker(health.NewStreamChecker(reg, m))

	if cfg.Health.Enabled {
		if err := healthMgr.Start(ctx); err != nil {
			log.Error("Failed to start health server", "error", err)
			os.Exit(1)
		}
	}

	if err := svcMgr.Start(ctx); err != nil {
		log.Error("Failed to start services", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received shutdown signal", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if cfg.Health.Enabled {
		if err := healthMgr.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping health server", "error", err)
		}
	}

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Shutdown complete")
}

// sampleInterval converts the configured sampling rate to the
// registry's per-stream cadence
func sampleInterval(fps float64) time.Duration {
	if fps <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / fps)
}

// detectorFloor returns the per-category confidence floor
func detectorFloor(cfg *config.Config, category detect.Category) float64 {
	switch category {
	case detect.CategoryFace:
		return cfg.Detect.FaceThreshold
	case detect.CategoryHelmet:
		return cfg.Detect.HelmetThreshold
	case detect.CategoryDrowsiness:
		return cfg.Detect.DrowsyThreshold
	default:
		return 0
	}
}

// splitBroker parses "host:port" or "tcp://host:port" broker addresses
func splitBroker(broker string) (string, int, error) {
	raw := broker
	if u, err := url.Parse(broker); err == nil && u.Host != "" {
		raw = u.Host
	}
	host, portStr, found := splitHostPort(raw)
	if !found {
		return raw, 1883, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid broker port %q", portStr)
	}
	return host, port, nil
}

func splitHostPort(addr string) (string, string, bool) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:], true
		}
	}
	return addr, "", false
}
