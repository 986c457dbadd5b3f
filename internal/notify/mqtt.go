package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/visionward/sitewatch/internal/logger"
)

// MQTTConfig configures the optional MQTT fan-out
type MQTTConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	ClientID string

	// Topic receives every delivered payload. Defaults to
	// "sitewatch/violations".
	Topic string
}

// MQTTFanout mirrors delivered notifications onto an MQTT topic. It
// wraps the primary Sender: the webhook delivery decides success or
// failure, and a publish failure is only logged. The dispatcher's
// retry policy never re-runs for MQTT alone.
type MQTTFanout struct {
	primary Sender
	client  mqtt.Client
	topic   string
	logger  *logger.Logger
}

// NewMQTTFanout connects to the broker and wraps the primary sender
func NewMQTTFanout(primary Sender, cfg MQTTConfig, log *logger.Logger) (*MQTTFanout, error) {
	topic := cfg.Topic
	if topic == "" {
		topic = "sitewatch/violations"
	}
	port := cfg.Port
	if port == 0 {
		port = 1883
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, port))
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if ok := token.WaitTimeout(10 * time.Second); !ok {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect error: %w", err)
	}

	return &MQTTFanout{
		primary: primary,
		client:  client,
		topic:   topic,
		logger:  log,
	}, nil
}

// Send delivers through the primary sender, then publishes the payload
// to the fan-out topic on success
func (m *MQTTFanout) Send(ctx context.Context, job Job) error {
	if err := m.primary.Send(ctx, job); err != nil {
		return err
	}

	body, err := json.Marshal(job.Payload)
	if err != nil {
		m.logger.Warn("Failed to encode MQTT payload", "error", err)
		return nil
	}
	token := m.client.Publish(m.topic, 0, false, body)
	token.Wait()
	if err := token.Error(); err != nil {
		m.logger.Warn("MQTT publish failed", "topic", m.topic, "error", err)
	}
	return nil
}

// Probe delegates to the primary sender's probe when it has one
func (m *MQTTFanout) Probe(ctx context.Context) error {
	if prober, ok := m.primary.(interface{ Probe(context.Context) error }); ok {
		return prober.Probe(ctx)
	}
	return nil
}

// Close disconnects from the broker
func (m *MQTTFanout) Close() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}
