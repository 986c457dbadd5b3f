package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/visionward/sitewatch/internal/logger"
	"github.com/visionward/sitewatch/internal/media"
)

// Protocol identifies a stream transport family
type Protocol string

const (
	ProtocolRTSP   Protocol = "rtsp"
	ProtocolMJPEG  Protocol = "mjpeg"
	ProtocolDevice Protocol = "device"
	ProtocolHLS    Protocol = "hls"
	ProtocolDASH   Protocol = "dash"
	ProtocolWebRTC Protocol = "webrtc"
	ProtocolONVIF  Protocol = "onvif"
)

// Status is the connection state of a stream client
type Status string

const (
	StatusInactive   Status = "inactive"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusError      Status = "error"
)

// Descriptor describes a configured video source
type Descriptor struct {
	ID       string            `yaml:"id" json:"id"`
	Protocol Protocol          `yaml:"protocol" json:"protocol"`
	Target   string            `yaml:"target" json:"target"`
	Location string            `yaml:"location" json:"location"`
	Enabled  bool              `yaml:"enabled" json:"enabled"`
	Options  map[string]string `yaml:"options" json:"options"`
}

// Option returns a protocol-specific option value, or the fallback if
// it is not set
func (d Descriptor) Option(key, fallback string) string {
	if v, ok := d.Options[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Client is the common contract implemented by all protocol adapters.
// Connect starts a background capture loop; LatestFrame never blocks.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	LatestFrame() *media.Frame
	Status() Status
	Descriptor() Descriptor
}

// ErrorCallback fires on any fatal read or parse error before a
// reconnect is attempted. It must not block.
type ErrorCallback func(streamID string, err error)

// ClientConfig carries the capture-loop tuning shared by all adapters
type ClientConfig struct {
	QueueSize            int
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	ReadTimeout          time.Duration
	CaptureFPS           float64
	FFmpegPath           string
	OnError              ErrorCallback
}

func (c *ClientConfig) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 10
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.CaptureFPS <= 0 {
		c.CaptureFPS = 2
	}
}

// session is one live connection to a source. ReadFrame blocks until a
// frame arrives, the session fails, or ctx is cancelled.
type session interface {
	ReadFrame(ctx context.Context) (*media.Frame, error)
	Close() error
}

// opener dials a new session. Each call is one reconnect attempt.
type opener func(ctx context.Context) (session, error)

// clientBase implements the capture loop, the bounded reconnect policy,
// and status tracking shared by every adapter. Adapters supply an
// opener and embed clientBase.
type clientBase struct {
	desc   Descriptor
	cfg    ClientConfig
	logger *logger.Logger
	open   opener

	queue *media.FrameQueue
	seq   atomic.Uint64

	mu      sync.Mutex
	status  Status
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newClientBase(desc Descriptor, cfg ClientConfig, log *logger.Logger, open opener) *clientBase {
	cfg.applyDefaults()
	return &clientBase{
		desc:   desc,
		cfg:    cfg,
		logger: log,
		open:   open,
		queue:  media.NewFrameQueue(cfg.QueueSize),
		status: StatusInactive,
	}
}

func (c *clientBase) Descriptor() Descriptor {
	return c.desc
}

func (c *clientBase) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *clientBase) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// LatestFrame returns the most recent captured frame without blocking,
// or nil when none is available
func (c *clientBase) LatestFrame() *media.Frame {
	return c.queue.Latest()
}

// Frames exposes the bounded frame queue
func (c *clientBase) Frames() *media.FrameQueue {
	return c.queue
}

// Connect starts the background capture loop. It returns immediately;
// connection progress is observable through Status.
func (c *clientBase) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("stream %s: already connected", c.desc.ID)
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	c.status = StatusConnecting
	c.mu.Unlock()

	go c.captureLoop(runCtx)
	return nil
}

// Disconnect stops the capture loop and waits for it to exit, bounded
// by the configured read timeout. A loop that does not exit in time is
// logged and abandoned.
func (c *clientBase) Disconnect() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()

	select {
	case <-done:
	case <-time.After(c.cfg.ReadTimeout):
		c.logger.Warn("Capture loop did not stop in time, abandoning",
			"stream_id", c.desc.ID,
		)
	}

	c.setStatus(StatusInactive)
	return nil
}

func (c *clientBase) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// captureLoop dials sessions and reads frames until the stream is
// stopped or the reconnect budget is exhausted. Consecutive failed
// connect attempts count toward the budget; a successful connect
// resets it.
func (c *clientBase) captureLoop(ctx context.Context) {
	defer close(c.done)

	attempts := 0
	for c.isRunning() && ctx.Err() == nil {
		c.setStatus(StatusConnecting)

		sess, err := c.open(ctx)
		if err != nil {
			attempts++
			c.reportError(fmt.Errorf("connect failed (attempt %d/%d): %w",
				attempts, c.cfg.MaxReconnectAttempts, err))

			if attempts >= c.cfg.MaxReconnectAttempts {
				c.setStatus(StatusError)
				c.logger.Error("Reconnect attempts exhausted, stream is down",
					"stream_id", c.desc.ID,
					"attempts", attempts,
				)
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.ReconnectDelay):
			}
			continue
		}

		attempts = 0
		c.setStatus(StatusConnected)
		c.logger.Info("Stream connected",
			"stream_id", c.desc.ID,
			"protocol", c.desc.Protocol,
		)

		readErr := c.readFrames(ctx, sess)
		sess.Close()

		if !c.isRunning() || ctx.Err() != nil {
			return
		}

		c.reportError(fmt.Errorf("read failed: %w", readErr))
		c.logger.Warn("Stream read failed, reconnecting",
			"stream_id", c.desc.ID,
			"error", readErr,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// readFrames pulls frames from a live session into the queue until the
// session fails or the loop is stopped
func (c *clientBase) readFrames(ctx context.Context, sess session) error {
	for {
		frame, err := sess.ReadFrame(ctx)
		if err != nil {
			return err
		}
		if frame == nil {
			continue
		}
		c.push(frame)
	}
}

// push stamps provenance onto a frame and enqueues it
func (c *clientBase) push(frame *media.Frame) {
	frame.StreamID = c.desc.ID
	frame.Sequence = c.seq.Add(1)
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	if c.queue.Push(frame) {
		c.logger.Debug("Frame queue full, dropped oldest frame",
			"stream_id", c.desc.ID,
		)
	}
}

func (c *clientBase) reportError(err error) {
	if c.cfg.OnError == nil {
		return
	}
	// The callback contract forbids blocking the loop; run it
	// detached so a misbehaving observer cannot stall capture.
	go c.cfg.OnError(c.desc.ID, err)
}
