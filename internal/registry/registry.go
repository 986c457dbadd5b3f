package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/visionward/sitewatch/internal/logger"
	"github.com/visionward/sitewatch/internal/media"
	"github.com/visionward/sitewatch/internal/service"
	"github.com/visionward/sitewatch/internal/stream"
)

// FrameHandler processes one sampled frame. Handlers run on the shared
// dispatch worker, so frames for a single stream arrive in capture
// order.
type FrameHandler func(ctx context.Context, frame *media.Frame)

// ClientFactory builds a protocol adapter for a descriptor
type ClientFactory func(desc stream.Descriptor) (stream.Client, error)

// Config tunes the registry
type Config struct {
	// SampleInterval is the minimum time between two handler
	// invocations for one stream. Capture continues at the native
	// rate regardless; sampling only bounds detection cost.
	SampleInterval time.Duration

	// Factory builds clients for descriptors
	Factory ClientFactory
}

// Registry owns every stream client. It reconciles clients against
// descriptor snapshots and runs the cadence-limited sampler that pulls
// each running stream's latest frame into its registered handler.
type Registry struct {
	*service.ServiceBase
	cfg Config

	mu             sync.RWMutex
	clients        map[string]stream.Client
	handlers       map[string]FrameHandler
	defaultHandler FrameHandler
	lastSeq        map[string]uint64
	lastSent       map[string]time.Time

	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stream registry
func New(cfg Config, log *logger.Logger) *Registry {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = time.Second
	}
	return &Registry{
		ServiceBase: service.NewServiceBase("stream-registry", log),
		cfg:         cfg,
		clients:     make(map[string]stream.Client),
		handlers:    make(map[string]FrameHandler),
		lastSeq:     make(map[string]uint64),
		lastSent:    make(map[string]time.Time),
	}
}

// Add creates and starts a client for a descriptor. Descriptor ids are
// unique; adding a duplicate fails.
func (r *Registry) Add(desc stream.Descriptor) error {
	r.mu.Lock()
	if _, exists := r.clients[desc.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("stream %s already registered", desc.ID)
	}
	r.mu.Unlock()

	client, err := r.cfg.Factory(desc)
	if err != nil {
		return fmt.Errorf("failed to create client for %s: %w", desc.ID, err)
	}

	r.mu.Lock()
	if _, exists := r.clients[desc.ID]; exists {
		r.mu.Unlock()
		client.Disconnect()
		return fmt.Errorf("stream %s already registered", desc.ID)
	}
	r.clients[desc.ID] = client
	runCtx := r.runCtx
	r.mu.Unlock()

	r.LogInfo("Stream registered",
		"stream_id", desc.ID,
		"protocol", desc.Protocol,
		"location", desc.Location,
	)

	// When the registry is already running, new streams connect
	// immediately.
	if runCtx != nil {
		if err := client.Connect(runCtx); err != nil {
			r.LogError("Failed to start stream", err, "stream_id", desc.ID)
		}
		r.publishStreamEvent(service.EventTypeStreamConnected, desc.ID)
	}

	return nil
}

// Remove disconnects and forgets a stream
func (r *Registry) Remove(streamID string) error {
	r.mu.Lock()
	client, ok := r.clients[streamID]
	if ok {
		delete(r.clients, streamID)
		delete(r.handlers, streamID)
		delete(r.lastSeq, streamID)
		delete(r.lastSent, streamID)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("stream %s not registered", streamID)
	}

	if err := client.Disconnect(); err != nil {
		r.LogWarn("Error disconnecting stream", "stream_id", streamID, "error", err)
	}
	r.publishStreamEvent(service.EventTypeStreamDisconnected, streamID)
	r.LogInfo("Stream removed", "stream_id", streamID)
	return nil
}

// Sync reconciles the registry against a descriptor snapshot: enabled
// descriptors not yet registered are added, registered streams missing
// from the snapshot (or disabled in it) are removed.
func (r *Registry) Sync(descriptors []stream.Descriptor) {
	wanted := make(map[string]stream.Descriptor, len(descriptors))
	for _, desc := range descriptors {
		if desc.Enabled {
			wanted[desc.ID] = desc
		}
	}

	r.mu.RLock()
	var stale []string
	for id := range r.clients {
		if _, ok := wanted[id]; !ok {
			stale = append(stale, id)
		}
	}
	var missing []stream.Descriptor
	for id, desc := range wanted {
		if _, ok := r.clients[id]; !ok {
			missing = append(missing, desc)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		if err := r.Remove(id); err != nil {
			r.LogWarn("Failed to remove stale stream", "stream_id", id, "error", err)
		}
	}
	for _, desc := range missing {
		if err := r.Add(desc); err != nil {
			r.LogError("Failed to add stream", err, "stream_id", desc.ID)
		}
	}
}

// SetHandler registers the frame handler for a stream. Streams without
// a handler still capture frames but incur no dispatch cost.
func (r *Registry) SetHandler(streamID string, handler FrameHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if handler == nil {
		delete(r.handlers, streamID)
		return
	}
	r.handlers[streamID] = handler
}

// SetDefaultHandler registers the handler used for streams without a
// per-stream handler, so streams arriving through Sync are picked up
// without explicit registration
func (r *Registry) SetDefaultHandler(handler FrameHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultHandler = handler
}

// Status returns one stream's connection status
func (r *Registry) Status(streamID string) (stream.Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[streamID]
	if !ok {
		return "", fmt.Errorf("stream %s not registered", streamID)
	}
	return client.Status(), nil
}

// Statuses returns every stream's connection status
func (r *Registry) Statuses() map[string]stream.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make(map[string]stream.Status, len(r.clients))
	for id, client := range r.clients {
		statuses[id] = client.Status()
	}
	return statuses
}

// Client returns the registered client for a stream id
func (r *Registry) Client(streamID string) (stream.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[streamID]
	return client, ok
}

// StreamCount returns the number of registered streams
func (r *Registry) StreamCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Start connects all registered streams and starts the sampler
func (r *Registry) Start(ctx context.Context) error {
	r.GetStatus().SetStatus(service.StatusStarting)

	runCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.runCtx = runCtx
	r.cancel = cancel
	r.done = make(chan struct{})
	clients := make([]stream.Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	r.mu.Unlock()

	for _, client := range clients {
		if err := client.Connect(runCtx); err != nil {
			r.LogError("Failed to start stream", err,
				"stream_id", client.Descriptor().ID,
			)
		}
	}

	go r.sampleLoop(runCtx)

	r.GetStatus().SetStatus(service.StatusRunning)
	r.LogInfo("Stream registry started",
		"streams", len(clients),
		"sample_interval", r.cfg.SampleInterval,
	)
	return nil
}

// Stop stops the sampler and disconnects all streams
func (r *Registry) Stop(ctx context.Context) error {
	r.GetStatus().SetStatus(service.StatusStopping)

	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.runCtx = nil
	clients := make([]stream.Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			r.LogWarn("Sampler did not stop before deadline")
		}
	}

	for _, client := range clients {
		if err := client.Disconnect(); err != nil {
			r.LogWarn("Error disconnecting stream",
				"stream_id", client.Descriptor().ID,
				"error", err,
			)
		}
	}

	r.GetStatus().SetStatus(service.StatusStopped)
	r.LogInfo("Stream registry stopped")
	return nil
}

// sampleLoop runs the shared dispatch worker. Each tick it visits every
// stream with a handler whose sample interval has elapsed and hands the
// latest unseen frame to the handler.
func (r *Registry) sampleLoop(ctx context.Context) {
	defer close(r.done)

	// Tick well below the sample interval so per-stream cadence
	// stays accurate without busy-waiting.
	tick := r.cfg.SampleInterval / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.dispatchDue(ctx)
		}
	}
}

func (r *Registry) dispatchDue(ctx context.Context) {
	type pending struct {
		handler FrameHandler
		frame   *media.Frame
	}

	now := time.Now()
	var due []pending

	r.mu.Lock()
	for id, client := range r.clients {
		handler := r.handlers[id]
		if handler == nil {
			handler = r.defaultHandler
		}
		if handler == nil || client.Status() != stream.StatusConnected {
			continue
		}
		if now.Sub(r.lastSent[id]) < r.cfg.SampleInterval {
			continue
		}
		frame := client.LatestFrame()
		if frame == nil || frame.Sequence == r.lastSeq[id] {
			continue
		}
		r.lastSeq[id] = frame.Sequence
		r.lastSent[id] = now
		due = append(due, pending{handler: handler, frame: frame})
	}
	r.mu.Unlock()

	// Handlers run outside the lock, serially on this worker.
	for _, p := range due {
		if ctx.Err() != nil {
			return
		}
		p.handler(ctx, p.frame)
	}
}

func (r *Registry) publishStreamEvent(eventType service.EventType, streamID string) {
	if r.GetEventBus() == nil {
		return
	}
	r.PublishEvent(eventType, map[string]interface{}{
		"stream_id": streamID,
	})
}
