package store

import (
	"context"
	"sync"
	"time"

	"github.com/visionward/sitewatch/internal/logger"
	"github.com/visionward/sitewatch/internal/service"
	"github.com/visionward/sitewatch/internal/stream"
)

// SyncTarget receives fresh descriptor snapshots. The stream registry
// implements it.
type SyncTarget interface {
	Sync(descriptors []stream.Descriptor)
}

// PollerConfig configures the descriptor refresh timer
type PollerConfig struct {
	// Interval between snapshot refreshes. Defaults to 1 minute.
	Interval time.Duration
}

// Poller periodically reads the stream descriptor snapshot and
// reconciles the registry against it. Rules refresh separately through
// the rule engine's own TTL pull.
type Poller struct {
	*service.ServiceBase

	source   DescriptorSource
	target   SyncTarget
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// NewPoller creates a descriptor poller
func NewPoller(source DescriptorSource, target SyncTarget, cfg PollerConfig, log *logger.Logger) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		ServiceBase: service.NewServiceBase("store-poller", log),
		source:      source,
		target:      target,
		interval:    interval,
	}
}

// Start performs an initial sync and begins the refresh loop. A failed
// initial read aborts startup.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.GetStatus().SetStatus(service.StatusStarting)

	if err := p.syncOnce(ctx); err != nil {
		p.GetStatus().SetError(err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(runCtx)

	p.GetStatus().SetStatus(service.StatusRunning)
	p.LogInfo("Descriptor poller started", "interval", p.interval)
	return nil
}

// Stop halts the refresh loop
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel == nil {
		return nil
	}
	p.GetStatus().SetStatus(service.StatusStopping)
	p.cancel()
	p.cancel = nil

	select {
	case <-p.done:
	case <-ctx.Done():
		p.LogWarn("Poller did not stop in time")
	}

	p.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.syncOnce(ctx); err != nil {
				// Steady-state read failures keep the registry on its
				// current stream set until the next tick.
				p.LogError("Descriptor refresh failed", err)
			}
		}
	}
}

func (p *Poller) syncOnce(ctx context.Context) error {
	descriptors, err := p.source.ListDescriptors(ctx)
	if err != nil {
		return err
	}
	p.target.Sync(descriptors)
	p.LogDebug("Descriptor snapshot applied", "streams", len(descriptors))
	return nil
}
