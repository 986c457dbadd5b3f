package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/visionward/sitewatch/internal/logger"
	"github.com/visionward/sitewatch/internal/service"
)

// Mode selects how Submit delivers
type Mode string

const (
	// ModeAsync enqueues and returns immediately; a worker delivers
	ModeAsync Mode = "async"

	// ModeSync delivers inline and returns the delivery result
	ModeSync Mode = "sync"
)

// DispatcherConfig configures the notification dispatcher
type DispatcherConfig struct {
	// Mode defaults to async
	Mode Mode

	// QueueSize bounds the async queue. Defaults to 100.
	QueueSize int

	// Retries is how many delivery attempts a job gets before it is
	// dropped. Defaults to 3.
	Retries int

	// RetryDelay is the fixed wait between attempts. Defaults to 2s.
	RetryDelay time.Duration

	// OnDelivered and OnFailed, when set, fire once per final
	// delivery outcome. Used to feed external counters.
	OnDelivered func()
	OnFailed    func()
}

// DispatcherStats tracks delivery outcomes. A dropped job is one the
// async queue rejected because it was full.
type DispatcherStats struct {
	Submitted     uint64    `json:"submitted"`
	Delivered     uint64    `json:"delivered"`
	Failed        uint64    `json:"failed"`
	Dropped       uint64    `json:"dropped"`
	LastError     string    `json:"last_error,omitempty"`
	LastSuccessAt time.Time `json:"last_success_at,omitempty"`
	LastErrorAt   time.Time `json:"last_error_at,omitempty"`
}

// Dispatcher delivers notification jobs through a Sender. In async
// mode one worker drains a bounded queue serially; a job that exhausts
// its retries is dropped with its failure recorded, never re-queued.
type Dispatcher struct {
	*service.ServiceBase

	sender     Sender
	mode       Mode
	retries    int
	retryDelay time.Duration

	onDelivered func()
	onFailed    func()

	queue  chan Job
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	running bool

	statsMu sync.Mutex
	stats   DispatcherStats
}

// NewDispatcher creates a dispatcher over the given sender
func NewDispatcher(sender Sender, cfg DispatcherConfig, log *logger.Logger) *Dispatcher {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeAsync
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	return &Dispatcher{
		ServiceBase: service.NewServiceBase("notify-dispatcher", log),
		sender:      sender,
		mode:        mode,
		retries:     retries,
		retryDelay:  retryDelay,
		onDelivered: cfg.OnDelivered,
		onFailed:    cfg.OnFailed,
		queue:       make(chan Job, queueSize),
	}
}

// Start begins the async worker. In sync mode Start only marks the
// dispatcher running.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("dispatcher already running")
	}
	d.GetStatus().SetStatus(service.StatusStarting)

	if d.mode == ModeAsync {
		runCtx, cancel := context.WithCancel(context.Background())
		d.cancel = cancel
		d.done = make(chan struct{})
		go d.worker(runCtx)
	}

	d.running = true
	d.GetStatus().SetStatus(service.StatusRunning)
	d.LogInfo("Notification dispatcher started", "mode", d.mode, "retries", d.retries)
	return nil
}

// Stop halts the worker. Jobs still queued are abandoned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}
	d.GetStatus().SetStatus(service.StatusStopping)
	d.running = false

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
		select {
		case <-d.done:
		case <-ctx.Done():
			d.LogWarn("Dispatcher worker did not stop in time")
		}
	}

	d.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

// Submit hands a job to the dispatcher. Async mode never blocks: a
// full queue drops the job and records it in stats. Sync mode runs the
// full retry policy inline and returns the outcome.
func (d *Dispatcher) Submit(ctx context.Context, job Job) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher not running")
	}
	mode := d.mode
	d.mu.Unlock()

	d.statsMu.Lock()
	d.stats.Submitted++
	d.statsMu.Unlock()

	if mode == ModeSync {
		return d.deliver(ctx, job)
	}

	select {
	case d.queue <- job:
		return nil
	default:
		d.statsMu.Lock()
		d.stats.Dropped++
		d.statsMu.Unlock()
		d.LogWarn("Notification queue full, dropping job",
			"camera_id", job.Payload.CameraID, "category", job.Payload.Category)
		return nil
	}
}

// Probe runs the sender's health check when it offers one
func (d *Dispatcher) Probe(ctx context.Context) error {
	if prober, ok := d.sender.(interface{ Probe(context.Context) error }); ok {
		return prober.Probe(ctx)
	}
	return nil
}

// Stats returns a copy of the delivery counters
func (d *Dispatcher) Stats() DispatcherStats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

// QueueDepth returns how many jobs are waiting
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.queue:
			// Delivery failures are recorded, never propagated; the
			// job is gone after its last attempt.
			if err := d.deliver(ctx, job); err != nil {
				d.LogError("Notification dropped after retries", err,
					"camera_id", job.Payload.CameraID, "attempts", d.retries)
			}
		}
	}
}

// deliver runs the retry policy: exactly d.retries attempts with a
// fixed delay between them
func (d *Dispatcher) deliver(ctx context.Context, job Job) error {
	var lastErr error
	for attempt := 1; attempt <= d.retries; attempt++ {
		job.Attempts = attempt
		err := d.sender.Send(ctx, job)
		if err == nil {
			d.recordSuccess()
			return nil
		}
		lastErr = err
		job.LastError = err.Error()
		d.LogDebug("Delivery attempt failed",
			"attempt", attempt, "of", d.retries, "error", err)

		if attempt < d.retries {
			select {
			case <-ctx.Done():
				d.recordFailure(ctx.Err())
				return ctx.Err()
			case <-time.After(d.retryDelay):
			}
		}
	}
	d.recordFailure(lastErr)
	return fmt.Errorf("delivery failed after %d attempts: %w", d.retries, lastErr)
}

func (d *Dispatcher) recordSuccess() {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	d.stats.Delivered++
	d.stats.LastSuccessAt = time.Now()
	if d.onDelivered != nil {
		d.onDelivered()
	}
}

func (d *Dispatcher) recordFailure(err error) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	d.stats.Failed++
	d.stats.LastErrorAt = time.Now()
	if err != nil {
		d.stats.LastError = err.Error()
	}
	if d.onFailed != nil {
		d.onFailed()
	}
}
