package screenshot

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/visionward/sitewatch/internal/logger"
	"github.com/visionward/sitewatch/internal/service"
)

// RetentionConfig configures screenshot cleanup
type RetentionConfig struct {
	// Dir is the screenshot directory to sweep
	Dir string

	// RetentionDays is how long screenshots are kept. Defaults to 7.
	RetentionDays int

	// SweepInterval between cleanup runs. Defaults to 1 hour.
	SweepInterval time.Duration
}

// Retention deletes screenshots past their retention age on a timer.
// Cleanup is maintenance, not correctness: a failed sweep is logged
// and retried at the next interval.
type Retention struct {
	*service.ServiceBase

	dir           string
	retentionDays int
	sweepInterval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// NewRetention creates a retention sweeper
func NewRetention(cfg RetentionConfig, log *logger.Logger) *Retention {
	days := cfg.RetentionDays
	if days <= 0 {
		days = 7
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	return &Retention{
		ServiceBase:   service.NewServiceBase("screenshot-retention", log),
		dir:           cfg.Dir,
		retentionDays: days,
		sweepInterval: interval,
	}
}

// Start begins the sweep loop
func (r *Retention) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.GetStatus().SetStatus(service.StatusStarting)

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(runCtx)

	r.GetStatus().SetStatus(service.StatusRunning)
	r.LogInfo("Retention sweeper started",
		"dir", r.dir, "retention_days", r.retentionDays)
	return nil
}

// Stop halts the sweep loop
func (r *Retention) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel == nil {
		return nil
	}
	r.GetStatus().SetStatus(service.StatusStopping)
	r.cancel()
	r.cancel = nil

	select {
	case <-r.done:
	case <-ctx.Done():
		r.LogWarn("Retention sweeper did not stop in time")
	}

	r.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

func (r *Retention) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if deleted, err := r.CleanupOnce(ctx); err != nil {
				r.LogError("Retention sweep failed", err)
			} else if deleted > 0 {
				r.LogInfo("Deleted expired screenshots", "count", deleted)
			}
		}
	}
}

// CleanupOnce deletes every screenshot older than the retention period
// and returns how many were removed
func (r *Retention) CleanupOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-time.Duration(r.retentionDays) * 24 * time.Hour)

	deleted := 0
	err := filepath.WalkDir(r.dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				r.LogWarn("Failed to delete expired screenshot",
					"path", path, "error", removeErr)
				return nil
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
