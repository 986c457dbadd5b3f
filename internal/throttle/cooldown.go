package throttle

import (
	"sync"
	"time"
)

// Stats counts throttle decisions. Rejected detections stay visible
// here even though they produce no alert.
type Stats struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
}

// Cooldown enforces a minimum interval between accepted events per
// subject key. One lock guards the whole map so the test-and-set in
// Decide is atomic: concurrent callers for the same key at the same
// instant produce exactly one acceptance.
type Cooldown struct {
	window time.Duration

	mu       sync.Mutex
	last     map[string]time.Time
	accepted uint64
	rejected uint64
}

// NewCooldown creates a cooldown with the given window
func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{
		window: window,
		last:   make(map[string]time.Time),
	}
}

// Decide reports whether an event for the key is accepted now. The
// first call for a key is always accepted; later calls are accepted
// only when the window has fully elapsed. Acceptance updates the
// timestamp under the same lock.
func (c *Cooldown) Decide(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, seen := c.last[key]
	if seen && now.Sub(last) < c.window {
		c.rejected++
		return false
	}
	c.last[key] = now
	c.accepted++
	return true
}

// Peek reports whether the key would currently be accepted, without
// consuming the acceptance
func (c *Cooldown) Peek(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, seen := c.last[key]
	return !seen || now.Sub(last) >= c.window
}

// Forget clears the key's acceptance history
func (c *Cooldown) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, key)
}

// Stats returns a copy of the decision counters
func (c *Cooldown) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Accepted: c.accepted, Rejected: c.rejected}
}

// Window returns the configured cooldown window
func (c *Cooldown) Window() time.Duration {
	return c.window
}
