package throttle

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCooldown_FirstCallAccepted(t *testing.T) {
	cooldown := NewCooldown(10 * time.Second)
	now := time.Now()

	if !cooldown.Decide("emp-1", now) {
		t.Error("First call for a key should be accepted")
	}
	if !cooldown.Decide("emp-2", now) {
		t.Error("First call for a different key should be accepted")
	}
}

func TestCooldown_Windowing(t *testing.T) {
	// Calls with consecutive gaps below the window: exactly the first
	// is accepted. A call a full window later is accepted again.
	window := 10 * time.Second
	cooldown := NewCooldown(window)
	start := time.Now()

	accepted := 0
	for i := 0; i < 5; i++ {
		if cooldown.Decide("emp-1", start.Add(time.Duration(i)*2*time.Second)) {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("Expected exactly 1 acceptance inside the window, got %d", accepted)
	}

	if !cooldown.Decide("emp-1", start.Add(window)) {
		t.Error("A call at exactly the window boundary should be accepted")
	}

	stats := cooldown.Stats()
	if stats.Accepted != 2 || stats.Rejected != 4 {
		t.Errorf("Expected 2 accepted / 4 rejected, got %+v", stats)
	}
}

func TestCooldown_AcceptanceResetsWindow(t *testing.T) {
	cooldown := NewCooldown(10 * time.Second)
	start := time.Now()

	cooldown.Decide("emp-1", start)
	if !cooldown.Decide("emp-1", start.Add(10*time.Second)) {
		t.Fatal("Second acceptance expected")
	}
	// The window restarts at the second acceptance, not the first.
	if cooldown.Decide("emp-1", start.Add(15*time.Second)) {
		t.Error("Window should be measured from the latest acceptance")
	}
}

func TestCooldown_KeysIndependent(t *testing.T) {
	cooldown := NewCooldown(time.Minute)
	now := time.Now()

	cooldown.Decide("emp-1", now)
	if !cooldown.Decide("emp-2", now) {
		t.Error("A different key should not be throttled")
	}
}

func TestCooldown_ConcurrentSingleWinner(t *testing.T) {
	cooldown := NewCooldown(time.Minute)
	now := time.Now()

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cooldown.Decide("emp-1", now) {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	if accepted.Load() != 1 {
		t.Errorf("Expected exactly 1 winner under concurrency, got %d", accepted.Load())
	}
}

func TestCooldown_PeekDoesNotConsume(t *testing.T) {
	cooldown := NewCooldown(time.Minute)
	now := time.Now()

	if !cooldown.Peek("emp-1", now) {
		t.Error("Unseen key should peek as acceptable")
	}
	if !cooldown.Decide("emp-1", now) {
		t.Error("Peek must not consume the acceptance")
	}
	if cooldown.Peek("emp-1", now.Add(time.Second)) {
		t.Error("Key inside the window should peek as throttled")
	}
}

func TestCooldown_Forget(t *testing.T) {
	cooldown := NewCooldown(time.Minute)
	now := time.Now()

	cooldown.Decide("emp-1", now)
	cooldown.Forget("emp-1")
	if !cooldown.Decide("emp-1", now.Add(time.Second)) {
		t.Error("Forgotten key should be accepted immediately")
	}
}
