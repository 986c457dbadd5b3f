package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/visionward/sitewatch/internal/logger"
	"github.com/visionward/sitewatch/internal/media"
)

// fakeSession feeds a fixed number of frames then fails with readErr
type fakeSession struct {
	frames  int
	readErr error
	closed  atomic.Bool
}

func (s *fakeSession) ReadFrame(ctx context.Context) (*media.Frame, error) {
	if s.frames <= 0 {
		if s.readErr != nil {
			return nil, s.readErr
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s.frames--
	return &media.Frame{
		Data:  []byte("frame"),
		Codec: media.CodecJPEG,
	}, nil
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

func testDescriptor() Descriptor {
	return Descriptor{
		ID:       "stream-1",
		Protocol: ProtocolRTSP,
		Target:   "rtsp://example.com/stream",
		Enabled:  true,
	}
}

func testConfig() ClientConfig {
	return ClientConfig{
		QueueSize:            10,
		MaxReconnectAttempts: 3,
		ReconnectDelay:       10 * time.Millisecond,
		ReadTimeout:          time.Second,
	}
}

func waitForStatus(t *testing.T, c Client, want Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Status never reached %s, stuck at %s", want, c.Status())
}

type testClient struct {
	*clientBase
}

func newTestClient(cfg ClientConfig, open opener) *testClient {
	log := logger.NewNopLogger()
	return &testClient{
		clientBase: newClientBase(testDescriptor(), cfg, log, open),
	}
}

func TestClient_ReconnectBound(t *testing.T) {
	var attempts atomic.Int64
	client := newTestClient(testConfig(), func(ctx context.Context) (session, error) {
		attempts.Add(1)
		return nil, errors.New("connection refused")
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	waitForStatus(t, client, StatusError, 2*time.Second)

	if got := attempts.Load(); got != 3 {
		t.Errorf("Expected exactly 3 connect attempts, got %d", got)
	}

	// Permanent error: no further retries after exhaustion.
	time.Sleep(100 * time.Millisecond)
	if got := attempts.Load(); got != 3 {
		t.Errorf("Client retried after permanent error, attempts %d", got)
	}
}

func TestClient_CaptureAndLatestFrame(t *testing.T) {
	client := newTestClient(testConfig(), func(ctx context.Context) (session, error) {
		return &fakeSession{frames: 3}, nil
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	waitForStatus(t, client, StatusConnected, 2*time.Second)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if client.Frames().Len() == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	frame := client.LatestFrame()
	if frame == nil {
		t.Fatal("LatestFrame returned nil after capture")
	}
	if frame.StreamID != "stream-1" {
		t.Errorf("Frame should carry the stream id, got %q", frame.StreamID)
	}
	if frame.Sequence != 3 {
		t.Errorf("Latest frame should be the newest (seq 3), got %d", frame.Sequence)
	}
}

func TestClient_ReconnectAfterReadFailure(t *testing.T) {
	var dials atomic.Int64
	client := newTestClient(testConfig(), func(ctx context.Context) (session, error) {
		dials.Add(1)
		return &fakeSession{frames: 1, readErr: errors.New("read reset")}, nil
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	// Every session fails after one frame; successful connects reset
	// the attempt counter, so the loop keeps reconnecting well past
	// the max attempt budget.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if dials.Load() >= 5 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if dials.Load() < 5 {
		t.Errorf("Expected continued reconnects past the attempt budget, got %d dials", dials.Load())
	}
	if client.Status() == StatusError {
		t.Error("Successful connects should keep resetting the attempt counter")
	}
}

func TestClient_ErrorCallback(t *testing.T) {
	errCh := make(chan error, 16)
	cfg := testConfig()
	cfg.OnError = func(streamID string, err error) {
		if streamID != "stream-1" {
			errCh <- fmt.Errorf("wrong stream id %q", streamID)
			return
		}
		errCh <- err
	}

	client := newTestClient(cfg, func(ctx context.Context) (session, error) {
		return nil, errors.New("connection refused")
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("Error callback received nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Error callback never fired")
	}

	waitForStatus(t, client, StatusError, 2*time.Second)
}

func TestClient_Disconnect(t *testing.T) {
	sess := &fakeSession{frames: 0} // blocks on ctx after frames run out
	client := newTestClient(testConfig(), func(ctx context.Context) (session, error) {
		return sess, nil
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitForStatus(t, client, StatusConnected, 2*time.Second)

	if err := client.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	if client.Status() != StatusInactive {
		t.Errorf("Expected status %s after disconnect, got %s", StatusInactive, client.Status())
	}
	if !sess.closed.Load() {
		t.Error("Session should be closed on disconnect")
	}

	// Idempotent.
	if err := client.Disconnect(); err != nil {
		t.Errorf("Second disconnect should be a no-op, got %v", err)
	}
}

func TestClient_DoubleConnect(t *testing.T) {
	client := newTestClient(testConfig(), func(ctx context.Context) (session, error) {
		return &fakeSession{}, nil
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	if err := client.Connect(context.Background()); err == nil {
		t.Error("Second connect should fail while running")
	}
}

func TestDescriptor_Option(t *testing.T) {
	desc := Descriptor{
		Options: map[string]string{"username": "admin", "empty": ""},
	}

	if got := desc.Option("username", "fallback"); got != "admin" {
		t.Errorf("Expected 'admin', got %q", got)
	}
	if got := desc.Option("missing", "fallback"); got != "fallback" {
		t.Errorf("Expected fallback for missing key, got %q", got)
	}
	if got := desc.Option("empty", "fallback"); got != "fallback" {
		t.Errorf("Expected fallback for empty value, got %q", got)
	}
}
