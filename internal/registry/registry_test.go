package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/visionward/sitewatch/internal/logger"
	"github.com/visionward/sitewatch/internal/media"
	"github.com/visionward/sitewatch/internal/stream"
)

// fakeClient is a controllable stream.Client
type fakeClient struct {
	desc stream.Descriptor

	mu        sync.Mutex
	status    stream.Status
	latest    *media.Frame
	connects  int
	connected bool
}

func newFakeClient(id string) *fakeClient {
	return &fakeClient{
		desc:   stream.Descriptor{ID: id, Protocol: stream.ProtocolRTSP, Target: "rtsp://host/" + id, Enabled: true},
		status: stream.StatusInactive,
	}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.connected = true
	f.status = stream.StatusConnected
	return nil
}

func (f *fakeClient) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.status = stream.StatusInactive
	return nil
}

func (f *fakeClient) LatestFrame() *media.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

func (f *fakeClient) Status() stream.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeClient) Descriptor() stream.Descriptor {
	return f.desc
}

func (f *fakeClient) setFrame(seq uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest = &media.Frame{
		Data:      []byte("frame"),
		Codec:     media.CodecJPEG,
		Timestamp: time.Now(),
		StreamID:  f.desc.ID,
		Sequence:  seq,
	}
}

// fakeFactory hands out pre-built clients by id
type fakeFactory struct {
	mu      sync.Mutex
	clients map[string]*fakeClient
	fail    bool
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{clients: make(map[string]*fakeClient)}
}

func (f *fakeFactory) build(desc stream.Descriptor) (stream.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("factory failure")
	}
	client := newFakeClient(desc.ID)
	client.desc = desc
	f.clients[desc.ID] = client
	return client, nil
}

func newTestRegistry(factory *fakeFactory, interval time.Duration) *Registry {
	return New(Config{
		SampleInterval: interval,
		Factory:        factory.build,
	}, logger.NewNopLogger())
}

func TestRegistry_AddRemove(t *testing.T) {
	factory := newFakeFactory()
	reg := newTestRegistry(factory, time.Second)

	desc := stream.Descriptor{ID: "s1", Protocol: stream.ProtocolRTSP, Target: "rtsp://x", Enabled: true}
	if err := reg.Add(desc); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if reg.StreamCount() != 1 {
		t.Errorf("Expected 1 stream, got %d", reg.StreamCount())
	}

	// Duplicate ids are rejected.
	if err := reg.Add(desc); err == nil {
		t.Error("Adding a duplicate id should fail")
	}

	if err := reg.Remove("s1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if reg.StreamCount() != 0 {
		t.Errorf("Expected 0 streams after remove, got %d", reg.StreamCount())
	}

	if err := reg.Remove("s1"); err == nil {
		t.Error("Removing an unknown stream should fail")
	}
}

func TestRegistry_StartConnectsStreams(t *testing.T) {
	factory := newFakeFactory()
	reg := newTestRegistry(factory, time.Second)

	reg.Add(stream.Descriptor{ID: "s1", Protocol: stream.ProtocolRTSP, Target: "t", Enabled: true})
	reg.Add(stream.Descriptor{ID: "s2", Protocol: stream.ProtocolRTSP, Target: "t", Enabled: true})

	if err := reg.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer reg.Stop(context.Background())

	for _, id := range []string{"s1", "s2"} {
		status, err := reg.Status(id)
		if err != nil {
			t.Fatalf("Status(%s) failed: %v", id, err)
		}
		if status != stream.StatusConnected {
			t.Errorf("Stream %s should be connected, got %s", id, status)
		}
	}

	// Streams added while running connect immediately.
	reg.Add(stream.Descriptor{ID: "s3", Protocol: stream.ProtocolRTSP, Target: "t", Enabled: true})
	if status, _ := reg.Status("s3"); status != stream.StatusConnected {
		t.Errorf("Stream added while running should connect, got %s", status)
	}
}

func TestRegistry_SamplerDispatchesLatestFrame(t *testing.T) {
	factory := newFakeFactory()
	reg := newTestRegistry(factory, 20*time.Millisecond)

	reg.Add(stream.Descriptor{ID: "s1", Protocol: stream.ProtocolRTSP, Target: "t", Enabled: true})

	var handled atomic.Int64
	var lastSeq atomic.Uint64
	reg.SetHandler("s1", func(ctx context.Context, frame *media.Frame) {
		handled.Add(1)
		lastSeq.Store(frame.Sequence)
	})

	if err := reg.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer reg.Stop(context.Background())

	factory.clients["s1"].setFrame(1)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && handled.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if handled.Load() != 1 {
		t.Fatalf("Expected 1 dispatch, got %d", handled.Load())
	}

	// The same frame is never dispatched twice.
	time.Sleep(100 * time.Millisecond)
	if handled.Load() != 1 {
		t.Errorf("Unchanged frame re-dispatched, count %d", handled.Load())
	}

	// A newer frame is dispatched on the next due tick.
	factory.clients["s1"].setFrame(2)
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && handled.Load() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	if handled.Load() != 2 || lastSeq.Load() != 2 {
		t.Errorf("Expected dispatch of frame 2, count %d seq %d", handled.Load(), lastSeq.Load())
	}
}

func TestRegistry_SamplerCadence(t *testing.T) {
	factory := newFakeFactory()
	interval := 50 * time.Millisecond
	reg := newTestRegistry(factory, interval)

	reg.Add(stream.Descriptor{ID: "s1", Protocol: stream.ProtocolRTSP, Target: "t", Enabled: true})

	var handled atomic.Int64
	reg.SetHandler("s1", func(ctx context.Context, frame *media.Frame) {
		handled.Add(1)
	})

	if err := reg.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer reg.Stop(context.Background())

	// Produce frames far faster than the sample interval.
	stop := make(chan struct{})
	go func() {
		seq := uint64(0)
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				seq++
				factory.clients["s1"].setFrame(seq)
			}
		}
	}()

	time.Sleep(300 * time.Millisecond)
	close(stop)

	// Roughly 300ms / 50ms = 6 dispatches; allow slack for timing.
	got := handled.Load()
	if got < 3 || got > 9 {
		t.Errorf("Sampler cadence off: expected ~6 dispatches in 300ms, got %d", got)
	}
}

func TestRegistry_StreamsWithoutHandlerIncurNoDispatch(t *testing.T) {
	factory := newFakeFactory()
	reg := newTestRegistry(factory, 10*time.Millisecond)

	reg.Add(stream.Descriptor{ID: "s1", Protocol: stream.ProtocolRTSP, Target: "t", Enabled: true})

	if err := reg.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer reg.Stop(context.Background())

	factory.clients["s1"].setFrame(1)
	time.Sleep(50 * time.Millisecond)

	// No handler: capture continues, nothing dispatched, no panic.
	if status, _ := reg.Status("s1"); status != stream.StatusConnected {
		t.Errorf("Stream should remain connected, got %s", status)
	}
}

func TestRegistry_Sync(t *testing.T) {
	factory := newFakeFactory()
	reg := newTestRegistry(factory, time.Second)

	reg.Sync([]stream.Descriptor{
		{ID: "s1", Protocol: stream.ProtocolRTSP, Target: "t", Enabled: true},
		{ID: "s2", Protocol: stream.ProtocolRTSP, Target: "t", Enabled: true},
		{ID: "s3", Protocol: stream.ProtocolRTSP, Target: "t", Enabled: false},
	})

	if reg.StreamCount() != 2 {
		t.Fatalf("Expected 2 streams after sync (disabled skipped), got %d", reg.StreamCount())
	}

	// s2 disappears, s4 appears.
	reg.Sync([]stream.Descriptor{
		{ID: "s1", Protocol: stream.ProtocolRTSP, Target: "t", Enabled: true},
		{ID: "s4", Protocol: stream.ProtocolRTSP, Target: "t", Enabled: true},
	})

	if reg.StreamCount() != 2 {
		t.Fatalf("Expected 2 streams after second sync, got %d", reg.StreamCount())
	}
	if _, ok := reg.Client("s2"); ok {
		t.Error("s2 should have been removed")
	}
	if _, ok := reg.Client("s4"); !ok {
		t.Error("s4 should have been added")
	}
}

func TestRegistry_FactoryFailure(t *testing.T) {
	factory := newFakeFactory()
	factory.fail = true
	reg := newTestRegistry(factory, time.Second)

	err := reg.Add(stream.Descriptor{ID: "s1", Protocol: stream.ProtocolRTSP, Target: "t", Enabled: true})
	if err == nil {
		t.Error("Add should surface factory errors")
	}
	if reg.StreamCount() != 0 {
		t.Errorf("Failed add should not register a stream, count %d", reg.StreamCount())
	}
}

func TestRegistry_DefaultHandlerCoversSyncedStreams(t *testing.T) {
	factory := newFakeFactory()
	reg := newTestRegistry(factory, 20*time.Millisecond)

	var handled atomic.Int64
	reg.SetDefaultHandler(func(ctx context.Context, frame *media.Frame) {
		handled.Add(1)
	})

	if err := reg.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer reg.Stop(context.Background())

	// A stream arriving through Sync has no per-stream handler.
	reg.Sync([]stream.Descriptor{
		{ID: "s1", Protocol: stream.ProtocolRTSP, Target: "t", Enabled: true},
	})
	factory.clients["s1"].setFrame(1)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && handled.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if handled.Load() == 0 {
		t.Fatal("Default handler should receive frames from synced streams")
	}
}
