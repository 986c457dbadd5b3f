package media

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func makeFrame(seq uint64) *Frame {
	return &Frame{
		Data:      []byte(fmt.Sprintf("frame-%d", seq)),
		Codec:     CodecJPEG,
		Timestamp: time.Now(),
		StreamID:  "stream-1",
		Sequence:  seq,
	}
}

func TestNewFrameQueue_DefaultCapacity(t *testing.T) {
	q := NewFrameQueue(0)
	if q.Capacity() != 10 {
		t.Errorf("Expected default capacity 10, got %d", q.Capacity())
	}

	q2 := NewFrameQueue(-5)
	if q2.Capacity() != 10 {
		t.Errorf("Expected default capacity 10, got %d", q2.Capacity())
	}
}

func TestFrameQueue_PushPop(t *testing.T) {
	q := NewFrameQueue(5)

	if q.Pop() != nil {
		t.Error("Pop on empty queue should return nil")
	}

	for i := uint64(1); i <= 3; i++ {
		if evicted := q.Push(makeFrame(i)); evicted {
			t.Errorf("Push %d should not evict", i)
		}
	}

	if q.Len() != 3 {
		t.Errorf("Expected length 3, got %d", q.Len())
	}

	frame := q.Pop()
	if frame == nil || frame.Sequence != 1 {
		t.Errorf("Expected oldest frame (seq 1), got %+v", frame)
	}

	if q.Len() != 2 {
		t.Errorf("Expected length 2 after pop, got %d", q.Len())
	}
}

func TestFrameQueue_DropOldest(t *testing.T) {
	q := NewFrameQueue(3)

	// Push more frames than capacity; only the most recent 3 survive.
	for i := uint64(1); i <= 7; i++ {
		q.Push(makeFrame(i))
	}

	if q.Len() != 3 {
		t.Fatalf("Expected length 3, got %d", q.Len())
	}

	if q.Dropped() != 4 {
		t.Errorf("Expected 4 dropped frames, got %d", q.Dropped())
	}

	for want := uint64(5); want <= 7; want++ {
		frame := q.Pop()
		if frame == nil || frame.Sequence != want {
			t.Errorf("Expected frame seq %d, got %+v", want, frame)
		}
	}
}

func TestFrameQueue_Latest(t *testing.T) {
	q := NewFrameQueue(3)

	if q.Latest() != nil {
		t.Error("Latest on empty queue should return nil")
	}

	q.Push(makeFrame(1))
	q.Push(makeFrame(2))

	frame := q.Latest()
	if frame == nil || frame.Sequence != 2 {
		t.Errorf("Expected latest frame seq 2, got %+v", frame)
	}

	// Latest does not consume.
	if q.Len() != 2 {
		t.Errorf("Latest should not remove frames, length %d", q.Len())
	}
}

func TestFrameQueue_Clear(t *testing.T) {
	q := NewFrameQueue(3)
	q.Push(makeFrame(1))
	q.Push(makeFrame(2))

	q.Clear()

	if q.Len() != 0 {
		t.Errorf("Expected empty queue after clear, got %d", q.Len())
	}

	if q.Pop() != nil {
		t.Error("Pop after clear should return nil")
	}
}

func TestFrameQueue_ConcurrentAccess(t *testing.T) {
	q := NewFrameQueue(10)

	var wg sync.WaitGroup
	for g := 0; g < 5; g++ {
		wg.Add(1)
		go func(base uint64) {
			defer wg.Done()
			for i := uint64(0); i < 100; i++ {
				q.Push(makeFrame(base*1000 + i))
				q.Pop()
				q.Latest()
			}
		}(uint64(g))
	}
	wg.Wait()

	if q.Len() > q.Capacity() {
		t.Errorf("Queue exceeded capacity: %d > %d", q.Len(), q.Capacity())
	}
}
