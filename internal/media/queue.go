package media

import (
	"sync"
)

// FrameQueue is a bounded FIFO of frames. When the queue is full, a
// push evicts the oldest frame so readers always see the most recent
// capacity frames. Safe for concurrent use.
type FrameQueue struct {
	mu       sync.Mutex
	frames   []*Frame
	capacity int
	dropped  uint64
}

// NewFrameQueue creates a queue holding at most capacity frames
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = 10
	}
	return &FrameQueue{
		frames:   make([]*Frame, 0, capacity),
		capacity: capacity,
	}
}

// Push adds a frame, evicting the oldest one if the queue is full.
// Returns true if an older frame was dropped to make room.
func (q *FrameQueue) Push(frame *Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	if len(q.frames) >= q.capacity {
		copy(q.frames, q.frames[1:])
		q.frames = q.frames[:len(q.frames)-1]
		q.dropped++
		evicted = true
	}
	q.frames = append(q.frames, frame)
	return evicted
}

// Pop removes and returns the oldest frame, or nil if the queue is
// empty
func (q *FrameQueue) Pop() *Frame {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) == 0 {
		return nil
	}
	frame := q.frames[0]
	copy(q.frames, q.frames[1:])
	q.frames = q.frames[:len(q.frames)-1]
	return frame
}

// Latest returns the most recent frame without removing it, or nil if
// the queue is empty
func (q *FrameQueue) Latest() *Frame {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) == 0 {
		return nil
	}
	return q.frames[len(q.frames)-1]
}

// Len returns the number of frames currently queued
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Capacity returns the maximum number of frames the queue holds
func (q *FrameQueue) Capacity() int {
	return q.capacity
}

// Dropped returns the number of frames evicted since creation
func (q *FrameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear discards all queued frames
func (q *FrameQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.frames = q.frames[:0]
}
