package media

import (
	"math"
	"time"
)

// Codec identifies the encoding of a frame payload.
type Codec string

const (
	CodecJPEG Codec = "jpeg"
	CodecH264 Codec = "h264"
)

// Frame represents a single video frame captured from a stream
type Frame struct {
	Data      []byte    // Encoded frame data (JPEG or H264 access unit)
	Codec     Codec     // Payload encoding
	Timestamp time.Time // Capture timestamp
	Width     int       // Frame width, 0 if unknown
	Height    int       // Frame height, 0 if unknown
	StreamID  string    // Stream this frame came from
	Sequence  uint64    // Monotonic per-stream sequence number
}

// Box is an axis-aligned bounding box in pixel coordinates
type Box struct {
	X1, Y1 float64
	X2, Y2 float64
}

// Width returns the box width, or 0 for a degenerate box
func (b Box) Width() float64 {
	if b.X2 <= b.X1 {
		return 0
	}
	return b.X2 - b.X1
}

// Height returns the box height, or 0 for a degenerate box
func (b Box) Height() float64 {
	if b.Y2 <= b.Y1 {
		return 0
	}
	return b.Y2 - b.Y1
}

// Area returns the box area, or 0 for a degenerate box
func (b Box) Area() float64 {
	return b.Width() * b.Height()
}

// Intersect returns the intersection of two boxes. The zero Box is
// returned when they do not overlap.
func (b Box) Intersect(other Box) Box {
	x1 := math.Max(b.X1, other.X1)
	y1 := math.Max(b.Y1, other.Y1)
	x2 := math.Min(b.X2, other.X2)
	y2 := math.Min(b.Y2, other.Y2)
	if x2 <= x1 || y2 <= y1 {
		return Box{}
	}
	return Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// OverlapRatio returns the fraction of b covered by other, relative to
// the area of b. Returns 0 when b has no area.
func (b Box) OverlapRatio(other Box) float64 {
	area := b.Area()
	if area == 0 {
		return 0
	}
	return b.Intersect(other).Area() / area
}
