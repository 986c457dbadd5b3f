package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

const (
	// Pixel delta above which a pixel counts as changed.
	motionPixelCutoff = 25

	// Number of recent samples averaged into the motion score.
	motionWindowSize = 10

	blurRadius = 2
)

// MotionScorer estimates per-stream motion by differencing consecutive
// frames. Each Score call converts the frame to grayscale, blurs it to
// suppress sensor noise, diffs it against the previous frame, and
// reports the percentage of pixels that changed, averaged over a
// rolling window. Not safe for concurrent use; callers hold one scorer
// per stream.
type MotionScorer struct {
	prev       []uint8
	prevWidth  int
	prevHeight int

	window []float64
	next   int
	filled int
}

// NewMotionScorer creates a scorer with an empty history window
func NewMotionScorer() *MotionScorer {
	return &MotionScorer{
		window: make([]float64, motionWindowSize),
	}
}

// Score ingests a JPEG frame and returns the windowed motion score as
// a percentage in [0, 100]. The first frame always scores 0 since
// there is nothing to compare against.
func (m *MotionScorer) Score(frame *Frame) (float64, error) {
	if frame == nil || len(frame.Data) == 0 {
		return 0, fmt.Errorf("empty frame")
	}
	if frame.Codec != "" && frame.Codec != CodecJPEG {
		return 0, fmt.Errorf("motion scoring requires jpeg frames, got %s", frame.Codec)
	}

	img, err := jpeg.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return 0, fmt.Errorf("failed to decode frame: %w", err)
	}

	gray := toGray(img)
	blurred := boxBlur(gray.Pix, gray.Rect.Dx(), gray.Rect.Dy(), blurRadius)
	width, height := gray.Rect.Dx(), gray.Rect.Dy()

	sample := 0.0
	if m.prev != nil && m.prevWidth == width && m.prevHeight == height {
		changed := 0
		for i := range blurred {
			d := int(blurred[i]) - int(m.prev[i])
			if d < 0 {
				d = -d
			}
			if d > motionPixelCutoff {
				changed++
			}
		}
		sample = float64(changed) / float64(len(blurred)) * 100.0
		m.push(sample)
	}

	m.prev = blurred
	m.prevWidth = width
	m.prevHeight = height

	return m.average(), nil
}

// Reset clears the previous frame and the history window. Used after a
// stream reconnect so the first frame of the new session does not diff
// against stale data.
func (m *MotionScorer) Reset() {
	m.prev = nil
	m.next = 0
	m.filled = 0
}

func (m *MotionScorer) push(sample float64) {
	m.window[m.next] = sample
	m.next = (m.next + 1) % len(m.window)
	if m.filled < len(m.window) {
		m.filled++
	}
}

func (m *MotionScorer) average() float64 {
	if m.filled == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < m.filled; i++ {
		sum += m.window[i]
	}
	return sum / float64(m.filled)
}

// toGray converts any image to 8-bit grayscale
func toGray(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok {
		return gray
	}
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x-bounds.Min.X, y-bounds.Min.Y, img.At(x, y))
		}
	}
	return gray
}

// boxBlur applies a separable box filter of the given radius
func boxBlur(pix []uint8, width, height, radius int) []uint8 {
	if radius <= 0 || width == 0 || height == 0 {
		out := make([]uint8, len(pix))
		copy(out, pix)
		return out
	}

	tmp := make([]uint8, len(pix))
	out := make([]uint8, len(pix))

	// Horizontal pass
	for y := 0; y < height; y++ {
		row := y * width
		for x := 0; x < width; x++ {
			sum, count := 0, 0
			for dx := -radius; dx <= radius; dx++ {
				nx := x + dx
				if nx < 0 || nx >= width {
					continue
				}
				sum += int(pix[row+nx])
				count++
			}
			tmp[row+x] = uint8(sum / count)
		}
	}

	// Vertical pass
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			sum, count := 0, 0
			for dy := -radius; dy <= radius; dy++ {
				ny := y + dy
				if ny < 0 || ny >= height {
					continue
				}
				sum += int(tmp[ny*width+x])
				count++
			}
			out[y*width+x] = uint8(sum / count)
		}
	}

	return out
}
