package screenshot

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"github.com/visionward/sitewatch/internal/detect"
	"github.com/visionward/sitewatch/internal/media"
)

const (
	boxLineWidth = 3
	bannerHeight = 18
)

// categoryColors picks the outline color per violation category
var categoryColors = map[detect.Category]color.RGBA{
	detect.CategoryFace:       {R: 66, G: 135, B: 245, A: 255},
	detect.CategoryHelmet:     {R: 235, G: 64, B: 52, A: 255},
	detect.CategoryDrowsiness: {R: 245, G: 158, B: 66, A: 255},
	detect.CategoryInactivity: {R: 168, G: 85, B: 247, A: 255},
}

var defaultBoxColor = color.RGBA{R: 235, G: 64, B: 52, A: 255}

// Annotation describes what to draw onto a frame
type Annotation struct {
	Category detect.Category
	Boxes    []media.Box
}

// Annotate draws the category banner and bounding boxes onto a JPEG
// frame and re-encodes it. Box coordinates in [0,1] are treated as
// normalized and scaled to the image size.
func Annotate(frameJPEG []byte, ann Annotation, quality int) ([]byte, error) {
	src, err := jpeg.Decode(bytes.NewReader(frameJPEG))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	bounds := src.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, src, bounds.Min, draw.Src)

	boxColor, ok := categoryColors[ann.Category]
	if !ok {
		boxColor = defaultBoxColor
	}

	// Banner strip across the top in the category color.
	banner := image.Rect(bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Min.Y+bannerHeight)
	draw.Draw(rgba, banner.Intersect(bounds), &image.Uniform{C: boxColor}, image.Point{}, draw.Src)

	for _, box := range ann.Boxes {
		drawBoxOutline(rgba, scaleBox(box, bounds), boxColor)
	}

	if quality < 1 || quality > 100 {
		quality = 85
	}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, rgba, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode annotated frame: %w", err)
	}
	return out.Bytes(), nil
}

// scaleBox converts a detection box to pixel coordinates within bounds
func scaleBox(box media.Box, bounds image.Rectangle) image.Rectangle {
	width := float64(bounds.Dx())
	height := float64(bounds.Dy())

	x1, y1, x2, y2 := box.X1, box.Y1, box.X2, box.Y2
	if x2 <= 1.0 && y2 <= 1.0 {
		x1 *= width
		y1 *= height
		x2 *= width
		y2 *= height
	}

	rect := image.Rect(
		bounds.Min.X+int(x1), bounds.Min.Y+int(y1),
		bounds.Min.X+int(x2), bounds.Min.Y+int(y2),
	)
	return rect.Intersect(bounds)
}

// drawBoxOutline paints a rectangle outline of boxLineWidth pixels
func drawBoxOutline(img *image.RGBA, rect image.Rectangle, c color.RGBA) {
	if rect.Empty() {
		return
	}
	for t := 0; t < boxLineWidth; t++ {
		top := rect.Min.Y + t
		bottom := rect.Max.Y - 1 - t
		for x := rect.Min.X; x < rect.Max.X; x++ {
			if top < rect.Max.Y {
				img.SetRGBA(x, top, c)
			}
			if bottom >= rect.Min.Y {
				img.SetRGBA(x, bottom, c)
			}
		}
		left := rect.Min.X + t
		right := rect.Max.X - 1 - t
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			if left < rect.Max.X {
				img.SetRGBA(left, y, c)
			}
			if right >= rect.Min.X {
				img.SetRGBA(right, y, c)
			}
		}
	}
}
