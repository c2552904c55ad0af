package pii

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
)

// PixelRect is a clamped pixel-space redaction rectangle.
type PixelRect struct {
	Left   int
	Top    int
	Right  int
	Bottom int
}

// toPixels converts a normalized region to pixel coordinates with padding,
// clamped to the image bounds.
func toPixels(m Match, width, height, padding int) PixelRect {
	r := PixelRect{
		Left:   int(m.Region.Left*float64(width)) - padding,
		Top:    int(m.Region.Top*float64(height)) - padding,
		Right:  int((m.Region.Left+m.Region.Width)*float64(width)) + padding,
		Bottom: int((m.Region.Top+m.Region.Height)*float64(height)) + padding,
	}
	if r.Left < 0 {
		r.Left = 0
	}
	if r.Top < 0 {
		r.Top = 0
	}
	if r.Right > width {
		r.Right = width
	}
	if r.Bottom > height {
		r.Bottom = height
	}
	return r
}

// RedactImage paints a white rectangle over every matched region and
// re-encodes the page as JPEG.
func RedactImage(data []byte, matches []Match, padding int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode page image: %w", err)
	}

	canvas := imaging.Clone(img)
	bounds := canvas.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	for _, m := range matches {
		r := toPixels(m, width, height, padding)
		rect := image.Rect(r.Left, r.Top, r.Right, r.Bottom)
		draw.Draw(canvas, rect, image.NewUniform(color.White), image.Point{}, draw.Src)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return nil, fmt.Errorf("failed to encode redacted image: %w", err)
	}
	return buf.Bytes(), nil
}
