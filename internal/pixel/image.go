package pixel

import (
	"fmt"
	"image"
	"image/color"
)

// Image is a single-channel intensity plane in row-major order.
// Intensity values may span an arbitrary numeric range.
type Image struct {
	H, W int
	Pix  []float32
}

// NewImage wraps an intensity plane, validating its length against the
// declared dimensions.
func NewImage(h, w int, pix []float32) (*Image, error) {
	if h <= 0 || w <= 0 || len(pix) != h*w {
		return nil, fmt.Errorf("%w: %dx%d with %d values", ErrBounds, h, w, len(pix))
	}

	return &Image{H: h, W: w, Pix: pix}, nil
}

// FromImage converts a decoded image to a single intensity plane using the
// standard luma weights, scaled to [0,1].
func FromImage(src image.Image) *Image {
	bounds := src.Bounds()
	h, w := bounds.Dy(), bounds.Dx()

	pix := make([]float32, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := color.Gray16Model.Convert(src.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
			pix[y*w+x] = float32(g.Y) / 65535.0
		}
	}

	return &Image{H: h, W: w, Pix: pix}
}

// At returns the intensity at row y, column x.
func (im *Image) At(y, x int) float32 {
	return im.Pix[y*im.W+x]
}

// MinMax scans the plane for its intensity extrema.
func (im *Image) MinMax() (min, max float32) {
	min, max = im.Pix[0], im.Pix[0]
	for _, v := range im.Pix[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	return min, max
}

// Normalized returns a copy shifted by the minimum intensity and scaled by
// the maximum of the shifted plane, mapping the input range onto [0,1].
// A uniform image has no range to scale and returns ErrFlat.
func (im *Image) Normalized() (*Image, error) {
	min, max := im.MinMax()
	span := max - min
	if span == 0 {
		return nil, ErrFlat
	}

	pix := make([]float32, len(im.Pix))
	for i, v := range im.Pix {
		pix[i] = (v - min) / span
	}

	return &Image{H: im.H, W: im.W, Pix: pix}, nil
}
