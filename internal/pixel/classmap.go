package pixel

import (
	"fmt"
	"image"
	"image/color"
)

// Channel indexes one class plane of a ClassMap.
type Channel int

// Class channels follow the published model's color convention:
// red stores background, green stores nuclei, blue stores boundaries.
const (
	ChannelBackground Channel = iota
	ChannelNucleus
	ChannelBoundary

	NumChannels = 3
)

// ClassMap holds per-pixel class probabilities for one image, stored as
// three contiguous H×W planes (channel-major). Each pixel's channel values
// are non-negative and sum to one.
type ClassMap struct {
	H, W int
	Data []float32
}

// NewClassMap wraps probability planes, validating their combined length.
func NewClassMap(h, w int, data []float32) (*ClassMap, error) {
	if h <= 0 || w <= 0 || len(data) != NumChannels*h*w {
		return nil, fmt.Errorf("%w: %dx%dx%d with %d values", ErrBounds, h, w, NumChannels, len(data))
	}

	return &ClassMap{H: h, W: w, Data: data}, nil
}

// At returns the probability of class c at row y, column x.
func (m *ClassMap) At(y, x int, c Channel) float32 {
	return m.Data[int(c)*m.H*m.W+y*m.W+x]
}

// Plane returns the contiguous probability plane of one class.
func (m *ClassMap) Plane(c Channel) []float32 {
	n := m.H * m.W
	return m.Data[int(c)*n : (int(c)+1)*n]
}

// Dominant returns the most probable class at row y, column x.
func (m *ClassMap) Dominant(y, x int) Channel {
	best := ChannelBackground
	bestP := m.At(y, x, ChannelBackground)
	for c := ChannelNucleus; c < NumChannels; c++ {
		if p := m.At(y, x, c); p > bestP {
			best, bestP = c, p
		}
	}

	return best
}

// RGBA renders the probability planes as an RGB composite, one class per
// color channel.
func (m *ClassMap) RGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, m.W, m.H))
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: quantize(m.At(y, x, ChannelBackground)),
				G: quantize(m.At(y, x, ChannelNucleus)),
				B: quantize(m.At(y, x, ChannelBoundary)),
				A: 0xff,
			})
		}
	}

	return img
}

func quantize(p float32) uint8 {
	switch {
	case p <= 0:
		return 0
	case p >= 1:
		return 255
	default:
		return uint8(p*255 + 0.5)
	}
}
