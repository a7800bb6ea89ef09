package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/celltools/unetpx/internal/backend"
	"github.com/celltools/unetpx/internal/pixel"
)

// Module identity, kept stable for hosts that persist per-module settings.
const (
	ModuleName     = "ClassifyPixels-Unet"
	ModuleRevision = 1
)

// Segmentation bridges a host's per-image invocation to a classification
// engine. The host hands over one image and receives one probability map;
// engine selection, model lifetime and weight provisioning are resolved
// behind this boundary.
type Segmentation struct {
	backends *backend.Registry
	provider backend.Provider
}

// NewSegmentation creates a new Segmentation service.
func NewSegmentation(backends *backend.Registry, provider backend.Provider) *Segmentation {
	return &Segmentation{
		backends: backends,
		provider: provider,
	}
}

// Provider returns the configured engine provider.
func (s *Segmentation) Provider() backend.Provider {
	return s.provider
}

// Classify classifies every pixel of img into background, nucleus or
// boundary probabilities.
func (s *Segmentation) Classify(ctx context.Context, img *pixel.Image) (*pixel.ClassMap, error) {
	c, ok := s.backends.Get(s.provider)
	if !ok {
		return nil, backend.ErrNotFound
	}

	start := time.Now()
	out, err := c.Classify(ctx, img)
	if err != nil {
		return nil, err
	}

	slog.Debug("Segmentation finished",
		"provider", s.provider, "height", img.H, "width", img.W, "duration", time.Since(start))

	return out, nil
}

// Close releases every registered engine.
func (s *Segmentation) Close() error {
	return s.backends.Close()
}
