// Package graph is the in-process classification engine: it assembles the
// network as a gorgonia graph sized to each image and binds the npz
// checkpoint to it.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/celltools/unetpx/internal/backend"
	"github.com/celltools/unetpx/internal/mapsafe"
	"github.com/celltools/unetpx/internal/pixel"
	"github.com/celltools/unetpx/internal/unet"
	"github.com/celltools/unetpx/internal/weights"
)

type shapeKey struct {
	h, w int
}

// Backend implements backend.Classifier on gorgonia. Models are built once
// per distinct input shape and reused across calls; the rebuild_per_call
// option disables the cache for hosts that want construction-per-invocation
// semantics.
type Backend struct {
	ckpt           *weights.Checkpoint
	rebuildPerCall bool

	mu     sync.Mutex
	models map[shapeKey]*unet.Model
}

// NewBackend creates the engine around a loaded checkpoint. Options:
// rebuild_per_call (bool, default false).
func NewBackend(ckpt *weights.Checkpoint, options map[string]any) *Backend {
	return &Backend{
		ckpt:           ckpt,
		rebuildPerCall: mapsafe.Get(options, "rebuild_per_call", false),
		models:         make(map[shapeKey]*unet.Model),
	}
}

// Provider returns the engine identifier.
func (b *Backend) Provider() backend.Provider {
	return backend.ProviderGraph
}

// Classify runs one forward pass, building (or reusing) the model for the
// image's dimensions.
func (b *Backend) Classify(ctx context.Context, img *pixel.Image) (*pixel.ClassMap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	m, err := b.model(img.H, img.W)
	if err != nil {
		return nil, err
	}
	if b.rebuildPerCall {
		defer m.Close()
	}

	start := time.Now()
	out, err := m.Classify(img)
	if err != nil {
		return nil, err
	}

	slog.Debug("Pixel classification finished", "height", img.H, "width", img.W, "duration", time.Since(start))
	return out, nil
}

// model returns a weight-loaded model for the given dimensions.
func (b *Backend) model(h, w int) (*unet.Model, error) {
	key := shapeKey{h, w}
	if !b.rebuildPerCall {
		if m, ok := b.models[key]; ok {
			return m, nil
		}
	}

	start := time.Now()
	m, err := unet.New(h, w)
	if err != nil {
		return nil, err
	}

	if err := m.SetWeights(b.ckpt); err != nil {
		m.Close()
		return nil, fmt.Errorf("graph: failed to load weights: %w", err)
	}

	slog.Debug("Model initialized", "height", h, "width", w, "duration", time.Since(start))

	if !b.rebuildPerCall {
		b.models[key] = m
	}
	return m, nil
}

// Close releases every cached model.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for key, m := range b.models {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(b.models, key)
	}

	return firstErr
}
