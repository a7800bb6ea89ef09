package backend

import (
	"context"

	"github.com/celltools/unetpx/internal/pixel"
)

// Provider is a string identifier for a classification engine.
type Provider string

const (
	// ProviderGraph runs the network as a gorgonia computation graph built
	// in-process from an npz checkpoint.
	ProviderGraph Provider = "graph"

	// ProviderONNX runs an exported ONNX copy of the network through the
	// onnxruntime shared library.
	ProviderONNX Provider = "onnx"
)

// Classifier is the core interface for pixel classification engines. An
// engine owns its models and decides how they are cached across calls.
type Classifier interface {
	// Provider returns the engine identifier.
	Provider() Provider

	// Classify returns the per-pixel class probabilities for one image.
	Classify(ctx context.Context, img *pixel.Image) (*pixel.ClassMap, error)

	// Close cleans up resources.
	Close() error
}
