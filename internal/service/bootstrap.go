package service

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/celltools/unetpx/internal/backend"
	"github.com/celltools/unetpx/internal/backend/graph"
	"github.com/celltools/unetpx/internal/backend/onnx"
	"github.com/celltools/unetpx/internal/config"
	"github.com/celltools/unetpx/internal/weights"
	"github.com/celltools/unetpx/internal/xfs"
)

// NewFromConfig provisions the configured model artifacts and assembles the
// segmentation service around the selected engine.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Segmentation, error) {
	registry := backend.NewRegistry()
	provider := backend.Provider(cfg.Engine.Provider)

	switch provider {
	case backend.ProviderGraph:
		ckptPath, err := ensureCheckpoint(ctx, cfg)
		if err != nil {
			return nil, err
		}

		ckpt, err := weights.OpenCheckpoint(ckptPath)
		if err != nil {
			return nil, err
		}

		registry.Register(graph.NewBackend(ckpt, cfg.Engine.Options))

	case backend.ProviderONNX:
		modelPath, err := ensureONNXModel(ctx, cfg)
		if err != nil {
			return nil, err
		}

		engine, err := onnx.NewBackend(modelPath, cfg.Engine.Options)
		if err != nil {
			return nil, err
		}

		registry.Register(engine)

	default:
		return nil, fmt.Errorf("service: unknown engine provider %q", cfg.Engine.Provider)
	}

	return NewSegmentation(registry, provider), nil
}

// ensureCheckpoint resolves the npz checkpoint path, downloading the
// published model on first use unless the config points at a local file.
func ensureCheckpoint(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.Weights.Path != "" {
		return xfs.ExpandTilde(cfg.Weights.Path), nil
	}

	file := weights.NucleiCheckpoint
	if cfg.Weights.FileID != "" {
		file.ID = cfg.Weights.FileID
	}
	if cfg.Weights.Filename != "" {
		file.Name = cfg.Weights.Filename
	}
	file.SHA256 = cfg.Weights.SHA256

	dest := filepath.Join(cfg.CachePath(), file.Name)
	if err := weights.NewProvisioner().Ensure(ctx, file, dest); err != nil {
		return "", err
	}

	return dest, nil
}

// ensureONNXModel resolves the exported ONNX model path, provisioning it
// when the config names a remote file instead of a local path.
func ensureONNXModel(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.Engine.ONNX.ModelPath != "" {
		return xfs.ExpandTilde(cfg.Engine.ONNX.ModelPath), nil
	}

	if cfg.Engine.ONNX.FileID == "" {
		return "", fmt.Errorf("service: onnx engine requires model_path or file_id")
	}

	file := weights.File{
		ID:     cfg.Engine.ONNX.FileID,
		Name:   cfg.Engine.ONNX.Filename,
		SHA256: cfg.Engine.ONNX.SHA256,
	}
	if file.Name == "" {
		file.Name = "unet.onnx"
	}

	dest := filepath.Join(cfg.CachePath(), file.Name)
	if err := weights.NewProvisioner().Ensure(ctx, file, dest); err != nil {
		return "", err
	}

	return dest, nil
}
