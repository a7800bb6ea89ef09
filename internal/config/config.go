package config

import (
	"os"

	"github.com/celltools/unetpx/internal/envvar"
	"github.com/celltools/unetpx/internal/xfs"
)

// Config holds the main configuration for the application.
type Config struct {
	Version string        `json:"version"           yaml:"version"`
	Storage StorageConfig `json:"storage,omitempty" yaml:"storage,omitempty"`
	Weights WeightsConfig `json:"weights,omitempty" yaml:"weights,omitempty"`
	Engine  EngineConfig  `json:"engine,omitempty"  yaml:"engine,omitempty"`
	Server  ServerConfig  `json:"server,omitempty"  yaml:"server,omitempty"`
	Log     LogConfig     `json:"log,omitempty"     yaml:"log,omitempty"`
}

// StorageConfig holds configuration for the local weights cache.
type StorageConfig struct {
	CacheDir string `json:"cache_dir,omitempty" yaml:"cache_dir,omitempty"`
}

// WeightsConfig identifies the checkpoint to provision. Empty fields fall
// back to the published nuclei model; Path points at a local checkpoint and
// bypasses provisioning entirely.
type WeightsConfig struct {
	FileID   string `json:"file_id,omitempty"  yaml:"file_id,omitempty"`
	Filename string `json:"filename,omitempty" yaml:"filename,omitempty"`
	SHA256   string `json:"sha256,omitempty"   yaml:"sha256,omitempty"`
	Path     string `json:"path,omitempty"     yaml:"path,omitempty"`
}

// EngineConfig selects and parameterizes the classification engine.
type EngineConfig struct {
	Provider string         `json:"provider,omitempty" yaml:"provider,omitempty"`
	Options  map[string]any `json:"options,omitempty"  yaml:"options,omitempty"`
	ONNX     ONNXConfig     `json:"onnx,omitempty"     yaml:"onnx,omitempty"`
}

// ONNXConfig locates the exported ONNX model, either on disk or as a
// provisionable remote file.
type ONNXConfig struct {
	ModelPath string `json:"model_path,omitempty" yaml:"model_path,omitempty"`
	FileID    string `json:"file_id,omitempty"    yaml:"file_id,omitempty"`
	Filename  string `json:"filename,omitempty"   yaml:"filename,omitempty"`
	SHA256    string `json:"sha256,omitempty"     yaml:"sha256,omitempty"`
}

// ServerConfig holds the HTTP boundary configuration.
type ServerConfig struct {
	HTTPPort int `json:"http_port,omitempty" yaml:"http_port,omitempty"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	File  string `json:"file,omitempty"  yaml:"file,omitempty"`
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
}

// CachePath returns the weights cache directory.
// Precedence:
// 1. UNETPX_CACHE_DIR environment variable.
// 2. CacheDir field in the config.
// 3. Default per-OS cache path.
func (c *Config) CachePath() string {
	if p := os.Getenv(envvar.UnetpxCacheDir); p != "" {
		return xfs.ExpandTilde(p)
	}
	if c.Storage.CacheDir != "" {
		return xfs.ExpandTilde(c.Storage.CacheDir)
	}
	return xfs.ExpandTilde(DefaultCachePath())
}
