package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/celltools/unetpx/internal/envvar"
)

const defaultHTTPPort = 8966

// DefaultConfigPath returns the default path for the unetpx config directory.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "unetpx", "config")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "unetpx")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "unetpx")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "unetpx")
		}
		return filepath.Join(home, ".config", "unetpx")
	}
}

// DefaultCachePath returns the default path for the weights cache directory.
func DefaultCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "unetpx", "cache")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", "unetpx", "cache")
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "unetpx")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
			return filepath.Join(xdg, "unetpx")
		}
		return filepath.Join(home, ".cache", "unetpx")
	}
}

// DefaultHTTPPort returns the HTTP port, honoring UNETPX_HTTP_PORT.
func DefaultHTTPPort() int {
	if v := os.Getenv(envvar.UnetpxHTTPPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port < 65536 {
			return port
		}
	}
	return defaultHTTPPort
}

// Default returns a configuration with every optional field at its default.
func Default() *Config {
	return &Config{
		Version: "1",
		Engine:  EngineConfig{Provider: "graph"},
		Server:  ServerConfig{HTTPPort: DefaultHTTPPort()},
		Log:     LogConfig{Level: "info"},
	}
}

// applyDefaults fills zero-valued optional fields after unmarshaling.
func (c *Config) applyDefaults() {
	if c.Engine.Provider == "" {
		c.Engine.Provider = "graph"
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = DefaultHTTPPort()
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
