package env

import (
	"os"

	"github.com/celltools/unetpx/internal/envvar"
)

// Environment is the runtime environment of the process.
type Environment string

const (
	// Development enables human-readable console logging.
	Development Environment = "development"

	// Production enables structured JSON logging.
	Production Environment = "production"
)

// FromEnv resolves the environment from UNETPX_ENV, defaulting to development.
func FromEnv() Environment {
	switch os.Getenv(envvar.UnetpxEnv) {
	case "production", "prod":
		return Production
	default:
		return Development
	}
}
