package backend

import "errors"

// Error definitions for the backend package.
var (
	ErrNotFound = errors.New("engine not found in registry")
)
