package weights

import "errors"

// Error definitions for the weights package.
var (
	ErrChecksum     = errors.New("downloaded file does not match expected checksum")
	ErrArrayMissing = errors.New("checkpoint is missing a required array")
	ErrArrayShape   = errors.New("checkpoint array has unexpected shape")
)
