package unet

import "errors"

// Error definitions for the unet package.
var (
	ErrShape     = errors.New("unsupported spatial dimensions")
	ErrNotLoaded = errors.New("model weights are not loaded")
)
