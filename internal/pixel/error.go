package pixel

import "errors"

// Error definitions for the pixel package.
var (
	ErrFlat   = errors.New("image has uniform intensity, cannot normalize")
	ErrBounds = errors.New("pixel data does not match declared dimensions")
)
