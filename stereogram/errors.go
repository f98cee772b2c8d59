package stereogram

import "errors"

var (
	// ErrEmptyInput is returned for zero-sized depth maps or patterns.
	ErrEmptyInput = errors.New("empty input")
	// ErrInvalidDimensions is returned when a pattern does not fit its depth map.
	ErrInvalidDimensions = errors.New("invalid dimensions")
	// ErrInvalidGeometry is returned when the viewing geometry cannot yield a
	// positive disparity.
	ErrInvalidGeometry = errors.New("invalid geometry")
)
