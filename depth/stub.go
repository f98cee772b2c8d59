//go:build !cgo
// +build !cgo

package depth

import (
	"context"
	"image"
)

// ONNXEstimator is unavailable without CGO.
type ONNXEstimator struct{}

// NewONNXEstimator returns ErrCGORequired.
func NewONNXEstimator(modelPath string, opts Options) (*ONNXEstimator, error) {
	return nil, ErrCGORequired
}

// Estimate returns ErrCGORequired.
func (e *ONNXEstimator) Estimate(ctx context.Context, img image.Image) (*image.Gray, error) {
	return nil, ErrCGORequired
}

// Close is a no-op.
func (e *ONNXEstimator) Close() error { return nil }

// ONNXIsolator is unavailable without CGO.
type ONNXIsolator struct{}

// NewONNXIsolator returns ErrCGORequired.
func NewONNXIsolator(modelPath string, opts Options) (*ONNXIsolator, error) {
	return nil, ErrCGORequired
}

// Isolate returns ErrCGORequired.
func (s *ONNXIsolator) Isolate(ctx context.Context, img image.Image) (image.Image, error) {
	return nil, ErrCGORequired
}

// Close is a no-op.
func (s *ONNXIsolator) Close() error { return nil }
