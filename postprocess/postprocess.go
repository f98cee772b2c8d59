// Package postprocess conditions depth maps before composition.
package postprocess

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
)

var (
	// ErrInvalidGamma is returned for a non-positive gamma.
	ErrInvalidGamma = errors.New("gamma must be positive")
	// ErrSizeMismatch is returned when an isolator changes the frame size.
	ErrSizeMismatch = errors.New("size mismatch")
)

// Isolator suppresses the background of a color frame, returning an image
// whose background pixels are transparent.
type Isolator interface {
	Isolate(ctx context.Context, img image.Image) (image.Image, error)
}

// Options toggles and parameterizes the conditioning stages.
type Options struct {
	RemoveBackground bool    `json:"removeBackground"`
	AdjustContrast   bool    `json:"adjustContrast"`
	Sharpen          bool    `json:"sharpen"`
	Gamma            float64 `json:"gamma"`
	SharpenWeight    float64 `json:"sharpenWeight"`
}

// DefaultOptions enables every stage with gamma 0.5 and sharpen weight 0.5.
func DefaultOptions() Options {
	return Options{
		RemoveBackground: true,
		AdjustContrast:   true,
		Sharpen:          true,
		Gamma:            0.5,
		SharpenWeight:    0.5,
	}
}

// Chain applies the enabled stages in order: background mask, gamma, sharpen.
type Chain struct {
	Options  Options
	Isolator Isolator
}

// Apply returns a conditioned copy of depth. frame is the color image depth
// was estimated from; background isolation runs on it and pushes background
// samples to the far plane.
func (c Chain) Apply(ctx context.Context, frame image.Image, depth *image.Gray) (*image.Gray, error) {
	out := cloneGray(depth)
	if c.Options.RemoveBackground && c.Isolator != nil {
		fg, err := c.Isolator.Isolate(ctx, frame)
		if err != nil {
			return nil, fmt.Errorf("background isolation: %w", err)
		}
		if err := MaskBackground(out, fg); err != nil {
			return nil, err
		}
	}
	if c.Options.AdjustContrast {
		lut, err := GammaTable(c.Options.Gamma)
		if err != nil {
			return nil, err
		}
		ApplyTable(out, lut)
	}
	if c.Options.Sharpen {
		out = Sharpen(out, c.Options.SharpenWeight)
	}
	return out, nil
}

// MaskBackground zeroes every sample of depth whose pixel in fg is fully
// transparent. fg must have depth's size.
func MaskBackground(depth *image.Gray, fg image.Image) error {
	fb := fg.Bounds()
	db := depth.Bounds()
	if fb.Dx() != db.Dx() || fb.Dy() != db.Dy() {
		return fmt.Errorf("isolated frame is %dx%d, depth map is %dx%d: %w",
			fb.Dx(), fb.Dy(), db.Dx(), db.Dy(), ErrSizeMismatch)
	}
	for y := 0; y < db.Dy(); y++ {
		for x := 0; x < db.Dx(); x++ {
			_, _, _, a := fg.At(fb.Min.X+x, fb.Min.Y+y).RGBA()
			if a == 0 {
				depth.SetGray(db.Min.X+x, db.Min.Y+y, color.Gray{})
			}
		}
	}
	return nil
}

func cloneGray(src *image.Gray) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		off := src.PixOffset(b.Min.X, b.Min.Y+y)
		copy(dst.Pix[y*dst.Stride:], src.Pix[off:off+b.Dx()])
	}
	return dst
}
