// Package depth provides the depth estimators and background isolators that
// feed the stereogram compositor: ONNX models (MiDaS style depth, U²-Net
// mattes), a luminance heuristic, and precomputed depth images.
package depth

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	// ErrStageFailure marks a failing or misbehaving estimator or isolator.
	ErrStageFailure = errors.New("external stage failure")
	// ErrCGORequired is returned when ONNX inference is attempted without CGO support.
	ErrCGORequired = errors.New("onnx inference requires CGO support; rebuild with CGO_ENABLED=1")
)

// Estimator turns a color image into an 8-bit depth map of the same size.
type Estimator interface {
	Estimate(ctx context.Context, img image.Image) (*image.Gray, error)
}

// EstimatorFunc adapts a plain function to Estimator.
type EstimatorFunc func(ctx context.Context, img image.Image) (*image.Gray, error)

// Estimate calls f.
func (f EstimatorFunc) Estimate(ctx context.Context, img image.Image) (*image.Gray, error) {
	return f(ctx, img)
}

// Validate checks that d is a usable depth map for a frame with bounds src.
func Validate(src image.Rectangle, d *image.Gray) error {
	if d == nil {
		return fmt.Errorf("estimator returned no depth map: %w", ErrStageFailure)
	}
	if d.Bounds().Dx() != src.Dx() || d.Bounds().Dy() != src.Dy() {
		return fmt.Errorf("depth map is %dx%d, frame is %dx%d: %w",
			d.Bounds().Dx(), d.Bounds().Dy(), src.Dx(), src.Dy(), ErrStageFailure)
	}
	return nil
}

// Run estimates depth for img and validates the result, wrapping estimator
// errors in ErrStageFailure.
func Run(ctx context.Context, e Estimator, img image.Image) (*image.Gray, error) {
	d, err := e.Estimate(ctx, img)
	if err != nil {
		if errors.Is(err, ErrStageFailure) {
			return nil, err
		}
		return nil, fmt.Errorf("depth estimation: %w: %w", ErrStageFailure, err)
	}
	if err := Validate(img.Bounds(), d); err != nil {
		return nil, err
	}
	return d, nil
}

// Luminance treats brightness as depth: bright is near. Useful without a model
// and for synthetic inputs such as rendered height maps.
type Luminance struct {
	Invert bool
}

// Estimate converts img to 8-bit luma.
func (l Luminance) Estimate(_ context.Context, img image.Image) (*image.Gray, error) {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			v := uint8((0.299*float64(r)+0.587*float64(g)+0.114*float64(bl))/257 + 0.5)
			if l.Invert {
				v = 255 - v
			}
			gray.Pix[(y-b.Min.Y)*gray.Stride+(x-b.Min.X)] = v
		}
	}
	return gray, nil
}

// File serves a precomputed depth image, scaled to each frame's size.
type File struct {
	Path string

	once sync.Once
	img  image.Image
	err  error
}

// NewFile returns an estimator backed by the depth image at path.
func NewFile(path string) *File {
	return &File{Path: path}
}

// Estimate loads the depth image on first use and scales it to img's size.
func (f *File) Estimate(_ context.Context, img image.Image) (*image.Gray, error) {
	f.once.Do(func() {
		f.img, f.err = loadImage(f.Path)
	})
	if f.err != nil {
		return nil, fmt.Errorf("load depth image %s: %w", f.Path, f.err)
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.ApproxBiLinear.Scale(gray, gray.Bounds(), f.img, f.img.Bounds(), draw.Src, nil)
	return gray, nil
}

// ToGray converts any image to an 8-bit gray raster anchored at the origin.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.SetGray(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(img.At(x, y)).(color.Gray))
		}
	}
	return dst
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}
