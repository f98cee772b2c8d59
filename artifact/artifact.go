// Package artifact stores the inputs of a composition (depth map, pattern
// tile and geometry) as a CBOR bundle so a stereogram can be recomposed later
// without running any depth model.
package artifact

import (
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/stevecastle/autostereo/stereogram"
)

// Version is the bundle format written by Write.
const Version = 1

var (
	// ErrUnsupportedVersion is returned for bundles from a newer format.
	ErrUnsupportedVersion = errors.New("unsupported artifact version")
	// ErrCorrupt is returned when a bundle's sizes and payloads disagree.
	ErrCorrupt = errors.New("corrupt artifact")
)

// Bundle is one recorded composition. Pattern samples are stored at full
// precision so a replay is bit-identical.
type Bundle struct {
	Version       int                 `cbor:"version"`
	Width         int                 `cbor:"width"`
	Height        int                 `cbor:"height"`
	Depth         []byte              `cbor:"depth"`
	PatternWidth  int                 `cbor:"pattern_width"`
	PatternHeight int                 `cbor:"pattern_height"`
	Pattern       []float64           `cbor:"pattern"`
	Geometry      stereogram.Geometry `cbor:"geometry"`
	WrapPattern   bool                `cbor:"wrap_pattern,omitempty"`
	// Seed is the pattern seed, when the run was seeded.
	Seed *uint64 `cbor:"seed,omitempty"`
}

// New records a composition. The depth samples and pattern are copied.
func New(depth *image.Gray, p *stereogram.Pattern, c stereogram.Composer) *Bundle {
	b := depth.Bounds()
	pix := make([]byte, b.Dx()*b.Dy())
	for y := 0; y < b.Dy(); y++ {
		off := depth.PixOffset(b.Min.X, b.Min.Y+y)
		copy(pix[y*b.Dx():(y+1)*b.Dx()], depth.Pix[off:off+b.Dx()])
	}
	return &Bundle{
		Version:       Version,
		Width:         b.Dx(),
		Height:        b.Dy(),
		Depth:         pix,
		PatternWidth:  p.Width,
		PatternHeight: p.Height,
		Pattern:       append([]float64(nil), p.Pix...),
		Geometry:      c.Geometry,
		WrapPattern:   c.WrapPattern,
	}
}

// Check verifies that the payload lengths match the recorded sizes.
func (b *Bundle) Check() error {
	if b.Version < 1 || b.Version > Version {
		return fmt.Errorf("version %d: %w", b.Version, ErrUnsupportedVersion)
	}
	if b.Width <= 0 || b.Height <= 0 || len(b.Depth) != b.Width*b.Height {
		return fmt.Errorf("depth is %d bytes for %dx%d: %w", len(b.Depth), b.Width, b.Height, ErrCorrupt)
	}
	if b.PatternWidth <= 0 || b.PatternHeight <= 0 || len(b.Pattern) != b.PatternWidth*b.PatternHeight*3 {
		return fmt.Errorf("pattern has %d samples for %dx%d: %w", len(b.Pattern), b.PatternWidth, b.PatternHeight, ErrCorrupt)
	}
	return nil
}

// DepthMap returns the recorded depth map.
func (b *Bundle) DepthMap() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, b.Width, b.Height))
	copy(g.Pix, b.Depth)
	return g
}

// Tile returns the recorded pattern tile.
func (b *Bundle) Tile() *stereogram.Pattern {
	return &stereogram.Pattern{
		Width:  b.PatternWidth,
		Height: b.PatternHeight,
		Pix:    append([]float64(nil), b.Pattern...),
	}
}

var (
	encOnce sync.Once
	encMode cbor.EncMode
	encErr  error
)

func encoder() (cbor.EncMode, error) {
	encOnce.Do(func() {
		encMode, encErr = cbor.CoreDetEncOptions().EncMode()
	})
	return encMode, encErr
}

// Write encodes b to w.
func Write(w io.Writer, b *Bundle) error {
	if err := b.Check(); err != nil {
		return err
	}
	em, err := encoder()
	if err != nil {
		return fmt.Errorf("cbor encoder: %w", err)
	}
	if err := em.NewEncoder(w).Encode(b); err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	return nil
}

// Read decodes and checks one bundle from r.
func Read(r io.Reader) (*Bundle, error) {
	var b Bundle
	if err := cbor.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if err := b.Check(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Replay recomposes the stereogram recorded in b. workers is passed to the
// composer; zero uses GOMAXPROCS.
func Replay(b *Bundle, workers int) (*stereogram.Image, error) {
	if err := b.Check(); err != nil {
		return nil, err
	}
	c := stereogram.Composer{Geometry: b.Geometry, Workers: workers, WrapPattern: b.WrapPattern}
	return c.Compose(b.DepthMap(), b.Tile())
}
