package stereogram

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// DefaultPatternWidth is the width in pixels of the repeating noise tile.
const DefaultPatternWidth = 64

// Pattern is the random RGB tile repeated across a stereogram. Samples are in
// [0,1) and stored row-major, three per pixel.
type Pattern struct {
	Width  int
	Height int
	Pix    []float64
}

// At returns the RGB sample at row r, column c.
func (p *Pattern) At(r, c int) [3]float64 {
	i := (r*p.Width + c) * 3
	return [3]float64{p.Pix[i], p.Pix[i+1], p.Pix[i+2]}
}

// NewRand returns a deterministic random source for pattern generation.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// GeneratePattern fills a height x width tile with independent uniform samples
// drawn from rng. A nil rng is seeded from the clock.
func GeneratePattern(height, width int, rng *rand.Rand) (*Pattern, error) {
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("pattern %dx%d: %w", width, height, ErrInvalidDimensions)
	}
	if rng == nil {
		rng = NewRand(uint64(time.Now().UnixNano()))
	}
	p := &Pattern{Width: width, Height: height, Pix: make([]float64, width*height*3)}
	for i := range p.Pix {
		p.Pix[i] = rng.Float64()
	}
	return p, nil
}
