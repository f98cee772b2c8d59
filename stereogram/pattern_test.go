package stereogram

import (
	"errors"
	"slices"
	"testing"
)

func TestGeneratePatternRange(t *testing.T) {
	p, err := GeneratePattern(20, DefaultPatternWidth, NewRand(1))
	if err != nil {
		t.Fatalf("GeneratePattern() error = %v", err)
	}
	if p.Width != DefaultPatternWidth || p.Height != 20 {
		t.Fatalf("pattern is %dx%d; want %dx20", p.Width, p.Height, DefaultPatternWidth)
	}
	if len(p.Pix) != 20*DefaultPatternWidth*3 {
		t.Fatalf("len(Pix) = %d", len(p.Pix))
	}
	for i, v := range p.Pix {
		if v < 0 || v >= 1 {
			t.Fatalf("Pix[%d] = %v out of [0,1)", i, v)
		}
	}
}

func TestGeneratePatternSeeded(t *testing.T) {
	a, _ := GeneratePattern(8, 16, NewRand(42))
	b, _ := GeneratePattern(8, 16, NewRand(42))
	c, _ := GeneratePattern(8, 16, NewRand(43))
	if !slices.Equal(a.Pix, b.Pix) {
		t.Error("same seed produced different patterns")
	}
	if slices.Equal(a.Pix, c.Pix) {
		t.Error("different seeds produced identical patterns")
	}
}

func TestGeneratePatternNilRand(t *testing.T) {
	p, err := GeneratePattern(2, 2, nil)
	if err != nil {
		t.Fatalf("GeneratePattern() error = %v", err)
	}
	if len(p.Pix) != 12 {
		t.Fatalf("len(Pix) = %d; want 12", len(p.Pix))
	}
}

func TestGeneratePatternInvalid(t *testing.T) {
	for _, dims := range [][2]int{{0, 64}, {10, 0}, {-1, 64}} {
		if _, err := GeneratePattern(dims[0], dims[1], NewRand(1)); !errors.Is(err, ErrInvalidDimensions) {
			t.Errorf("GeneratePattern(%d, %d) error = %v; want ErrInvalidDimensions", dims[0], dims[1], err)
		}
	}
}
