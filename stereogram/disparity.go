package stereogram

import (
	"fmt"
	"math"
)

// Geometry describes the assumed viewing setup used to turn depth into
// horizontal disparity.
type Geometry struct {
	// EyeSeparation is the distance between the viewer's eyes.
	EyeSeparation float64 `json:"eyeSeparation"`
	// NearPlane is the distance between the near and far planes.
	NearPlane float64 `json:"nearPlane"`
	// FarPlane is the distance between the stereogram plane and the near plane.
	FarPlane float64 `json:"farPlane"`
}

// DefaultGeometry returns E=3, b=1, a=4.
func DefaultGeometry() Geometry {
	return Geometry{EyeSeparation: 3, NearPlane: 1.0, FarPlane: 4}
}

// Validate reports whether every depth sample maps to a positive disparity.
func (g Geometry) Validate() error {
	switch {
	case g.EyeSeparation <= 0:
		return fmt.Errorf("eye separation %v: %w", g.EyeSeparation, ErrInvalidGeometry)
	case g.FarPlane <= 0:
		return fmt.Errorf("far plane %v: %w", g.FarPlane, ErrInvalidGeometry)
	case g.NearPlane < 0 || g.NearPlane >= g.FarPlane:
		return fmt.Errorf("near plane %v with far plane %v: %w", g.NearPlane, g.FarPlane, ErrInvalidGeometry)
	}
	return nil
}

// HalfDisparity maps a depth sample (0 far, 255 near) to half the horizontal
// separation between repeated pattern occurrences, rounded to the nearest pixel.
func (g Geometry) HalfDisparity(v uint8) int {
	return int(math.Floor(g.raw(v) + 0.5))
}

func (g Geometry) raw(v uint8) float64 {
	z := g.FarPlane - g.NearPlane*float64(v)/255
	return z * g.EyeSeparation / 2 * (1 + z)
}

// Table returns HalfDisparity for every possible depth sample.
func (g Geometry) Table() [256]int {
	var t [256]int
	for i := range t {
		t[i] = g.HalfDisparity(uint8(i))
	}
	return t
}
