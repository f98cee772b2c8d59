package postprocess

import (
	"fmt"
	"image"
	"math"
)

// GammaTable builds the lookup 255 * (i/255)^(1/gamma), truncated to 8 bits.
func GammaTable(gamma float64) ([256]uint8, error) {
	var lut [256]uint8
	if gamma <= 0 || math.IsNaN(gamma) || math.IsInf(gamma, 0) {
		return lut, fmt.Errorf("gamma %v: %w", gamma, ErrInvalidGamma)
	}
	inv := 1.0 / gamma
	for i := range lut {
		v := math.Pow(float64(i)/255, inv) * 255
		// Absorb float error so gamma 1 maps every sample onto itself.
		lut[i] = uint8(math.Min(v+1e-9, 255))
	}
	return lut, nil
}

// ApplyTable remaps every sample of img through lut in place.
func ApplyTable(img *image.Gray, lut [256]uint8) {
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		row := img.Pix[off : off+b.Dx()]
		for i, v := range row {
			row[i] = lut[v]
		}
	}
}
