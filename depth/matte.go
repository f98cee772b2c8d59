package depth

import (
	"image"
	"image/color"
)

// ApplyMatte returns img with alpha taken from matte, a gray mask of the same
// size where 0 is background. Background pixels become fully transparent black.
func ApplyMatte(img image.Image, matte *image.Gray) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			a := matte.Pix[y*matte.Stride+x]
			if a == 0 {
				continue
			}
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			c.A = a
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}
