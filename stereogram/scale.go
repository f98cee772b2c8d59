package stereogram

import (
	"image"
	"image/color"
)

// Scale8 maps a sample in [0,1) to 8 bits by scaling with 255, clipping to
// [0,255] and truncating.
func Scale8(v float64) uint8 {
	v *= 255
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

// RGBA converts the image to an opaque 8-bit raster.
func (m *Image) RGBA() *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			si := (y*m.Width + x) * 3
			di := y*dst.Stride + x*4
			dst.Pix[di+0] = Scale8(m.Pix[si+0])
			dst.Pix[di+1] = Scale8(m.Pix[si+1])
			dst.Pix[di+2] = Scale8(m.Pix[si+2])
			dst.Pix[di+3] = 255
		}
	}
	return dst
}

// RGBA renders the pattern tile as an 8-bit image.
func (p *Pattern) RGBA() *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			c := p.At(y, x)
			dst.SetRGBA(x, y, color.RGBA{R: Scale8(c[0]), G: Scale8(c[1]), B: Scale8(c[2]), A: 255})
		}
	}
	return dst
}
