package postprocess

import (
	"image"
	"math"
)

// Laplacian returns |∇²img| saturated to 8 bits, using the 4-neighbour kernel
// with reflect-101 borders.
func Laplacian(img *image.Gray) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	at := func(x, y int) int {
		return int(img.Pix[img.PixOffset(b.Min.X+reflect101(x, w), b.Min.Y+reflect101(y, h))])
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
			if v < 0 {
				v = -v
			}
			if v > 255 {
				v = 255
			}
			out.Pix[y*out.Stride+x] = uint8(v)
		}
	}
	return out
}

// Sharpen adds weight times the Laplacian magnitude back onto img.
func Sharpen(img *image.Gray, weight float64) *image.Gray {
	lap := Laplacian(img)
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < b.Dx(); x++ {
			v := float64(img.Pix[off+x]) + weight*float64(lap.Pix[y*lap.Stride+x])
			out.Pix[y*out.Stride+x] = saturate(v)
		}
	}
	return out
}

// reflect101 mirrors an out-of-range index without repeating the edge sample.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

func saturate(v float64) uint8 {
	v = math.RoundToEven(v)
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
