package depth

import (
	"image"
	"image/color"
	"strings"

	resize "github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// Options configures how an ONNX model is fed and read.
type Options struct {
	// Path to the onnxruntime shared library (.dll/.so/.dylib). If empty, the
	// environment variable ONNXRUNTIME_SHARED_LIBRARY_PATH will be respected.
	ORTSharedLibraryPath string

	// Input and output tensor names in the model graph.
	InputName  string
	OutputName string

	// Image preprocessing settings
	InputWidth         int
	InputHeight        int
	NormalizeMeanRGB   [3]float32
	NormalizeStddevRGB [3]float32

	// Interpolation filter name: "bicubic", "bilinear", "nearest", or "catmullrom".
	Interpolation string

	// InputLayout determines the tensor data and shape ordering.
	// Supported values: "NCHW" (default) or "NHWC".
	InputLayout string

	// ColorOrder determines channel order: "RGB" or "BGR".
	ColorOrder string

	// Threads bounds intra-op parallelism. Zero leaves the runtime default.
	Threads int
}

// DefaultDepthOptions matches the DPT family of MiDaS exports: 384x384 NCHW
// RGB scaled to [-1,1].
func DefaultDepthOptions() Options {
	return Options{
		InputName:          "input",
		OutputName:         "output",
		InputWidth:         384,
		InputHeight:        384,
		NormalizeMeanRGB:   [3]float32{0.5, 0.5, 0.5},
		NormalizeStddevRGB: [3]float32{0.5, 0.5, 0.5},
		Interpolation:      "bicubic",
		InputLayout:        "NCHW",
		ColorOrder:         "RGB",
	}
}

// DefaultMatteOptions matches U²-Net salient object models: 320x320 NCHW RGB
// with ImageNet statistics.
func DefaultMatteOptions() Options {
	return Options{
		InputName:          "input.1",
		OutputName:         "1959",
		InputWidth:         320,
		InputHeight:        320,
		NormalizeMeanRGB:   [3]float32{0.485, 0.456, 0.406},
		NormalizeStddevRGB: [3]float32{0.229, 0.224, 0.225},
		Interpolation:      "bilinear",
		InputLayout:        "NCHW",
		ColorOrder:         "RGB",
	}
}

// tensorData resizes img to the model input size and lays it out as
// normalized float32 samples.
func tensorData(img image.Image, opts Options) []float32 {
	var dst image.Image
	if strings.EqualFold(strings.TrimSpace(opts.Interpolation), "bicubic") {
		dst = resize.Resize(uint(opts.InputWidth), uint(opts.InputHeight), img, resize.Bicubic)
	} else {
		rgba := image.NewRGBA(image.Rect(0, 0, opts.InputWidth, opts.InputHeight))
		scaler := chooseScaler(opts.Interpolation)
		scaler.Scale(rgba, rgba.Bounds(), img, img.Bounds(), draw.Src, nil)
		dst = rgba
	}
	db := dst.Bounds()

	numPixels := opts.InputWidth * opts.InputHeight
	data := make([]float32, 3*numPixels)

	std := opts.NormalizeStddevRGB
	for i := range std {
		if std[i] == 0 {
			std[i] = 1
		}
	}
	nhwc := strings.EqualFold(strings.TrimSpace(opts.InputLayout), "NHWC")
	bgr := strings.EqualFold(strings.TrimSpace(opts.ColorOrder), "BGR")

	idx := 0
	for y := 0; y < opts.InputHeight; y++ {
		for x := 0; x < opts.InputWidth; x++ {
			c := color.RGBAModel.Convert(dst.At(db.Min.X+x, db.Min.Y+y)).(color.RGBA)
			px := [3]float32{
				(float32(c.R)/255 - opts.NormalizeMeanRGB[0]) / std[0],
				(float32(c.G)/255 - opts.NormalizeMeanRGB[1]) / std[1],
				(float32(c.B)/255 - opts.NormalizeMeanRGB[2]) / std[2],
			}
			if bgr {
				px[0], px[2] = px[2], px[0]
			}
			if nhwc {
				data[idx*3+0] = px[0]
				data[idx*3+1] = px[1]
				data[idx*3+2] = px[2]
			} else {
				data[idx] = px[0]
				data[numPixels+idx] = px[1]
				data[2*numPixels+idx] = px[2]
			}
			idx++
		}
	}
	return data
}

func chooseScaler(name string) draw.Scaler {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bilinear":
		return draw.BiLinear
	case "nearest":
		return draw.NearestNeighbor
	default:
		return draw.CatmullRom
	}
}

// normalizeMap min-max normalizes a model output map of mw x mh samples to
// 16 bits and then resamples it to w x h with bicubic interpolation. Bicubic
// overshoot past the normalized range clips to 0 and 255, so the full 8-bit
// range is always reached.
func normalizeMap(vals []float32, mw, mh, w, h int) *image.Gray {
	lo, hi := vals[0], vals[0]
	for _, v := range vals {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	den := hi - lo
	if den == 0 {
		den = 1
	}
	small := image.NewGray16(image.Rect(0, 0, mw, mh))
	for i, v := range vals[:mw*mh] {
		u := uint16((v - lo) / den * 65535)
		small.Pix[i*2] = uint8(u >> 8)
		small.Pix[i*2+1] = uint8(u)
	}

	var scaled image.Image = small
	if mw != w || mh != h {
		scaled = resize.Resize(uint(w), uint(h), small, resize.Bicubic)
	}
	out := image.NewGray(image.Rect(0, 0, w, h))
	sb := scaled.Bounds()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := color.Gray16Model.Convert(scaled.At(sb.Min.X+x, sb.Min.Y+y)).(color.Gray16).Y
			out.Pix[y*out.Stride+x] = uint8(v >> 8)
		}
	}
	return out
}
