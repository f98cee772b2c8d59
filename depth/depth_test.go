package depth

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestValidate(t *testing.T) {
	src := image.Rect(0, 0, 8, 4)
	if err := Validate(src, image.NewGray(image.Rect(0, 0, 8, 4))); err != nil {
		t.Errorf("Validate() matching size error = %v", err)
	}
	if err := Validate(src, image.NewGray(image.Rect(0, 0, 4, 8))); !errors.Is(err, ErrStageFailure) {
		t.Errorf("Validate() wrong size error = %v; want ErrStageFailure", err)
	}
	if err := Validate(src, nil); !errors.Is(err, ErrStageFailure) {
		t.Errorf("Validate(nil) error = %v; want ErrStageFailure", err)
	}
}

func TestRunWrapsFailures(t *testing.T) {
	img := solid(6, 3, color.White)
	boom := errors.New("boom")
	failing := EstimatorFunc(func(context.Context, image.Image) (*image.Gray, error) {
		return nil, boom
	})
	_, err := Run(context.Background(), failing, img)
	if !errors.Is(err, ErrStageFailure) || !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v; want ErrStageFailure wrapping boom", err)
	}

	wrongSize := EstimatorFunc(func(context.Context, image.Image) (*image.Gray, error) {
		return image.NewGray(image.Rect(0, 0, 1, 1)), nil
	})
	if _, err := Run(context.Background(), wrongSize, img); !errors.Is(err, ErrStageFailure) {
		t.Fatalf("Run() error = %v; want ErrStageFailure", err)
	}

	d, err := Run(context.Background(), Luminance{}, img)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if d.Bounds().Dx() != 6 || d.Bounds().Dy() != 3 {
		t.Fatalf("depth bounds = %v", d.Bounds())
	}
}

func TestLuminance(t *testing.T) {
	img := image.NewRGBA(image.Rect(10, 10, 12, 11))
	img.Set(10, 10, color.White)
	img.Set(11, 10, color.Black)

	d, _ := Luminance{}.Estimate(context.Background(), img)
	if d.Bounds() != image.Rect(0, 0, 2, 1) {
		t.Fatalf("bounds = %v; want origin-anchored 2x1", d.Bounds())
	}
	if d.Pix[0] != 255 || d.Pix[1] != 0 {
		t.Errorf("Luminance = %v; want [255 0]", d.Pix[:2])
	}

	inv, _ := Luminance{Invert: true}.Estimate(context.Background(), img)
	if inv.Pix[0] != 0 || inv.Pix[1] != 255 {
		t.Errorf("inverted Luminance = %v; want [0 255]", inv.Pix[:2])
	}
}

func TestFileEstimator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "depth.png")
	src := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range src.Pix {
		src.Pix[i] = 200
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, src); err != nil {
		t.Fatal(err)
	}
	f.Close()

	est := NewFile(path)
	d, err := est.Estimate(context.Background(), solid(16, 8, color.Black))
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if d.Bounds().Dx() != 16 || d.Bounds().Dy() != 8 {
		t.Fatalf("depth bounds = %v; want 16x8", d.Bounds())
	}
	for i, v := range d.Pix {
		if v != 200 {
			t.Fatalf("Pix[%d] = %d; want 200", i, v)
		}
	}

	missing := NewFile(filepath.Join(t.TempDir(), "nope.png"))
	if _, err := missing.Estimate(context.Background(), solid(2, 2, color.Black)); err == nil {
		t.Fatal("Estimate() with missing file succeeded")
	}
}

func TestNormalizeMap(t *testing.T) {
	vals := []float32{-2, 0, 2, 6}
	g := normalizeMap(vals, 2, 2, 2, 2)
	want := []uint8{0, 63, 127, 255}
	for i, w := range want {
		if got := g.Pix[i]; got < w-1 || got > w+1 {
			t.Errorf("Pix[%d] = %d; want ~%d", i, got, w)
		}
	}

	flat := normalizeMap([]float32{3, 3, 3, 3}, 2, 2, 6, 5)
	if flat.Bounds().Dx() != 6 || flat.Bounds().Dy() != 5 {
		t.Fatalf("resized bounds = %v; want 6x5", flat.Bounds())
	}
	for i, v := range flat.Pix {
		if v != 0 {
			t.Fatalf("flat map Pix[%d] = %d; want 0", i, v)
		}
	}
}

func TestNormalizeMapUpsampleKeepsRange(t *testing.T) {
	tests := []struct {
		name string
		vals []float32
	}{
		{"ramp", []float32{0, 1, 2, 3}},
		{"spike", []float32{0, 0, 10, 0}},
		{"negative", []float32{-5, -1, -3, -4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := normalizeMap(tt.vals, 2, 2, 8, 8)
			lo, hi := g.Pix[0], g.Pix[0]
			for _, v := range g.Pix {
				lo = min(lo, v)
				hi = max(hi, v)
			}
			if lo != 0 || hi != 255 {
				t.Errorf("range = [%d, %d]; want [0, 255]", lo, hi)
			}
		})
	}
}

func TestTensorDataLayouts(t *testing.T) {
	img := solid(4, 4, color.RGBA{R: 255, G: 0, B: 51, A: 255})
	opts := Options{
		InputWidth:         2,
		InputHeight:        2,
		NormalizeStddevRGB: [3]float32{1, 1, 1},
		Interpolation:      "nearest",
		InputLayout:        "NCHW",
		ColorOrder:         "RGB",
	}
	nchw := tensorData(img, opts)
	if len(nchw) != 12 {
		t.Fatalf("len = %d; want 12", len(nchw))
	}
	if nchw[0] != 1 || nchw[4] != 0 || nchw[8] != 0.2 {
		t.Errorf("NCHW planes start %v %v %v; want 1 0 0.2", nchw[0], nchw[4], nchw[8])
	}

	opts.InputLayout = "NHWC"
	opts.ColorOrder = "BGR"
	nhwc := tensorData(img, opts)
	if nhwc[0] != 0.2 || nhwc[1] != 0 || nhwc[2] != 1 {
		t.Errorf("NHWC BGR pixel = %v; want [0.2 0 1]", nhwc[:3])
	}

	opts = DefaultDepthOptions()
	opts.InputWidth, opts.InputHeight = 3, 3
	scaled := tensorData(solid(5, 5, color.White), opts)
	for i, v := range scaled {
		if v < 0.99 || v > 1.01 {
			t.Fatalf("white pixel normalized to %v at %d; want 1", v, i)
		}
	}
}

func TestModelConfigApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	data := `{"input_name":"x","output_name":"y","input_size":[3,256,512],"mean":[0.1,0.2,0.3],"std":[1,2,3],"layout":"NHWC"}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	mc, err := LoadModelConfig(path)
	if err != nil {
		t.Fatalf("LoadModelConfig() error = %v", err)
	}
	opts := DefaultDepthOptions()
	mc.ApplyToOptions(&opts)
	if opts.InputName != "x" || opts.OutputName != "y" {
		t.Errorf("names = %q/%q; want x/y", opts.InputName, opts.OutputName)
	}
	if opts.InputHeight != 256 || opts.InputWidth != 512 {
		t.Errorf("size = %dx%d; want 512x256", opts.InputWidth, opts.InputHeight)
	}
	if opts.NormalizeStddevRGB != [3]float32{1, 2, 3} {
		t.Errorf("std = %v", opts.NormalizeStddevRGB)
	}
	if opts.InputLayout != "NHWC" || opts.ColorOrder != "RGB" {
		t.Errorf("layout/order = %s/%s", opts.InputLayout, opts.ColorOrder)
	}

	var nilCfg *ModelConfig
	nilCfg.ApplyToOptions(&opts)
}

func TestApplyMatte(t *testing.T) {
	img := solid(2, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	matte := image.NewGray(image.Rect(0, 0, 2, 1))
	matte.Pix[0] = 255
	out := ApplyMatte(img, matte)
	if c := out.NRGBAAt(0, 0); c != (color.NRGBA{R: 10, G: 20, B: 30, A: 255}) {
		t.Errorf("foreground = %v", c)
	}
	if c := out.NRGBAAt(1, 0); c.A != 0 {
		t.Errorf("background alpha = %d; want 0", c.A)
	}
}

func TestToGray(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 2, 2))
	if ToGray(g) != g {
		t.Error("ToGray should return origin-anchored gray images unchanged")
	}
	out := ToGray(solid(3, 2, color.White))
	if out.Bounds().Dx() != 3 || out.Pix[0] != 255 {
		t.Errorf("ToGray(white) = %v", out.Pix)
	}
}
