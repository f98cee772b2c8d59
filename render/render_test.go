package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stevecastle/autostereo/appconfig"
	"github.com/stevecastle/autostereo/artifact"
	"github.com/stevecastle/autostereo/depth"
	"github.com/stevecastle/autostereo/sequence"
	"github.com/stevecastle/autostereo/storage"
)

func testConfig() appconfig.Config {
	cfg := appconfig.Default()
	cfg.Depth.Estimator = appconfig.EstimatorLuminance
	cfg.PostProcess.RemoveBackground = false
	seed := uint64(42)
	cfg.Pattern.Seed = &seed
	cfg.Workers = 2
	return cfg
}

func testService() *Service {
	cfg := testConfig()
	return &Service{Config: cfg, Estimator: depth.Luminance{}, Sink: storage.LocalSink{}}
}

func writeInput(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(x * 255 / w)
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: uint8(y), A: 255})
		}
	}
	path := filepath.Join(dir, "in.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func readPNG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func TestStillWritesOutputs(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, 120, 30)
	req := Request{
		Input:    in,
		Output:   filepath.Join(dir, "out", "stereo.png"),
		Artifact: filepath.Join(dir, "out", "run.cbor"),
		Preview:  filepath.Join(dir, "out", "preview.png"),
	}
	res, err := testService().Still(context.Background(), req)
	if err != nil {
		t.Fatalf("Still() error = %v", err)
	}
	if res.Stereogram.Bounds() != image.Rect(0, 0, 120, 30) {
		t.Errorf("stereogram bounds = %v", res.Stereogram.Bounds())
	}
	if res.Pattern.Height != 30 || res.Pattern.Width != 64 {
		t.Errorf("pattern is %dx%d; want 64x30", res.Pattern.Width, res.Pattern.Height)
	}

	out := readPNG(t, req.Output)
	if out.Bounds() != res.Stereogram.Bounds() {
		t.Errorf("written bounds = %v", out.Bounds())
	}

	f, err := os.Open(req.Artifact)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	b, err := artifact.Read(f)
	if err != nil {
		t.Fatalf("artifact.Read() error = %v", err)
	}
	if b.Seed == nil || *b.Seed != 42 {
		t.Errorf("artifact seed = %v; want 42", b.Seed)
	}
	replayed, err := artifact.Replay(b, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(replayed.RGBA().Pix, res.Stereogram.Pix) {
		t.Error("replayed artifact differs from the rendered stereogram")
	}

	if p := readPNG(t, req.Preview); p.Bounds().Dx() <= 120 {
		t.Errorf("preview width = %d; want three panels", p.Bounds().Dx())
	}
}

func TestStillIsDeterministicWithSeed(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, 90, 12)
	a, err := testService().Still(context.Background(), Request{Input: in, Output: filepath.Join(dir, "a.png")})
	if err != nil {
		t.Fatal(err)
	}
	b, err := testService().Still(context.Background(), Request{Input: in, Output: filepath.Join(dir, "b.png")})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Stereogram.Pix, b.Stereogram.Pix) {
		t.Error("seeded renders differ")
	}
}

func TestStillDepthOverride(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, 80, 10)

	flat := image.NewGray(image.Rect(0, 0, 40, 5))
	for i := range flat.Pix {
		flat.Pix[i] = 255
	}
	depthPath := filepath.Join(dir, "depth.png")
	f, _ := os.Create(depthPath)
	png.Encode(f, flat)
	f.Close()

	s := testService()
	s.Config.PostProcess.AdjustContrast = false
	s.Config.PostProcess.Sharpen = false
	s.Estimator = depth.EstimatorFunc(func(context.Context, image.Image) (*image.Gray, error) {
		t.Error("configured estimator used despite a depth override")
		return nil, errors.New("unexpected")
	})
	res, err := s.Still(context.Background(), Request{Input: in, Output: filepath.Join(dir, "o.png"), DepthPath: depthPath})
	if err != nil {
		t.Fatalf("Still() error = %v", err)
	}
	for i, v := range res.Depth.Pix {
		if v != 255 {
			t.Fatalf("depth sample %d = %d; want 255 from the override", i, v)
		}
	}
}

func TestStillErrors(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, 80, 10)
	s := testService()

	_, err := s.Still(context.Background(), Request{Input: in, Output: filepath.Join(dir, "o.bmp")})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("bmp output error = %v; want ErrUnsupportedFormat", err)
	}
	if _, err := s.Still(context.Background(), Request{Input: filepath.Join(dir, "missing.png"), Output: filepath.Join(dir, "o.png")}); err == nil {
		t.Error("missing input accepted")
	}

	s.Estimator = depth.EstimatorFunc(func(context.Context, image.Image) (*image.Gray, error) {
		return image.NewGray(image.Rect(0, 0, 3, 3)), nil
	})
	_, err = s.Still(context.Background(), Request{Input: in, Output: filepath.Join(dir, "o.png")})
	if !errors.Is(err, depth.ErrStageFailure) {
		t.Errorf("wrong-size depth error = %v; want ErrStageFailure", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "o.png")); !os.IsNotExist(statErr) {
		t.Error("output written despite failure")
	}
}

func TestAnimate(t *testing.T) {
	dir := t.TempDir()
	seq := &sequence.Sequence{LoopCount: 0}
	for i := 0; i < 3; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 70, 8))
		for j := range img.Pix {
			img.Pix[j] = uint8(j*(i+1)) | 3
		}
		seq.Frames = append(seq.Frames, sequence.Frame{Image: img, Delay: 4 + i})
	}
	in := filepath.Join(dir, "in.gif")
	f, _ := os.Create(in)
	if err := sequence.EncodeGIF(f, seq); err != nil {
		t.Fatal(err)
	}
	f.Close()

	var calls int
	out := filepath.Join(dir, "out.gif")
	res, err := testService().Animate(context.Background(), Request{
		Input:    in,
		Output:   out,
		Progress: func(done, total int) { calls++ },
	})
	if err != nil {
		t.Fatalf("Animate() error = %v", err)
	}
	if len(res.Sequence.Frames) != 3 || calls != 3 {
		t.Errorf("frames = %d, progress calls = %d; want 3, 3", len(res.Sequence.Frames), calls)
	}

	g, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()
	decoded, err := sequence.DecodeGIF(g)
	if err != nil {
		t.Fatal(err)
	}
	for i, fr := range decoded.Frames {
		if fr.Delay != 4+i {
			t.Errorf("frame %d delay = %d; want %d", i, fr.Delay, 4+i)
		}
	}

	if _, err := testService().Animate(context.Background(), Request{Input: in, Output: filepath.Join(dir, "x.png")}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("png animation output error = %v; want ErrUnsupportedFormat", err)
	}
	if _, err := testService().Animate(context.Background(), Request{Input: filepath.Join(dir, "x.mp4"), Output: out}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("mp4 input error = %v; want ErrUnsupportedFormat", err)
	}
}

func TestNewLuminance(t *testing.T) {
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()
	if _, ok := s.Estimator.(depth.Luminance); !ok {
		t.Errorf("estimator = %T; want depth.Luminance", s.Estimator)
	}

	bad := testConfig()
	bad.Geometry.EyeSeparation = 0
	if _, err := New(bad); err == nil {
		t.Error("New() accepted an invalid geometry")
	}
}

func TestNewMissingModel(t *testing.T) {
	cfg := testConfig()
	cfg.Depth.Estimator = appconfig.EstimatorONNX
	cfg.Depth.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")
	_, err := New(cfg)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("New() error = %v; want a not-exist error", err)
	}
}

func TestBackgroundRemovalNeedsMatteModel(t *testing.T) {
	tests := []struct {
		name  string
		model string
	}{
		{"no model path", ""},
		{"missing model", "missing-u2net.onnx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.PostProcess.RemoveBackground = true
			cfg.Isolator.ModelPath = ""
			if tt.model != "" {
				cfg.Isolator.ModelPath = filepath.Join(t.TempDir(), tt.model)
			}
			s, err := New(cfg)
			if !errors.Is(err, depth.ErrStageFailure) {
				t.Fatalf("New() error = %v; want ErrStageFailure", err)
			}
			if s != nil {
				t.Error("New() returned a Service alongside an error")
			}
		})
	}
}

func TestRenderWithoutIsolatorFails(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, 80, 10)
	gif := writeRampGIF(t, dir)

	s := testService()
	s.Config.PostProcess.RemoveBackground = true

	out := filepath.Join(dir, "o.png")
	if _, err := s.Still(context.Background(), Request{Input: in, Output: out}); !errors.Is(err, depth.ErrStageFailure) {
		t.Errorf("Still() error = %v; want ErrStageFailure", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("Still() wrote output without background removal")
	}

	s.Config.Animate.Condition = true
	animOut := filepath.Join(dir, "o.gif")
	if _, err := s.Animate(context.Background(), Request{Input: gif, Output: animOut}); !errors.Is(err, depth.ErrStageFailure) {
		t.Errorf("conditioned Animate() error = %v; want ErrStageFailure", err)
	}
	if _, err := os.Stat(animOut); !os.IsNotExist(err) {
		t.Error("Animate() wrote output without background removal")
	}
}

// writeRampGIF writes a two-frame gray ramp animation and returns its path.
func writeRampGIF(t *testing.T, dir string) string {
	t.Helper()
	seq := &sequence.Sequence{}
	for i := 0; i < 2; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 80, 6))
		for y := 0; y < 6; y++ {
			for x := 0; x < 80; x++ {
				v := uint8(x / 5 * 17)
				img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
			}
		}
		seq.Frames = append(seq.Frames, sequence.Frame{Image: img, Delay: 5})
	}
	path := filepath.Join(dir, "ramp.gif")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := sequence.EncodeGIF(f, seq); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAnimateConditioning(t *testing.T) {
	dir := t.TempDir()
	in := writeRampGIF(t, dir)

	f, err := os.Open(in)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := sequence.DecodeGIF(f)
	f.Close()
	if err != nil {
		t.Fatal(err)
	}
	raw, err := depth.Luminance{}.Estimate(context.Background(), decoded.Frames[0].Image)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		condition bool
		wantRaw   bool
	}{
		{"default", appconfig.Default().Animate.Condition, true},
		{"conditioned", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testService()
			if !s.Config.PostProcess.AdjustContrast || !s.Config.PostProcess.Sharpen {
				t.Fatal("test service should have contrast and sharpening on")
			}
			s.Config.Animate.Condition = tt.condition
			res, err := s.Animate(context.Background(), Request{Input: in, Output: filepath.Join(dir, tt.name+".gif")})
			if err != nil {
				t.Fatalf("Animate() error = %v", err)
			}
			if got := bytes.Equal(res.Depth[0].Pix, raw.Pix); got != tt.wantRaw {
				t.Errorf("frame 0 depth equals raw luminance = %v; want %v (first samples %v)", got, tt.wantRaw, res.Depth[0].Pix[:8])
			}
		})
	}
}

func TestApplyModelConfigMissingSidecar(t *testing.T) {
	opts := depth.DefaultDepthOptions()
	want := opts
	if err := applyModelConfig(filepath.Join(t.TempDir(), "midas.json"), &opts); err != nil {
		t.Fatalf("applyModelConfig() error = %v", err)
	}
	if opts != want {
		t.Error("a missing sidecar changed the options")
	}
}

func TestEncodeFormats(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for _, name := range []string{"a.png", "a.JPG", "a.jpeg", "a.gif", "s3://bucket/a.png"} {
		var buf bytes.Buffer
		if err := Encode(&buf, img, name); err != nil {
			t.Errorf("Encode(%q) error = %v", name, err)
		}
		if buf.Len() == 0 {
			t.Errorf("Encode(%q) wrote nothing", name)
		}
	}
	if err := Encode(&bytes.Buffer{}, img, "a.tiff"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("tiff error = %v; want ErrUnsupportedFormat", err)
	}
}
