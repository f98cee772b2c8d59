// Package render runs complete stereogram jobs: decode the input, estimate
// and condition depth, compose against a random pattern and store the
// result. The CLI and the job server both go through Service.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/webp"

	"github.com/stevecastle/autostereo/appconfig"
	"github.com/stevecastle/autostereo/artifact"
	"github.com/stevecastle/autostereo/depth"
	"github.com/stevecastle/autostereo/postprocess"
	"github.com/stevecastle/autostereo/preview"
	"github.com/stevecastle/autostereo/sequence"
	"github.com/stevecastle/autostereo/stereogram"
	"github.com/stevecastle/autostereo/storage"
)

// ErrUnsupportedFormat is returned for inputs or outputs whose extension has
// no decoder or encoder.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Request describes one render.
type Request struct {
	Input  string
	Output string
	// DepthPath, if set, replaces the estimator with a precomputed depth image.
	DepthPath string
	// Artifact, if set, receives a CBOR bundle of the composition (stills only).
	Artifact string
	// Preview, if set, receives the three-panel preview PNG (stills only).
	Preview string
	// Delay is the per-frame delay for frame archives, in 100ths of a second.
	Delay int
	// Progress is called after each finished animation frame.
	Progress func(done, total int)
}

// StillResult holds the intermediate images of a still render.
type StillResult struct {
	Original   image.Image
	Depth      *image.Gray
	Pattern    *stereogram.Pattern
	Stereogram *image.RGBA
}

// Service renders stills and animations with one configuration.
type Service struct {
	Config    appconfig.Config
	Estimator depth.Estimator
	Isolator  postprocess.Isolator
	Sink      storage.Sink

	closers []io.Closer
}

// New builds a Service from cfg, loading the configured models. When
// background removal is requested the matte model must load; disable it
// with PostProcess.RemoveBackground instead.
func New(cfg appconfig.Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{Config: cfg, Sink: storage.NewRouter(cfg.S3)}

	switch cfg.Depth.Estimator {
	case appconfig.EstimatorLuminance:
		s.Estimator = depth.Luminance{Invert: cfg.Depth.Invert}
	default:
		if _, err := os.Stat(cfg.Depth.ModelPath); err != nil {
			return nil, fmt.Errorf("depth model: %w (run \"autostereo fetch\" or use the luminance estimator)", err)
		}
		opts := depth.DefaultDepthOptions()
		opts.ORTSharedLibraryPath = cfg.Depth.ORTSharedLibraryPath
		opts.Threads = cfg.Depth.Threads
		if err := applyModelConfig(cfg.Depth.ConfigPath, &opts); err != nil {
			return nil, err
		}
		est, err := depth.NewONNXEstimator(cfg.Depth.ModelPath, opts)
		if err != nil {
			return nil, err
		}
		s.Estimator = est
		s.closers = append(s.closers, est)
	}

	if cfg.PostProcess.RemoveBackground {
		if cfg.Isolator.ModelPath == "" {
			s.Close()
			return nil, fmt.Errorf("background removal needs a matte model: %w", depth.ErrStageFailure)
		}
		opts := depth.DefaultMatteOptions()
		opts.ORTSharedLibraryPath = cfg.Depth.ORTSharedLibraryPath
		opts.Threads = cfg.Depth.Threads
		if err := applyModelConfig(cfg.Isolator.ConfigPath, &opts); err != nil {
			s.Close()
			return nil, err
		}
		iso, err := depth.NewONNXIsolator(cfg.Isolator.ModelPath, opts)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("load matte model (use -no-bg to skip background removal): %w: %w", depth.ErrStageFailure, err)
		}
		s.Isolator = iso
		s.closers = append(s.closers, iso)
	}
	return s, nil
}

func applyModelConfig(path string, opts *depth.Options) error {
	if path == "" {
		return nil
	}
	mc, err := depth.LoadModelConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("Model config %s not found; using built-in preprocessing", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load model config %s: %w", path, err)
	}
	mc.ApplyToOptions(opts)
	return nil
}

// Close releases the loaded models.
func (s *Service) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Service) composer() stereogram.Composer {
	return stereogram.Composer{
		Geometry:    s.Config.Geometry,
		Workers:     s.Config.Workers,
		WrapPattern: s.Config.Pattern.Wrap,
	}
}

func (s *Service) chain() *postprocess.Chain {
	return &postprocess.Chain{Options: s.Config.PostProcess, Isolator: s.Isolator}
}

// checkIsolator fails when background removal is on but no matte model was
// loaded, which happens for Services built by hand rather than by New.
func (s *Service) checkIsolator() error {
	if s.Config.PostProcess.RemoveBackground && s.Isolator == nil {
		return fmt.Errorf("background removal requested but no matte model is loaded: %w", depth.ErrStageFailure)
	}
	return nil
}

func (s *Service) rand() *rand.Rand {
	if s.Config.Pattern.Seed == nil {
		return nil
	}
	return stereogram.NewRand(*s.Config.Pattern.Seed)
}

func (s *Service) estimator(req Request) depth.Estimator {
	if req.DepthPath != "" {
		return depth.NewFile(req.DepthPath)
	}
	return s.Estimator
}

func (s *Service) sink() storage.Sink {
	if s.Sink == nil {
		return storage.LocalSink{}
	}
	return s.Sink
}

// Still renders one image.
func (s *Service) Still(ctx context.Context, req Request) (*StillResult, error) {
	if err := s.checkIsolator(); err != nil {
		return nil, err
	}
	if err := checkOutput(req.Output); err != nil {
		return nil, err
	}
	img, err := decodeFile(req.Input)
	if err != nil {
		return nil, err
	}

	d, err := depth.Run(ctx, s.estimator(req), img)
	if err != nil {
		return nil, err
	}
	d, err = s.chain().Apply(ctx, img, d)
	if err != nil {
		return nil, err
	}

	width := s.Config.Pattern.Width
	if width <= 0 {
		width = stereogram.DefaultPatternWidth
	}
	pattern, err := stereogram.GeneratePattern(d.Bounds().Dy(), width, s.rand())
	if err != nil {
		return nil, err
	}
	c := s.composer()
	st, err := c.Compose(d, pattern)
	if err != nil {
		return nil, err
	}
	res := &StillResult{Original: img, Depth: d, Pattern: pattern, Stereogram: st.RGBA()}

	if err := s.sink().Put(ctx, req.Output, func(w io.Writer) error {
		return Encode(w, res.Stereogram, req.Output)
	}); err != nil {
		return nil, err
	}
	log.Printf("Wrote stereogram %s (%dx%d)", req.Output, st.Width, st.Height)

	if req.Artifact != "" {
		b := artifact.New(d, pattern, c)
		b.Seed = s.Config.Pattern.Seed
		if err := s.sink().Put(ctx, req.Artifact, func(w io.Writer) error {
			return artifact.Write(w, b)
		}); err != nil {
			return res, fmt.Errorf("write artifact: %w", err)
		}
	}
	if req.Preview != "" {
		sheet, err := preview.Compose(img, d, res.Stereogram, preview.DefaultHeight)
		if err != nil {
			return res, err
		}
		if err := s.sink().Put(ctx, req.Preview, func(w io.Writer) error {
			return Encode(w, sheet, req.Preview)
		}); err != nil {
			return res, fmt.Errorf("write preview: %w", err)
		}
	}
	return res, nil
}

// Animate renders an animated GIF from a GIF or a .zip/.7z archive of frames.
func (s *Service) Animate(ctx context.Context, req Request) (*sequence.Result, error) {
	if ext := strings.ToLower(filepath.Ext(req.Output)); ext != ".gif" {
		return nil, fmt.Errorf("animation output %q must be .gif: %w", req.Output, ErrUnsupportedFormat)
	}
	if s.Config.Animate.Condition {
		if err := s.checkIsolator(); err != nil {
			return nil, err
		}
	}
	seq, err := decodeSequence(req.Input, req.Delay)
	if err != nil {
		return nil, err
	}

	p := &sequence.Pipeline{
		Estimator:    s.estimator(req),
		Composer:     s.composer(),
		PatternWidth: s.Config.Pattern.Width,
		Rand:         s.rand(),
		Workers:      s.Config.Workers,
		Progress:     req.Progress,
	}
	// Frames go straight from the estimator to the compositor unless
	// conditioning is switched on for animations.
	if s.Config.Animate.Condition {
		p.Conditioner = s.chain()
	}
	res, err := p.Run(ctx, seq)
	if err != nil {
		return nil, err
	}
	if err := s.sink().Put(ctx, req.Output, func(w io.Writer) error {
		return sequence.EncodeGIF(w, res.Sequence)
	}); err != nil {
		return nil, err
	}
	log.Printf("Wrote animated stereogram %s (%d frames)", req.Output, len(res.Sequence.Frames))
	return res, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w: %w", path, ErrUnsupportedFormat, err)
	}
	return img, nil
}

func decodeSequence(path string, delay int) (*sequence.Sequence, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gif":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		return sequence.DecodeGIF(f)
	case ".zip", ".7z":
		return sequence.DecodeArchive(path, delay)
	default:
		return nil, fmt.Errorf("animation input %q: %w", path, ErrUnsupportedFormat)
	}
}
