//go:build cgo
// +build cgo

package depth

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var envMu sync.Mutex

// initEnvironment points onnxruntime at its shared library and initializes it
// once per process.
func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	} else if p := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); p != "" {
		ort.SetSharedLibraryPath(p)
	}
	return ort.InitializeEnvironment()
}

// model owns one session with pre-bound input and output tensors. Runs are
// serialized because the tensors are reused.
type model struct {
	mu      sync.Mutex
	opts    Options
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func newModel(modelPath string, opts Options, outShape ort.Shape) (*model, error) {
	if opts.InputWidth <= 0 || opts.InputHeight <= 0 {
		return nil, fmt.Errorf("invalid input size %dx%d", opts.InputWidth, opts.InputHeight)
	}
	if opts.InputName == "" || opts.OutputName == "" {
		return nil, errors.New("input and output names must be provided")
	}
	if err := initEnvironment(opts.ORTSharedLibraryPath); err != nil {
		return nil, err
	}

	var inShape ort.Shape
	if opts.InputLayout == "NHWC" {
		inShape = ort.NewShape(1, int64(opts.InputHeight), int64(opts.InputWidth), 3)
	} else {
		inShape = ort.NewShape(1, 3, int64(opts.InputHeight), int64(opts.InputWidth))
	}
	input, err := ort.NewEmptyTensor[float32](inShape)
	if err != nil {
		return nil, err
	}
	output, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		input.Destroy()
		return nil, err
	}

	var sessOpts *ort.SessionOptions
	if opts.Threads > 0 {
		sessOpts, err = ort.NewSessionOptions()
		if err != nil {
			input.Destroy()
			output.Destroy()
			return nil, err
		}
		defer sessOpts.Destroy()
		if err := sessOpts.SetIntraOpNumThreads(opts.Threads); err != nil {
			input.Destroy()
			output.Destroy()
			return nil, err
		}
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{opts.InputName},
		[]string{opts.OutputName},
		[]ort.Value{input},
		[]ort.Value{output},
		sessOpts,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, err
	}
	return &model{opts: opts, session: session, input: input, output: output}, nil
}

// run feeds img through the network and returns a copy of the output tensor.
func (m *model) run(ctx context.Context, img image.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := tensorData(img, m.opts)

	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.input.GetData(), data)
	if err := m.session.Run(); err != nil {
		return nil, err
	}
	out := make([]float32, len(m.output.GetData()))
	copy(out, m.output.GetData())
	return out, nil
}

func (m *model) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	if m.session != nil {
		errs = append(errs, m.session.Destroy())
		m.session = nil
	}
	if m.input != nil {
		errs = append(errs, m.input.Destroy())
		m.input = nil
	}
	if m.output != nil {
		errs = append(errs, m.output.Destroy())
		m.output = nil
	}
	return errors.Join(errs...)
}

// ONNXEstimator runs a monocular depth network such as MiDaS. The network's
// output is relative inverse depth, so larger values are nearer.
type ONNXEstimator struct {
	m *model
}

// NewONNXEstimator loads the model at modelPath.
func NewONNXEstimator(modelPath string, opts Options) (*ONNXEstimator, error) {
	m, err := newModel(modelPath, opts, ort.NewShape(1, int64(opts.InputHeight), int64(opts.InputWidth)))
	if err != nil {
		return nil, fmt.Errorf("load depth model %s: %w", modelPath, err)
	}
	return &ONNXEstimator{m: m}, nil
}

// Estimate returns the normalized depth map at img's size.
func (e *ONNXEstimator) Estimate(ctx context.Context, img image.Image) (*image.Gray, error) {
	out, err := e.m.run(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStageFailure, err)
	}
	b := img.Bounds()
	return normalizeMap(out, e.m.opts.InputWidth, e.m.opts.InputHeight, b.Dx(), b.Dy()), nil
}

// Close releases the session.
func (e *ONNXEstimator) Close() error {
	return e.m.close()
}

// ONNXIsolator cuts the salient foreground out of a frame with a U²-Net style
// matte network and makes everything else transparent.
type ONNXIsolator struct {
	m *model
}

// NewONNXIsolator loads the matte model at modelPath.
func NewONNXIsolator(modelPath string, opts Options) (*ONNXIsolator, error) {
	m, err := newModel(modelPath, opts, ort.NewShape(1, 1, int64(opts.InputHeight), int64(opts.InputWidth)))
	if err != nil {
		return nil, fmt.Errorf("load matte model %s: %w", modelPath, err)
	}
	return &ONNXIsolator{m: m}, nil
}

// Isolate returns img with the predicted matte as its alpha channel.
func (s *ONNXIsolator) Isolate(ctx context.Context, img image.Image) (image.Image, error) {
	out, err := s.m.run(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStageFailure, err)
	}
	b := img.Bounds()
	matte := normalizeMap(out, s.m.opts.InputWidth, s.m.opts.InputHeight, b.Dx(), b.Dy())
	return ApplyMatte(img, matte), nil
}

// Close releases the session.
func (s *ONNXIsolator) Close() error {
	return s.m.close()
}
