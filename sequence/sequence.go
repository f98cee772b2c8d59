// Package sequence renders animated stereograms: every frame is composed
// against one shared pattern so the carrier texture stays still while the
// depth moves.
package sequence

import (
	"context"
	"fmt"
	"image"
	"math/rand/v2"
	"runtime"
	"sync"

	"github.com/stevecastle/autostereo/depth"
	"github.com/stevecastle/autostereo/postprocess"
	"github.com/stevecastle/autostereo/stereogram"
)

// Frame is one image of an animation with its display timing.
type Frame struct {
	Image image.Image
	// Delay is the display time in 100ths of a second.
	Delay int
	// Disposal is the GIF disposal method carried through to the output.
	Disposal byte
}

// Sequence is an ordered animation.
type Sequence struct {
	Frames []Frame
	// LoopCount follows image/gif: 0 loops forever, -1 plays once.
	LoopCount int
}

// Validate checks that the sequence is non-empty and that every frame has
// the first frame's size.
func (s *Sequence) Validate() error {
	if s == nil || len(s.Frames) == 0 {
		return fmt.Errorf("sequence has no frames: %w", stereogram.ErrEmptyInput)
	}
	if s.Frames[0].Image == nil || s.Frames[0].Image.Bounds().Empty() {
		return fmt.Errorf("frame 0 is empty: %w", stereogram.ErrEmptyInput)
	}
	first := s.Frames[0].Image.Bounds()
	for i, f := range s.Frames[1:] {
		if f.Image == nil {
			return fmt.Errorf("frame %d has no image: %w", i+1, stereogram.ErrEmptyInput)
		}
		b := f.Image.Bounds()
		if b.Dx() != first.Dx() || b.Dy() != first.Dy() {
			return fmt.Errorf("frame %d is %dx%d, frame 0 is %dx%d: %w",
				i+1, b.Dx(), b.Dy(), first.Dx(), first.Dy(), stereogram.ErrInvalidDimensions)
		}
	}
	return nil
}

// Pipeline turns color frames into stereogram frames.
type Pipeline struct {
	Estimator depth.Estimator
	// Conditioner, if set, runs on every depth map before composition.
	Conditioner *postprocess.Chain
	Composer    stereogram.Composer
	// PatternWidth defaults to stereogram.DefaultPatternWidth.
	PatternWidth int
	// Rand seeds the shared pattern. Nil uses a clock-seeded source.
	Rand *rand.Rand
	// Workers is the number of frames composed concurrently. Zero uses
	// GOMAXPROCS.
	Workers int
	// Progress, if set, is called after each finished frame.
	Progress func(done, total int)
}

// Result is a rendered sequence and the pattern shared by all its frames.
type Result struct {
	Sequence *Sequence
	Pattern  *stereogram.Pattern
	// Depth holds the depth map each frame was composed from.
	Depth []*image.Gray
}

// Run renders seq. The pattern is generated exactly once, from the first
// frame's depth map, and reused for every frame. Frames are independent once
// the pattern exists, so they are composed concurrently; the first failure
// cancels the frames that have not started.
func (p *Pipeline) Run(ctx context.Context, seq *Sequence) (*Result, error) {
	if err := seq.Validate(); err != nil {
		return nil, err
	}
	if p.Estimator == nil {
		return nil, fmt.Errorf("no depth estimator: %w", depth.ErrStageFailure)
	}

	first, err := p.depthFor(ctx, seq.Frames[0].Image)
	if err != nil {
		return nil, fmt.Errorf("frame 0: %w", err)
	}
	width := p.PatternWidth
	if width <= 0 {
		width = stereogram.DefaultPatternWidth
	}
	pattern, err := stereogram.GeneratePattern(first.Bounds().Dy(), width, p.Rand)
	if err != nil {
		return nil, err
	}

	n := len(seq.Frames)
	out := &Result{
		Sequence: &Sequence{Frames: make([]Frame, n), LoopCount: seq.LoopCount},
		Pattern:  pattern,
		Depth:    make([]*image.Gray, n),
	}
	out.Depth[0] = first

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > n {
		workers = n
	}

	var (
		mu       sync.Mutex
		firstErr error
		done     int
		wg       sync.WaitGroup
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	jobs := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				img, d, err := p.renderFrame(ctx, seq.Frames[i].Image, out.Depth[i], first.Bounds(), pattern)
				if err != nil {
					fail(fmt.Errorf("frame %d: %w", i, err))
					continue
				}
				src := seq.Frames[i]
				out.Sequence.Frames[i] = Frame{Image: img, Delay: src.Delay, Disposal: src.Disposal}
				out.Depth[i] = d

				mu.Lock()
				done++
				if p.Progress != nil {
					p.Progress(done, n)
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// renderFrame composes one frame. cached is the frame's depth map if it was
// already estimated.
func (p *Pipeline) renderFrame(ctx context.Context, frame image.Image, cached *image.Gray, want image.Rectangle, pattern *stereogram.Pattern) (*image.RGBA, *image.Gray, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	d := cached
	if d == nil {
		var err error
		d, err = p.depthFor(ctx, frame)
		if err != nil {
			return nil, nil, err
		}
	}
	if d.Bounds().Dx() != want.Dx() || d.Bounds().Dy() != want.Dy() {
		return nil, nil, fmt.Errorf("depth map is %dx%d, first frame's is %dx%d: %w",
			d.Bounds().Dx(), d.Bounds().Dy(), want.Dx(), want.Dy(), stereogram.ErrInvalidDimensions)
	}
	st, err := p.Composer.Compose(d, pattern)
	if err != nil {
		return nil, nil, err
	}
	return st.RGBA(), d, nil
}

// depthFor estimates and conditions the depth map of one frame.
func (p *Pipeline) depthFor(ctx context.Context, frame image.Image) (*image.Gray, error) {
	d, err := depth.Run(ctx, p.Estimator, frame)
	if err != nil {
		return nil, err
	}
	if p.Conditioner != nil {
		d, err = p.Conditioner.Apply(ctx, frame, d)
		if err != nil {
			return nil, err
		}
	}
	return d, nil
}
