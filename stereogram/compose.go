package stereogram

import (
	"fmt"
	"image"
	"runtime"
	"sync"
)

// Image is a floating point RGB raster with samples in the pattern's range.
type Image struct {
	Width  int
	Height int
	Pix    []float64
}

// NewImage allocates a zeroed w x h image.
func NewImage(w, h int) *Image {
	return &Image{Width: w, Height: h, Pix: make([]float64, w*h*3)}
}

// At returns the RGB sample at row r, column c.
func (m *Image) At(r, c int) [3]float64 {
	i := (r*m.Width + c) * 3
	return [3]float64{m.Pix[i], m.Pix[i+1], m.Pix[i+2]}
}

// Composer builds stereograms from depth maps and a shared pattern.
type Composer struct {
	Geometry Geometry
	// Workers is the number of goroutines rows are split across. Zero uses
	// GOMAXPROCS.
	Workers int
	// WrapPattern lets a pattern shorter than the depth map repeat vertically.
	// Without it the pattern must have exactly one row per depth row.
	WrapPattern bool
}

// NewComposer returns a Composer with the default geometry.
func NewComposer() Composer {
	return Composer{Geometry: DefaultGeometry()}
}

// Compose renders the stereogram for depth using pattern p. Each row is a
// strict left-to-right pass since every column past the pattern width copies
// an earlier column of the same row.
func (cp Composer) Compose(depth *image.Gray, p *Pattern) (*Image, error) {
	if depth == nil || depth.Bounds().Empty() {
		return nil, fmt.Errorf("depth map: %w", ErrEmptyInput)
	}
	if p == nil || p.Width <= 0 || p.Height <= 0 || len(p.Pix) < p.Width*p.Height*3 {
		return nil, fmt.Errorf("pattern: %w", ErrEmptyInput)
	}
	if err := cp.Geometry.Validate(); err != nil {
		return nil, err
	}
	b := depth.Bounds()
	w, h := b.Dx(), b.Dy()
	if !cp.WrapPattern && p.Height != h {
		return nil, fmt.Errorf("pattern height %d for depth map height %d: %w", p.Height, h, ErrInvalidDimensions)
	}

	table := cp.Geometry.Table()
	out := NewImage(w, h)
	workers := cp.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var wg sync.WaitGroup
	for _, r := range splitRows(h, workers) {
		wg.Add(1)
		go func(y0, y1 int) {
			defer wg.Done()
			for y := y0; y < y1; y++ {
				off := depth.PixOffset(b.Min.X, b.Min.Y+y)
				row := depth.Pix[off : off+w]
				composeRow(out.Pix[y*w*3:(y+1)*w*3], row, p, y%p.Height, &table)
			}
		}(r[0], r[1])
	}
	wg.Wait()
	return out, nil
}

// composeRow fills one output row. dst holds w RGB triples.
func composeRow(dst []float64, depthRow []uint8, p *Pattern, patternRow int, table *[256]int) {
	w := len(depthRow)
	pw := p.Width
	src := p.Pix[patternRow*pw*3 : (patternRow+1)*pw*3]
	for x := 0; x < w; x++ {
		if x < pw {
			copy(dst[x*3:x*3+3], src[x*3:x*3+3])
			continue
		}
		hd := table[depthRow[x]]
		if right := x - pw + hd; right >= 0 && right < w {
			copy(dst[x*3:x*3+3], dst[right*3:right*3+3])
		}
		if left := x - pw - hd; left > 0 {
			copy(dst[x*3:x*3+3], dst[left*3:left*3+3])
		}
	}
}

// splitRows partitions h rows into at most workers contiguous [start,end) ranges.
func splitRows(h, workers int) [][2]int {
	if workers < 1 {
		workers = 1
	}
	if workers > h {
		workers = h
	}
	rows := make([][2]int, 0, workers)
	step := h / workers
	start := 0
	for i := 0; i < workers; i++ {
		end := start + step
		if i == workers-1 {
			end = h
		}
		rows = append(rows, [2]int{start, end})
		start = end
	}
	return rows
}
