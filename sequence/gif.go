package sequence

import (
	"fmt"
	"image"
	"image/color/palette"
	"image/gif"
	"io"

	"golang.org/x/image/draw"
)

// DecodeGIF reads an animated GIF and flattens every frame onto the logical
// screen, honouring each frame's disposal method, so frames come out as full
// images rather than deltas.
func DecodeGIF(r io.Reader) (*Sequence, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, fmt.Errorf("decode gif: %w", err)
	}
	if len(g.Image) == 0 {
		return &Sequence{LoopCount: g.LoopCount}, nil
	}

	screen := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if screen.Empty() {
		for _, fr := range g.Image {
			screen = screen.Union(fr.Bounds())
		}
	}

	seq := &Sequence{Frames: make([]Frame, 0, len(g.Image)), LoopCount: g.LoopCount}
	canvas := image.NewRGBA(screen)
	for i, fr := range g.Image {
		var disposal byte
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		var saved *image.RGBA
		if disposal == gif.DisposalPrevious {
			saved = cloneRGBA(canvas)
		}

		draw.Draw(canvas, fr.Bounds(), fr, fr.Bounds().Min, draw.Over)
		delay := 0
		if i < len(g.Delay) {
			delay = g.Delay[i]
		}
		seq.Frames = append(seq.Frames, Frame{Image: cloneRGBA(canvas), Delay: delay, Disposal: disposal})

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, fr.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = saved
		}
	}
	return seq, nil
}

// EncodeGIF writes seq as an animated GIF, dithering each frame onto the
// Plan 9 palette.
func EncodeGIF(w io.Writer, seq *Sequence) error {
	if err := seq.Validate(); err != nil {
		return err
	}
	g := &gif.GIF{
		Image:     make([]*image.Paletted, len(seq.Frames)),
		Delay:     make([]int, len(seq.Frames)),
		Disposal:  make([]byte, len(seq.Frames)),
		LoopCount: seq.LoopCount,
	}
	for i, f := range seq.Frames {
		b := f.Image.Bounds()
		pal := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), palette.Plan9)
		draw.FloydSteinberg.Draw(pal, pal.Bounds(), f.Image, b.Min)
		g.Image[i] = pal
		g.Delay[i] = f.Delay
		g.Disposal[i] = f.Disposal
	}
	if err := gif.EncodeAll(w, g); err != nil {
		return fmt.Errorf("encode gif: %w", err)
	}
	return nil
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}
