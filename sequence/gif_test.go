package sequence

import (
	"bytes"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"testing"
)

func TestGIFRoundTrip(t *testing.T) {
	seq := testSequence(3, 40, 12)
	seq.LoopCount = 0
	var buf bytes.Buffer
	if err := EncodeGIF(&buf, seq); err != nil {
		t.Fatalf("EncodeGIF() error = %v", err)
	}
	got, err := DecodeGIF(&buf)
	if err != nil {
		t.Fatalf("DecodeGIF() error = %v", err)
	}
	if len(got.Frames) != 3 {
		t.Fatalf("got %d frames; want 3", len(got.Frames))
	}
	if got.LoopCount != 0 {
		t.Errorf("LoopCount = %d; want 0", got.LoopCount)
	}
	for i, f := range got.Frames {
		if f.Delay != seq.Frames[i].Delay {
			t.Errorf("frame %d delay = %d; want %d", i, f.Delay, seq.Frames[i].Delay)
		}
		if f.Image.Bounds() != image.Rect(0, 0, 40, 12) {
			t.Errorf("frame %d bounds = %v", i, f.Image.Bounds())
		}
	}
}

func TestEncodeGIFEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeGIF(&buf, &Sequence{}); err == nil {
		t.Fatal("EncodeGIF() of an empty sequence succeeded")
	}
}

func TestDecodeGIFFlattensDeltas(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}

	full := image.NewPaletted(image.Rect(0, 0, 4, 4), palette.Plan9)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			full.Set(x, y, red)
		}
	}
	patch := image.NewPaletted(image.Rect(1, 1, 2, 2), palette.Plan9)
	patch.Set(1, 1, blue)

	var buf bytes.Buffer
	err := gif.EncodeAll(&buf, &gif.GIF{
		Image:     []*image.Paletted{full, patch},
		Delay:     []int{7, 9},
		Disposal:  []byte{gif.DisposalNone, gif.DisposalNone},
		LoopCount: -1,
		Config:    image.Config{ColorModel: color.Palette(palette.Plan9), Width: 4, Height: 4},
	})
	if err != nil {
		t.Fatal(err)
	}

	seq, err := DecodeGIF(&buf)
	if err != nil {
		t.Fatalf("DecodeGIF() error = %v", err)
	}
	if seq.LoopCount != -1 {
		t.Errorf("LoopCount = %d; want -1", seq.LoopCount)
	}
	second := seq.Frames[1].Image.(*image.RGBA)
	if second.Bounds() != image.Rect(0, 0, 4, 4) {
		t.Fatalf("second frame bounds = %v; want full screen", second.Bounds())
	}
	if c := second.RGBAAt(0, 0); c != red {
		t.Errorf("untouched pixel = %v; want red", c)
	}
	if c := second.RGBAAt(1, 1); c != blue {
		t.Errorf("patched pixel = %v; want blue", c)
	}
	if seq.Frames[1].Delay != 9 {
		t.Errorf("delay = %d; want 9", seq.Frames[1].Delay)
	}
}
