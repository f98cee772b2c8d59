package sequence

import (
	"archive/zip"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writeZip(t *testing.T, names []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frames.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if filepath.Ext(name) != ".png" {
			w.Write([]byte("not an image"))
			continue
		}
		// Encode the frame number in the red channel.
		var n int
		for _, c := range name {
			if c >= '0' && c <= '9' {
				n = n*10 + int(c-'0')
			}
		}
		img := image.NewRGBA(image.Rect(0, 0, 3, 2))
		img.SetRGBA(0, 0, color.RGBA{R: uint8(n), A: 255})
		if err := png.Encode(w, img); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return path
}

func TestDecodeArchiveZip(t *testing.T) {
	path := writeZip(t, []string{"frame10.png", "frame2.png", "notes.txt", "frame1.png"})
	seq, err := DecodeArchive(path, 0)
	if err != nil {
		t.Fatalf("DecodeArchive() error = %v", err)
	}
	if len(seq.Frames) != 3 {
		t.Fatalf("got %d frames; want 3", len(seq.Frames))
	}
	for i, want := range []uint8{1, 2, 10} {
		f := seq.Frames[i]
		r, _, _, _ := f.Image.At(0, 0).RGBA()
		if uint8(r>>8) != want {
			t.Errorf("frame %d is frame%d; want frame%d", i, r>>8, want)
		}
		if f.Delay != DefaultArchiveDelay {
			t.Errorf("frame %d delay = %d; want %d", i, f.Delay, DefaultArchiveDelay)
		}
	}
	if seq.LoopCount != 0 {
		t.Errorf("LoopCount = %d; want 0", seq.LoopCount)
	}
}

func TestDecodeArchiveErrors(t *testing.T) {
	if _, err := DecodeArchive(filepath.Join(t.TempDir(), "x.tar"), 5); err == nil {
		t.Error("DecodeArchive() accepted a .tar")
	}
	if _, err := DecodeArchive(filepath.Join(t.TempDir(), "missing.7z"), 5); err == nil {
		t.Error("DecodeArchive() opened a missing .7z")
	}
}

func TestNaturalCompare(t *testing.T) {
	tests := []struct {
		a, b string
		less bool
	}{
		{"frame2.png", "frame10.png", true},
		{"frame10.png", "frame2.png", false},
		{"a.png", "b.png", true},
		{"f007.png", "f8.png", true},
		{"f1", "f1a", true},
	}
	for _, tt := range tests {
		if got := naturalCompare(tt.a, tt.b) < 0; got != tt.less {
			t.Errorf("naturalCompare(%q, %q) < 0 = %v; want %v", tt.a, tt.b, got, tt.less)
		}
	}
}
