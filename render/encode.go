package render

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/stevecastle/autostereo/sequence"
)

// JPEGQuality is used for .jpg and .jpeg outputs.
const JPEGQuality = 95

// checkOutput reports whether Encode can write dest.
func checkOutput(dest string) error {
	switch strings.ToLower(filepath.Ext(dest)) {
	case ".png", ".jpg", ".jpeg", ".gif":
		return nil
	}
	return fmt.Errorf("output %q: %w", dest, ErrUnsupportedFormat)
}

// Encode writes img in the format named by dest's extension.
func Encode(w io.Writer, img image.Image, dest string) error {
	switch strings.ToLower(filepath.Ext(dest)) {
	case ".png":
		return png.Encode(w, img)
	case ".jpg", ".jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: JPEGQuality})
	case ".gif":
		return sequence.EncodeGIF(w, &sequence.Sequence{Frames: []sequence.Frame{{Image: img}}, LoopCount: -1})
	default:
		return fmt.Errorf("output %q: %w", dest, ErrUnsupportedFormat)
	}
}
