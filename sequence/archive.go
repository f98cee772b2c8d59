package sequence

import (
	"archive/zip"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/bodgit/sevenzip"
	_ "golang.org/x/image/webp"
)

// DefaultArchiveDelay is the per-frame delay, in 100ths of a second, used for
// frame archives when none is given.
const DefaultArchiveDelay = 10

var frameExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

type archiveEntry struct {
	name string
	open func() (io.ReadCloser, error)
}

// DecodeArchive reads every image in a .zip or .7z archive as one frame,
// ordered by file name with embedded numbers compared numerically. Each frame
// is shown for delay 100ths of a second; the animation loops forever.
func DecodeArchive(archivePath string, delay int) (*Sequence, error) {
	if delay <= 0 {
		delay = DefaultArchiveDelay
	}
	var (
		entries []archiveEntry
		closer  io.Closer
	)
	switch strings.ToLower(path.Ext(archivePath)) {
	case ".zip":
		reader, err := zip.OpenReader(archivePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open zip archive: %w", err)
		}
		closer = reader
		for _, file := range reader.File {
			if file.FileInfo().IsDir() {
				continue
			}
			entries = append(entries, archiveEntry{name: file.Name, open: file.Open})
		}
	case ".7z":
		reader, err := sevenzip.OpenReader(archivePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open 7z archive: %w", err)
		}
		closer = reader
		for _, file := range reader.File {
			if file.FileInfo().IsDir() {
				continue
			}
			entries = append(entries, archiveEntry{name: file.Name, open: file.Open})
		}
	default:
		return nil, fmt.Errorf("unsupported archive %s", archivePath)
	}
	defer closer.Close()

	entries = slices.DeleteFunc(entries, func(e archiveEntry) bool {
		return !frameExts[strings.ToLower(path.Ext(e.name))]
	})
	slices.SortFunc(entries, func(a, b archiveEntry) int {
		return naturalCompare(a.name, b.name)
	})

	seq := &Sequence{Frames: make([]Frame, 0, len(entries))}
	for _, e := range entries {
		img, err := decodeEntry(e)
		if err != nil {
			return nil, err
		}
		seq.Frames = append(seq.Frames, Frame{Image: img, Delay: delay})
	}
	return seq, nil
}

func decodeEntry(e archiveEntry) (image.Image, error) {
	rc, err := e.open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s in archive: %w", e.name, err)
	}
	defer rc.Close()
	img, _, err := image.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", e.name, err)
	}
	return img, nil
}

// naturalCompare orders "frame2" before "frame10".
func naturalCompare(a, b string) int {
	for a != "" && b != "" {
		if isDigit(a[0]) && isDigit(b[0]) {
			na, ra := splitDigits(a)
			nb, rb := splitDigits(b)
			ta := strings.TrimLeft(na, "0")
			tb := strings.TrimLeft(nb, "0")
			if len(ta) != len(tb) {
				return len(ta) - len(tb)
			}
			if c := strings.Compare(ta, tb); c != 0 {
				return c
			}
			a, b = ra, rb
			continue
		}
		if a[0] != b[0] {
			return int(a[0]) - int(b[0])
		}
		a, b = a[1:], b[1:]
	}
	return len(a) - len(b)
}

func splitDigits(s string) (string, string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
