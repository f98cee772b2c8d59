package downloads

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
)

// ErrNoMatch is returned when an archive holds no file the matcher accepts.
var ErrNoMatch = errors.New("no matching file found in archive")

// ExtractFile copies the first regular file in archivePath whose name
// satisfies match to destPath. The archive type follows the extension:
// .zip, .tgz/.tar.gz or .7z.
func ExtractFile(archivePath, destPath string, match func(name string) bool) error {
	lower := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return extractFromZip(archivePath, destPath, match)
	case strings.HasSuffix(lower, ".tgz"), strings.HasSuffix(lower, ".tar.gz"):
		return extractFromTarGz(archivePath, destPath, match)
	case strings.HasSuffix(lower, ".7z"):
		return extractFrom7z(archivePath, destPath, match)
	default:
		return fmt.Errorf("unsupported archive %s", archivePath)
	}
}

func extractFromZip(archivePath, destPath string, match func(string) bool) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open zip archive: %w", err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		if file.FileInfo().IsDir() || !match(file.Name) {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return fmt.Errorf("failed to open %s in archive: %w", file.Name, err)
		}
		defer rc.Close()
		return writeFile(destPath, rc)
	}
	return ErrNoMatch
}

func extractFromTarGz(archivePath, destPath string, match func(string) bool) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return ErrNoMatch
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}
		if header.Typeflag == tar.TypeReg && match(header.Name) {
			return writeFile(destPath, tarReader)
		}
	}
}

func extractFrom7z(archivePath, destPath string, match func(string) bool) error {
	reader, err := sevenzip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open 7z archive: %w", err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		if file.FileInfo().IsDir() || !match(file.Name) {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return fmt.Errorf("failed to open %s in archive: %w", file.Name, err)
		}
		defer rc.Close()
		return writeFile(destPath, rc)
	}
	return ErrNoMatch
}

func writeFile(destPath string, r io.Reader) error {
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destPath, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(destPath)
		return fmt.Errorf("failed to extract %s: %w", filepath.Base(destPath), err)
	}
	return out.Close()
}
