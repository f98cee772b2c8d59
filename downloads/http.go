package downloads

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	// DefaultRetryAttempts is the number of times to retry a failed download.
	DefaultRetryAttempts = 3
	// DefaultRetryDelay is the delay between retry attempts.
	DefaultRetryDelay = 5 * time.Second
	// DefaultBufferSize is the buffer size for file downloads.
	DefaultBufferSize = 32 * 1024

	partSuffix = ".part"
)

// DownloadFile downloads url to destPath. Data lands in destPath+".part"
// first and is renamed into place once complete; an existing part file is
// resumed with a Range request.
func DownloadFile(ctx context.Context, client *http.Client, destPath, url string, progressCb ByteProgressCallback) error {
	if client == nil {
		client = http.DefaultClient
	}
	partPath := destPath + partSuffix

	var existingSize int64
	if stat, err := os.Stat(partPath); err == nil {
		existingSize = stat.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if existingSize > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existingSize))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusOK:
		existingSize = 0
		flags |= os.O_TRUNC
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	default:
		return fmt.Errorf("GET %s: bad status: %s", url, resp.Status)
	}

	totalSize := resp.ContentLength
	if totalSize > 0 {
		totalSize += existingSize
	}

	out, err := os.OpenFile(partPath, flags, 0644)
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}

	downloaded := existingSize
	buffer := make([]byte, DefaultBufferSize)
	lastReport := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			out.Close()
			return err
		}
		n, readErr := resp.Body.Read(buffer)
		if n > 0 {
			if _, err := out.Write(buffer[:n]); err != nil {
				out.Close()
				return fmt.Errorf("failed to write to file: %w", err)
			}
			downloaded += int64(n)
			if progressCb != nil && time.Since(lastReport) >= 100*time.Millisecond {
				progressCb(downloaded, totalSize)
				lastReport = time.Now()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Close()
			return fmt.Errorf("failed to read response: %w", readErr)
		}
	}
	if err := out.Close(); err != nil {
		return err
	}
	if totalSize > 0 && downloaded != totalSize {
		return fmt.Errorf("GET %s: got %d of %d bytes", url, downloaded, totalSize)
	}
	if progressCb != nil {
		progressCb(downloaded, totalSize)
	}
	return os.Rename(partPath, destPath)
}

// DownloadWithRetry calls DownloadFile up to attempts times, waiting delay
// between tries. Each retry resumes from the part file.
func DownloadWithRetry(ctx context.Context, client *http.Client, destPath, url string, attempts int, delay time.Duration, progressCb ByteProgressCallback) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := DownloadFile(ctx, client, destPath, url, progressCb)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return err
		}
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("download failed after %d attempts: %w", attempts, lastErr)
}
