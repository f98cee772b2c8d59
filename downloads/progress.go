package downloads

import "fmt"

// Status is the state of one asset fetch.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusExtracting  Status = "extracting"
	StatusComplete    Status = "complete"
	StatusSkipped     Status = "skipped"
	StatusError       Status = "error"
)

// Progress reports the state of one asset.
type Progress struct {
	Asset           string  `json:"asset"`
	Status          Status  `json:"status"`
	Message         string  `json:"message,omitempty"`
	BytesDownloaded int64   `json:"bytes_downloaded"`
	TotalBytes      int64   `json:"total_bytes"`
	Percent         float64 `json:"percent"`
	Error           string  `json:"error,omitempty"`
}

// ProgressCallback is a function called to report asset progress.
type ProgressCallback func(Progress)

// ByteProgressCallback is a function called to report raw byte progress during download.
type ByteProgressCallback func(downloaded, total int64)

// FormatBytes formats bytes as human-readable size.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
