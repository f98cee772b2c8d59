package downloads

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"
)

// Fetcher installs assets, skipping those already present.
type Fetcher struct {
	Client     *http.Client
	Attempts   int
	RetryDelay time.Duration
	// Force re-downloads assets that already exist.
	Force    bool
	Progress ProgressCallback
}

// NewFetcher returns a Fetcher with the default retry policy.
func NewFetcher() *Fetcher {
	return &Fetcher{
		Client:     &http.Client{Timeout: 0},
		Attempts:   DefaultRetryAttempts,
		RetryDelay: DefaultRetryDelay,
	}
}

// Missing returns the assets whose Path does not exist yet.
func Missing(assets []Asset) []Asset {
	var out []Asset
	for _, a := range assets {
		if _, err := os.Stat(a.Path); err != nil {
			out = append(out, a)
		}
	}
	return out
}

// Fetch installs every asset in order and stops at the first failure.
func (f *Fetcher) Fetch(ctx context.Context, assets []Asset) error {
	for _, a := range assets {
		if err := f.fetchOne(ctx, a); err != nil {
			f.report(Progress{Asset: a.Name, Status: StatusError, Error: err.Error()})
			return fmt.Errorf("%s: %w", a.Name, err)
		}
	}
	return nil
}

func (f *Fetcher) fetchOne(ctx context.Context, a Asset) error {
	if !f.Force {
		if _, err := os.Stat(a.Path); err == nil {
			f.report(Progress{Asset: a.Name, Status: StatusSkipped, Message: a.Path, Percent: 100})
			return nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(a.Path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if a.URL == "" {
		if err := os.WriteFile(a.Path, a.Data, 0644); err != nil {
			return err
		}
		f.report(Progress{Asset: a.Name, Status: StatusComplete, Message: a.Path, Percent: 100})
		return nil
	}

	dest := a.Path
	if a.Member != nil {
		dest = filepath.Join(filepath.Dir(a.Path), "."+path.Base(a.URL))
	}
	f.report(Progress{Asset: a.Name, Status: StatusDownloading, Message: a.URL})
	err := DownloadWithRetry(ctx, f.Client, dest, a.URL, f.Attempts, f.RetryDelay, func(done, total int64) {
		p := Progress{Asset: a.Name, Status: StatusDownloading, BytesDownloaded: done, TotalBytes: total}
		if total > 0 {
			p.Percent = float64(done) / float64(total) * 100
		}
		f.report(p)
	})
	if err != nil {
		return err
	}

	if a.Member != nil {
		f.report(Progress{Asset: a.Name, Status: StatusExtracting, Message: a.Path})
		err := ExtractFile(dest, a.Path, a.Member)
		os.Remove(dest)
		if err != nil {
			return err
		}
	}
	f.report(Progress{Asset: a.Name, Status: StatusComplete, Message: a.Path, Percent: 100})
	return nil
}

func (f *Fetcher) report(p Progress) {
	if f.Progress != nil {
		f.Progress(p)
	}
}
