// Package storage writes rendered outputs to their destination: a local file
// replaced atomically, or an object in S3 addressed as s3://bucket/key.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrEncoding marks a failure to encode an output. Nothing is written to
	// the destination when it is returned.
	ErrEncoding = errors.New("encoding failure")
	// ErrInvalidDestination is returned for an unparsable destination.
	ErrInvalidDestination = errors.New("invalid destination")
)

// EncodeFunc writes one encoded output to w.
type EncodeFunc func(w io.Writer) error

// Sink stores an encoded output under a destination name.
type Sink interface {
	Put(ctx context.Context, dest string, encode EncodeFunc) error
}

// LocalSink writes files on the local filesystem. The output is encoded into
// a temporary file next to the destination and renamed into place, so a
// failed encode never leaves a partial file behind.
type LocalSink struct{}

func (LocalSink) Put(ctx context.Context, dest string, encode EncodeFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if err := encode(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%s: %w: %w", dest, ErrEncoding, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("move output into place: %w", err)
	}
	return nil
}

// ParseS3URL splits s3://bucket/key. ok is false for anything that is not an
// s3 URL.
func ParseS3URL(dest string) (bucket, key string, ok bool, err error) {
	rest, found := strings.CutPrefix(dest, "s3://")
	if !found {
		return "", "", false, nil
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", true, fmt.Errorf("%q needs a bucket and an object key: %w", dest, ErrInvalidDestination)
	}
	return bucket, key, true, nil
}

// Router sends s3:// destinations to an S3 sink and everything else to the
// local filesystem. The S3 client is built on first use, detached from the
// request's cancellation, and a build error sticks for the Router's lifetime.
type Router struct {
	Local Sink
	S3    S3Config

	// NewS3 builds the S3 sink. Nil uses NewS3Sink.
	NewS3 func(ctx context.Context, cfg S3Config) (Sink, error)

	once   sync.Once
	remote Sink
	err    error
}

// NewRouter returns a Router writing local files with LocalSink.
func NewRouter(cfg S3Config) *Router {
	return &Router{Local: LocalSink{}, S3: cfg}
}

func (r *Router) Put(ctx context.Context, dest string, encode EncodeFunc) error {
	_, _, isS3, err := ParseS3URL(dest)
	if err != nil {
		return err
	}
	if !isS3 {
		local := r.Local
		if local == nil {
			local = LocalSink{}
		}
		return local.Put(ctx, dest, encode)
	}
	r.once.Do(func() {
		build := r.NewS3
		if build == nil {
			build = func(ctx context.Context, cfg S3Config) (Sink, error) {
				return NewS3Sink(ctx, cfg)
			}
		}
		r.remote, r.err = build(context.WithoutCancel(ctx), r.S3)
	})
	if r.err != nil {
		return fmt.Errorf("s3 sink: %w", r.err)
	}
	return r.remote.Put(ctx, dest, encode)
}
