// Package storage persists transcription artifacts and manages retention of
// staged uploads.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/config"
)

var (
	// ErrNotFound is returned by backends when a key does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidKey is returned for keys that are not a single path component.
	ErrInvalidKey = errors.New("invalid object key")
)

// Object describes a stored artifact.
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// ArtifactStore abstracts artifact storage backends. Keys are flat file names.
type ArtifactStore interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// Open returns a reader for the artifact, or ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	Exists(ctx context.Context, key string) bool

	// List returns every stored artifact in no particular order.
	List(ctx context.Context) ([]Object, error)

	// Type returns "local" or "s3".
	Type() string
}

// New creates an ArtifactStore based on config. Returns an error if S3 is
// configured but unreachable.
func New(cfg config.S3Config, resultsDir string, log zerolog.Logger) (ArtifactStore, error) {
	if !cfg.Enabled() {
		return NewLocalStore(resultsDir)
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("S3 init failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")
	return s3store, nil
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}
