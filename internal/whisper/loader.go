package whisper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/apperr"
)

// FileLoader resolves ggml weights under a model directory for the
// whisper.cpp CLI backend, downloading missing files when allowed.
type FileLoader struct {
	Dir          string
	AutoDownload bool
	HTTPClient   *http.Client
	Log          zerolog.Logger

	// catalog override for tests
	models map[Size]Model
}

// ModelPath returns where the weights for size live under Dir.
func (l *FileLoader) ModelPath(size Size) (string, Model, error) {
	m, ok := l.lookup(size)
	if !ok {
		return "", Model{}, apperr.New(apperr.InvalidArgument, "unsupported model size %q", size)
	}
	return filepath.Join(l.Dir, m.FileName), m, nil
}

func (l *FileLoader) Load(ctx context.Context, size Size, device Device) (*Handle, error) {
	path, m, err := l.ModelPath(size)
	if err != nil {
		return nil, err
	}

	info, statErr := os.Stat(path)
	switch {
	case errors.Is(statErr, os.ErrNotExist):
		if !l.AutoDownload {
			return nil, apperr.New(apperr.InferenceFailure,
				"model %q is not installed; run `scribe models pull %s`", size, size)
		}
		l.Log.Info().Str("size", string(size)).Str("destination", path).Msg("model not found, downloading")
		if err := Download(ctx, DownloadOptions{
			URL:            m.URL,
			Destination:    path,
			ExpectedSHA256: m.SHA256,
			HTTPClient:     l.HTTPClient,
			Log:            l.Log,
		}); err != nil {
			return nil, apperr.Wrap(apperr.InferenceFailure, err, "model %q could not be downloaded", size)
		}
		if info, statErr = os.Stat(path); statErr != nil {
			return nil, apperr.Wrap(apperr.InferenceFailure, statErr, "model %q could not be loaded", size)
		}
	case statErr != nil:
		return nil, apperr.Wrap(apperr.InferenceFailure, statErr, "model %q could not be loaded", size)
	}

	if info.IsDir() || info.Size() == 0 {
		return nil, apperr.New(apperr.InferenceFailure, "model %q weights at %s are empty or invalid", size, path)
	}

	return &Handle{
		Size:     size,
		Device:   device,
		Model:    "whisper.cpp/" + m.FileName,
		Weights:  path,
		LoadedAt: time.Now(),
	}, nil
}

// Pull downloads the weights for size unless already present and verified.
func (l *FileLoader) Pull(ctx context.Context, size Size, progress bool) (string, error) {
	path, m, err := l.ModelPath(size)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil {
		if err := VerifyFileChecksum(path, m.SHA256); err == nil {
			return path, nil
		}
		l.Log.Warn().Str("path", path).Msg("existing model failed checksum, downloading again")
	}
	if err := Download(ctx, DownloadOptions{
		URL:            m.URL,
		Destination:    path,
		ExpectedSHA256: m.SHA256,
		Progress:       progress,
		HTTPClient:     l.HTTPClient,
		Log:            l.Log,
	}); err != nil {
		return "", fmt.Errorf("download model %q: %w", size, err)
	}
	return path, nil
}

// Installed reports whether weights for size exist locally.
func (l *FileLoader) Installed(size Size) bool {
	path, _, err := l.ModelPath(size)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

func (l *FileLoader) lookup(size Size) (Model, bool) {
	if l.models != nil {
		m, ok := l.models[size]
		return m, ok
	}
	return LookupModel(size)
}

// RemoteLoader produces handles for models served by a remote
// OpenAI-compatible endpoint. Nothing is loaded locally.
type RemoteLoader struct {
	// Names maps sizes to remote model ids. Missing sizes use the ggml name.
	Names map[Size]string
}

func (l *RemoteLoader) Load(ctx context.Context, size Size, device Device) (*Handle, error) {
	if _, ok := LookupModel(size); !ok {
		return nil, apperr.New(apperr.InvalidArgument, "unsupported model size %q", size)
	}
	name := l.Names[size]
	if name == "" {
		name = "whisper-" + string(size)
	}
	return &Handle{Size: size, Device: device, Model: name, LoadedAt: time.Now()}, nil
}
