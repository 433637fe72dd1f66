package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/apperr"
)

const artifactTimeLayout = "2006-01-02_15-04-05"

var artifactPattern = regexp.MustCompile(`^transcription_\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}(-\d+)?\.(json|txt)$`)

// TranscriptionResult is the persisted record of a completed job.
type TranscriptionResult struct {
	Text                  string    `json:"text"`
	GenerationTimeSeconds float64   `json:"generation_time_seconds"`
	Timestamp             time.Time `json:"timestamp"`
	ModelSize             string    `json:"model_size"`
	Language              string    `json:"language"`
	AudioDurationSeconds  float64   `json:"audio_duration_seconds,omitempty"`
	SourceFilename        string    `json:"source_filename,omitempty"`
	Device                string    `json:"device,omitempty"`
	Backend               string    `json:"backend,omitempty"`
	JobID                 string    `json:"job_id,omitempty"`
}

// Artifact is a listing entry for a stored result.
type Artifact struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Archive names, writes and retrieves transcription artifacts.
type Archive struct {
	store  ArtifactStore
	format string // json | txt
	log    zerolog.Logger
	now    func() time.Time

	mu sync.Mutex // serializes name selection with the write
}

// NewArchive wraps store. format is "json" (default) or "txt".
func NewArchive(store ArtifactStore, format string, log zerolog.Logger) *Archive {
	if format != "txt" {
		format = "json"
	}
	return &Archive{
		store:  store,
		format: format,
		log:    log.With().Str("component", "archive").Logger(),
		now:    time.Now,
	}
}

// Save persists res and returns the artifact name. A zero Timestamp is set
// to the current wall clock; the name is derived from it.
func (a *Archive) Save(ctx context.Context, res *TranscriptionResult) (string, error) {
	if res.Timestamp.IsZero() {
		res.Timestamp = a.now()
	}

	data, contentType, err := a.encode(res)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, err, "failed to encode transcription result")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	base := "transcription_" + res.Timestamp.Format(artifactTimeLayout)
	name := base + "." + a.format
	for i := 1; a.store.Exists(ctx, name); i++ {
		name = fmt.Sprintf("%s-%d.%s", base, i, a.format)
	}

	if err := a.store.Save(ctx, name, data, contentType); err != nil {
		return "", apperr.Wrap(apperr.Internal, err, "failed to persist transcription result")
	}
	a.log.Debug().Str("artifact", name).Str("backend", a.store.Type()).Int("bytes", len(data)).Msg("artifact saved")
	return name, nil
}

func (a *Archive) encode(res *TranscriptionResult) ([]byte, string, error) {
	if a.format == "txt" {
		return []byte(res.Text), "text/plain; charset=utf-8", nil
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

// Open returns a reader for the named artifact. Names that could address
// anything outside the results area are rejected; unknown names are NotFound.
func (a *Archive) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return nil, apperr.New(apperr.InvalidArgument, "invalid artifact name")
	}
	if !artifactPattern.MatchString(name) {
		return nil, apperr.New(apperr.NotFound, "artifact %q not found", name)
	}
	r, err := a.store.Open(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "artifact %q not found", name)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to read artifact")
	}
	return r, nil
}

// Load returns the bytes of the named artifact.
func (a *Archive) Load(ctx context.Context, name string) ([]byte, error) {
	r, err := a.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to read artifact")
	}
	return data, nil
}

// List returns stored artifacts, newest first.
func (a *Archive) List(ctx context.Context) ([]Artifact, error) {
	objects, err := a.store.List(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to list artifacts")
	}
	out := make([]Artifact, 0, len(objects))
	for _, o := range objects {
		if !artifactPattern.MatchString(o.Key) {
			continue
		}
		out = append(out, Artifact{Name: o.Key, Size: o.Size, CreatedAt: o.ModTime})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name > out[j].Name
	})
	return out, nil
}

// ContentType returns the MIME type for an artifact name.
func ContentType(name string) string {
	if strings.HasSuffix(name, ".txt") {
		return "text/plain; charset=utf-8"
	}
	return "application/json"
}

// Backend returns the underlying store type.
func (a *Archive) Backend() string { return a.store.Type() }
