// Package audio validates incoming audio references and materializes them
// as files in the upload staging directory.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/apperr"
)

const chunkSize = 8 << 10

// Ingested is a validated audio file on local disk.
type Ingested struct {
	Path             string
	OriginalFilename string // sanitized client or URL supplied name
	Extension        string
	Size             int64
}

// IngestorOptions configures an Ingestor.
type IngestorOptions struct {
	Dir          string
	MaxBytes     int64
	FetchTimeout time.Duration
	HTTPClient   *http.Client // nil = built from FetchTimeout
	Log          zerolog.Logger
}

// Ingestor turns uploads and remote URLs into files under Dir. Files are
// never removed by the ingestor; see storage.UploadPruner for retention.
type Ingestor struct {
	dir      string
	maxBytes int64
	timeout  time.Duration
	client   *http.Client
	log      zerolog.Logger
	now      func() time.Time

	createTemp func(dir, pattern string) (*os.File, error)
}

// NewIngestor creates the staging directory and returns an Ingestor.
func NewIngestor(opts IngestorOptions) (*Ingestor, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", opts.Dir, err)
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = newFetchClient(opts.FetchTimeout)
	}
	return &Ingestor{
		dir:      opts.Dir,
		maxBytes: opts.MaxBytes,
		timeout:  opts.FetchTimeout,
		client:   client,
		log:      opts.Log.With().Str("component", "ingest").Logger(),
		now:      time.Now,

		createTemp: os.CreateTemp,
	}, nil
}

// newFetchClient bounds connection setup and time-to-headers. Body reads are
// bounded separately by a stall timer so long downloads that keep making
// progress are not cut off.
func newFetchClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
		},
	}
}

// FromUpload validates filename and streams r into the staging directory.
func (in *Ingestor) FromUpload(ctx context.Context, filename string, r io.Reader) (*Ingested, error) {
	name := SanitizeFilename(filename)
	if !Allowed(name) {
		return nil, unsupported(filename)
	}

	path, size, err := in.write(name, r)
	if err != nil {
		return nil, err
	}
	in.log.Debug().Str("filename", name).Int64("bytes", size).Msg("upload staged")
	return &Ingested{Path: path, OriginalFilename: name, Extension: Extension(name), Size: size}, nil
}

// FromURL infers a filename from rawURL, validates it before any network
// access, then streams the response body into the staging directory.
func (in *Ingestor) FromURL(ctx context.Context, rawURL string) (*Ingested, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperr.New(apperr.InvalidArgument, "audio_url must be an absolute http or https URL")
	}

	name := SanitizeFilename(FilenameFromURL(u.String()))
	if name == "" {
		name = fmt.Sprintf("download_%d.mp3", in.now().Unix())
	}
	if !Allowed(name) {
		return nil, unsupported(name)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, err, "audio_url is not a valid request target")
	}
	req.Header.Set("User-Agent", "scribe/1")

	resp, err := in.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.SourceUnavailable, err, "audio could not be fetched from URL")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.New(apperr.SourceUnavailable, "audio URL returned status %d", resp.StatusCode)
	}
	if in.maxBytes > 0 && resp.ContentLength > in.maxBytes {
		return nil, tooLarge(in.maxBytes)
	}

	body := newStallReader(resp.Body, in.timeout, cancel)
	defer body.Stop()

	path, size, err := in.write(name, body)
	if err != nil {
		if body.Stalled() || ctx.Err() != nil {
			return nil, apperr.Wrap(apperr.SourceUnavailable, err, "audio download timed out")
		}
		return nil, err
	}

	in.log.Info().Str("host", u.Host).Str("filename", name).Int64("bytes", size).Msg("remote audio fetched")
	return &Ingested{Path: path, OriginalFilename: name, Extension: Extension(name), Size: size}, nil
}

// write streams r to a temp file in the staging dir and links it under a
// free variant of name, so concurrent jobs never overwrite each other.
func (in *Ingestor) write(name string, r io.Reader) (string, int64, error) {
	tmp, err := in.createTemp(in.dir, ".upload-*.tmp")
	if err != nil {
		return "", 0, apperr.Wrap(apperr.Internal, err, "failed to stage audio")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	src := &sourceReader{r: r}
	var lr io.Reader = src
	if in.maxBytes > 0 {
		lr = io.LimitReader(src, in.maxBytes+1)
	}
	size, err := io.CopyBuffer(tmp, lr, make([]byte, chunkSize))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	switch {
	case src.err != nil:
		return "", 0, apperr.Wrap(apperr.SourceUnavailable, src.err, "audio transfer was interrupted")
	case err != nil:
		return "", 0, apperr.Wrap(apperr.Internal, err, "failed to stage audio")
	}
	if in.maxBytes > 0 && size > in.maxBytes {
		return "", 0, tooLarge(in.maxBytes)
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
		}
		dst := filepath.Join(in.dir, candidate)
		err := os.Link(tmpPath, dst)
		if err == nil {
			return dst, size, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", 0, apperr.Wrap(apperr.Internal, err, "failed to stage audio")
		}
	}
	return "", 0, apperr.New(apperr.Internal, "failed to stage audio: too many files named %q", name)
}

// sourceReader remembers the first non-EOF read error so failures of the
// audio source can be told apart from failures writing the staged file.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF && s.err == nil {
		s.err = err
	}
	return n, err
}

// Dir returns the staging directory.
func (in *Ingestor) Dir() string { return in.dir }

func unsupported(name string) error {
	return apperr.New(apperr.UnsupportedFormat, "unsupported file format %q (allowed: mp3, wav, m4a, flac, ogg)", name)
}

func tooLarge(max int64) error {
	return apperr.New(apperr.InvalidArgument, "audio exceeds the %d MB limit", max>>20)
}
