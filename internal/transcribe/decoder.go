package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/snarg/scribe/internal/apperr"
)

const (
	sampleRate    = 16000
	wavHeaderSize = 44
	bytesPerSec   = sampleRate * 2 // mono s16le
)

// Decoder converts arbitrary input encodings to the 16 kHz mono PCM WAV the
// model expects, using an ffmpeg binary at a pinned path.
type Decoder struct {
	path   string
	runner commandRunner
	err    error // why path could not be resolved, reported per job
}

// NewDecoder pins the decoder executable. An explicit path must exist and be
// executable; an empty path is resolved with exec.LookPath once, here. A
// missing binary is not fatal at construction: every Decode call fails with
// DecodeFailure until the process is restarted with a valid path.
func NewDecoder(explicitPath string) *Decoder {
	d := &Decoder{runner: execRunner{}}
	if explicitPath != "" {
		if err := ensureExecutable(explicitPath); err != nil {
			d.err = fmt.Errorf("FFMPEG_PATH %s: %w", explicitPath, err)
			return d
		}
		d.path = explicitPath
		return d
	}
	p, err := exec.LookPath("ffmpeg")
	if err != nil {
		d.err = fmt.Errorf("ffmpeg not found in PATH; set FFMPEG_PATH: %w", err)
		return d
	}
	d.path = p
	return d
}

// Path returns the pinned executable path, or "" when unresolved.
func (d *Decoder) Path() string { return d.path }

// Check reports why the decoder is unusable, or nil.
func (d *Decoder) Check() error { return d.err }

// Decode writes a normalized WAV into dir and returns its path and the
// audio duration in seconds.
func (d *Decoder) Decode(ctx context.Context, inputPath, dir string) (string, float64, error) {
	if d.err != nil {
		return "", 0, apperr.Wrap(apperr.DecodeFailure, d.err, "audio decoder is not available")
	}

	outPath := filepath.Join(dir, "decoded-16k-mono.wav")
	res, err := d.runner.Run(ctx, d.path, buildFFmpegArgs(inputPath, outPath)...)
	if err != nil {
		return "", 0, apperr.Wrap(apperr.DecodeFailure,
			fmt.Errorf("ffmpeg exit %d: %w (%s)", res.ExitCode, err, lastLine(res.Stderr)),
			"audio could not be decoded; the file may be corrupt or not an audio file")
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return "", 0, apperr.Wrap(apperr.DecodeFailure, err, "audio decoder produced no output")
	}
	if info.Size() <= wavHeaderSize {
		return "", 0, apperr.New(apperr.DecodeFailure, "audio contains no decodable samples")
	}

	return outPath, float64(info.Size()-wavHeaderSize) / bytesPerSec, nil
}

func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

var errNoExecutable = errors.New("executable not configured")
