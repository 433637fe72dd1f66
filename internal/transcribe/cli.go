package transcribe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/apperr"
	"github.com/snarg/scribe/internal/whisper"
)

// CLIProvider runs whisper.cpp's whisper-cli against local ggml weights.
type CLIProvider struct {
	executable string
	runner     commandRunner
	log        zerolog.Logger
}

// NewCLIProvider pins the whisper-cli executable. An empty path is resolved
// from PATH once.
func NewCLIProvider(explicitPath string, log zerolog.Logger) (*CLIProvider, error) {
	p := &CLIProvider{runner: execRunner{}, log: log.With().Str("component", "whisper-cli").Logger()}
	if explicitPath != "" {
		if err := ensureExecutable(explicitPath); err != nil {
			return nil, fmt.Errorf("WHISPER_CLI_PATH is not executable: %w", err)
		}
		p.executable = explicitPath
		return p, nil
	}
	path, err := exec.LookPath(engineBinaryName())
	if err != nil {
		return nil, fmt.Errorf("%s not found in PATH; set WHISPER_CLI_PATH: %w", engineBinaryName(), err)
	}
	p.executable = path
	return p, nil
}

func (p *CLIProvider) Name() string { return "whisper.cpp" }

func (p *CLIProvider) Transcribe(ctx context.Context, h *whisper.Handle, wavPath string, opts TranscribeOpts) (*Response, error) {
	if p.executable == "" {
		return nil, apperr.Wrap(apperr.InferenceFailure, errNoExecutable, "transcription engine is not available")
	}
	if h == nil || h.Weights == "" {
		return nil, apperr.New(apperr.InferenceFailure, "model weights are not loaded")
	}

	outBase := strings.TrimSuffix(wavPath, filepath.Ext(wavPath))
	args := buildWhisperArgs(h, wavPath, outBase, opts)

	p.log.Debug().Str("engine", p.executable).Strs("args", args).Msg("running whisper engine")
	res, err := p.runner.Run(ctx, p.executable, args...)
	if err != nil {
		return nil, classifyEngineError(err, res.Stderr)
	}

	txtOut := outBase + ".txt"
	content, err := os.ReadFile(txtOut)
	if err != nil {
		return nil, apperr.Wrap(apperr.InferenceFailure, err, "transcription engine produced no transcript")
	}
	return &Response{Text: strings.TrimSpace(string(content)), Language: opts.Language}, nil
}

func buildWhisperArgs(h *whisper.Handle, wavPath, outBase string, opts TranscribeOpts) []string {
	args := []string{"-m", h.Weights, "-f", wavPath, "-nt", "-otxt", "-of", outBase}
	if lang := strings.TrimSpace(opts.Language); lang != "" && lang != "auto" {
		args = append(args, "-l", lang)
	}
	if opts.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(opts.Threads))
	}
	if h.Device == whisper.CPU {
		args = append(args, "-ng")
	}
	return args
}

func classifyEngineError(err error, stderr string) error {
	text := strings.ToLower(strings.TrimSpace(stderr))
	cause := fmt.Errorf("%w (%s)", err, lastLine(stderr))

	switch {
	case containsAny(text, "out of memory", "cudaerrormemoryallocation", "failed to allocate"):
		return apperr.Wrap(apperr.InferenceFailure, cause, "transcription ran out of memory on the compute device")
	case containsAny(text, "error while loading shared libraries", "cannot open shared object file", "dyld: library not loaded"):
		return apperr.Wrap(apperr.InferenceFailure, cause, "transcription engine is missing required shared libraries")
	case strings.Contains(text, "illegal instruction") || strings.Contains(strings.ToLower(err.Error()), "illegal instruction"):
		return apperr.Wrap(apperr.InferenceFailure, cause, "transcription engine is not built for this CPU")
	case containsAny(text, "failed to read", "failed to open", "invalid wav"):
		return apperr.Wrap(apperr.DecodeFailure, cause, "audio could not be read by the transcription engine")
	default:
		return apperr.Wrap(apperr.InferenceFailure, cause, "transcription failed")
	}
}

func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func engineBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
}
