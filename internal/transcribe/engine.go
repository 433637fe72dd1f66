package transcribe

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/apperr"
	"github.com/snarg/scribe/internal/whisper"
)

// Output is the result of one engine run.
type Output struct {
	Text           string
	ElapsedSeconds float64
	AudioDuration  float64 // seconds of decoded audio
	Provider       string
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Decoder     *Decoder
	Provider    Provider
	Threads     int
	Temperature float64
	TempDir     string // "" = os.TempDir()
	Log         zerolog.Logger
}

// Engine decodes audio and runs it through a provider. It is not safe for
// concurrent use; callers serialize access through the job gate.
type Engine struct {
	decoder  *Decoder
	provider Provider
	opts     EngineOptions
	log      zerolog.Logger
}

// NewEngine creates an engine over a decoder and provider.
func NewEngine(opts EngineOptions) *Engine {
	return &Engine{
		decoder:  opts.Decoder,
		provider: opts.Provider,
		opts:     opts,
		log:      opts.Log.With().Str("component", "engine").Logger(),
	}
}

// Transcribe decodes audioPath and transcribes it with the model behind h.
// There is no deadline on inference beyond ctx.
func (e *Engine) Transcribe(ctx context.Context, h *whisper.Handle, audioPath, language string) (*Output, error) {
	start := time.Now()

	work, err := os.MkdirTemp(e.opts.TempDir, "scribe-job-*")
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to create working directory")
	}
	defer os.RemoveAll(work)

	wavPath, duration, err := e.decoder.Decode(ctx, audioPath, work)
	if err != nil {
		return nil, err
	}

	resp, err := e.provider.Transcribe(ctx, h, wavPath, TranscribeOpts{
		Language:    language,
		Temperature: e.opts.Temperature,
		Threads:     e.opts.Threads,
	})
	if err != nil {
		return nil, err
	}
	if resp.Duration > 0 {
		duration = resp.Duration
	}

	out := &Output{
		Text:           strings.TrimSpace(resp.Text),
		ElapsedSeconds: time.Since(start).Seconds(),
		AudioDuration:  duration,
		Provider:       e.provider.Name(),
	}
	e.log.Debug().
		Str("model", h.Model).
		Str("language", language).
		Float64("audio_seconds", out.AudioDuration).
		Float64("elapsed_seconds", out.ElapsedSeconds).
		Msg("inference complete")
	return out, nil
}

// Check reports whether the engine can run jobs.
func (e *Engine) Check() error { return e.decoder.Check() }

// ProviderName returns the backend name.
func (e *Engine) ProviderName() string { return e.provider.Name() }
