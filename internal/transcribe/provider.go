package transcribe

import (
	"context"

	"github.com/snarg/scribe/internal/whisper"
)

// Provider is the interface for speech-to-text backends. wavPath always
// points at 16 kHz mono PCM produced by the Decoder.
type Provider interface {
	Transcribe(ctx context.Context, h *whisper.Handle, wavPath string, opts TranscribeOpts) (*Response, error)
	Name() string // "whisper.cpp", "whisper-http"
}

// TranscribeOpts are per-request options passed to a provider.
type TranscribeOpts struct {
	Language    string
	Temperature float64
	Threads     int // 0 = engine default
}

// Response is the common transcription result from any provider.
type Response struct {
	Text     string
	Language string
	Duration float64 // audio duration in seconds, 0 if the provider doesn't report it
}
