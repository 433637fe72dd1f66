package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/snarg/scribe/internal/apperr"
	"github.com/snarg/scribe/internal/whisper"
)

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions endpoint.
type WhisperClient struct {
	url    string
	client *http.Client
}

// WhisperResponse is the parsed response from the Whisper API (json or verbose_json).
type WhisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

// NewWhisperClient creates a new Whisper HTTP client.
func NewWhisperClient(url string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (wc *WhisperClient) Name() string { return "whisper-http" }

// Transcribe uploads the decoded audio as multipart/form-data. The handle's
// model id selects the remote model.
func (wc *WhisperClient) Transcribe(ctx context.Context, h *whisper.Handle, wavPath string, opts TranscribeOpts) (*Response, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.DecodeFailure, err, "decoded audio is not readable")
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(wavPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	if h != nil && h.Model != "" {
		w.WriteField("model", h.Model)
	}
	if opts.Language != "" {
		w.WriteField("language", opts.Language)
	}
	w.WriteField("temperature", fmt.Sprintf("%.2f", opts.Temperature))
	w.WriteField("response_format", "verbose_json")
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := wc.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.InferenceFailure, err, "transcription engine is unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.InferenceFailure, err, "transcription engine response was truncated")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Wrap(apperr.InferenceFailure,
			fmt.Errorf("whisper API error (status %d): %s", resp.StatusCode, string(body)),
			"transcription failed")
	}

	var result WhisperResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, apperr.Wrap(apperr.InferenceFailure, err, "transcription engine returned an invalid response")
	}

	return &Response{Text: result.Text, Language: result.Language, Duration: result.Duration}, nil
}
