package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/apperr"
	"github.com/snarg/scribe/internal/jobs"
)

// Submitter runs a transcription job.
type Submitter interface {
	Submit(ctx context.Context, req jobs.Request) (*jobs.Result, error)
}

// TranscribeResponse is returned for a completed job.
type TranscribeResponse struct {
	JobID                 string  `json:"job_id"`
	Text                  string  `json:"text"`
	Artifact              string  `json:"artifact"`
	DownloadURL           string  `json:"download_url"`
	ModelSize             string  `json:"model_size"`
	Language              string  `json:"language"`
	GenerationTimeSeconds float64 `json:"generation_time_seconds"`
	AudioDurationSeconds  float64 `json:"audio_duration_seconds,omitempty"`
}

// TranscribeHandler accepts audio uploads or URLs and runs them synchronously.
type TranscribeHandler struct {
	jobs       Submitter
	maxBytes   int64
	retryAfter int
	log        zerolog.Logger
}

// NewTranscribeHandler creates a handler. maxBytes bounds the request body;
// retryAfter is the Retry-After hint in seconds for busy responses.
func NewTranscribeHandler(jobs Submitter, maxBytes int64, retryAfter int, log zerolog.Logger) *TranscribeHandler {
	return &TranscribeHandler{
		jobs:       jobs,
		maxBytes:   maxBytes,
		retryAfter: retryAfter,
		log:        log.With().Str("handler", "transcribe").Logger(),
	}
}

// Routes registers the transcription endpoint.
func (h *TranscribeHandler) Routes(r chi.Router) {
	r.Post("/transcribe", h.Transcribe)
}

// Transcribe handles POST /transcribe.
// Form fields: audio_url or audio_file, model_size, lang (or language).
// A non-empty audio_url takes priority over an uploaded file.
func (h *TranscribeHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		// Leave headroom for the other form fields and multipart framing.
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		switch {
		case errors.As(err, &mbe):
			WriteErrorWithCode(w, http.StatusRequestEntityTooLarge, ErrTooLarge, "request body too large")
			return
		case errors.Is(err, http.ErrNotMultipart):
			if err := r.ParseForm(); err != nil {
				WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid form body")
				return
			}
		default:
			WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid multipart form")
			return
		}
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	req := jobs.Request{
		ModelSize: r.FormValue("model_size"),
		Language:  r.FormValue("lang"),
		URL:       strings.TrimSpace(r.FormValue("audio_url")),
	}
	if req.Language == "" {
		req.Language = r.FormValue("language")
	}

	if req.URL == "" {
		file, header, err := r.FormFile("audio_file")
		switch {
		case err == nil:
			defer file.Close()
			if header.Filename != "" {
				req.Body = file
				req.Filename = header.Filename
			}
		case !errors.Is(err, http.ErrMissingFile):
			WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "failed to read audio_file")
			return
		}
	}

	res, err := h.jobs.Submit(r.Context(), req)
	if err != nil {
		if apperr.Is(err, apperr.EngineBusy) {
			w.Header().Set("Retry-After", strconv.Itoa(h.retryAfter))
		}
		WriteAppError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, TranscribeResponse{
		JobID:                 res.JobID,
		Text:                  res.Record.Text,
		Artifact:              res.Artifact,
		DownloadURL:           "/outputs/" + res.Artifact,
		ModelSize:             res.Record.ModelSize,
		Language:              res.Record.Language,
		GenerationTimeSeconds: res.Record.GenerationTimeSeconds,
		AudioDurationSeconds:  res.Record.AudioDurationSeconds,
	})
}
