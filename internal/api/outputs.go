package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/storage"
)

// ArtifactReader opens stored artifacts by name.
type ArtifactReader interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// OutputsHandler serves transcription artifacts as downloads.
type OutputsHandler struct {
	archive ArtifactReader
	log     zerolog.Logger
}

func NewOutputsHandler(archive ArtifactReader, log zerolog.Logger) *OutputsHandler {
	return &OutputsHandler{archive: archive, log: log.With().Str("handler", "outputs").Logger()}
}

// Routes registers the download endpoint.
func (h *OutputsHandler) Routes(r chi.Router) {
	r.Get("/outputs/{name}", h.Download)
}

// Download handles GET /outputs/{name}.
func (h *OutputsHandler) Download(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rc, err := h.archive.Open(r.Context(), name)
	if err != nil {
		WriteAppError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", storage.ContentType(name))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.log.Warn().Err(err).Str("artifact", name).Msg("artifact download interrupted")
	}
}
