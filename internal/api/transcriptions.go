package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/snarg/scribe/internal/database"
	"github.com/snarg/scribe/internal/storage"
)

// TranscriptionLister queries the catalog.
type TranscriptionLister interface {
	ListTranscriptions(ctx context.Context, filter database.TranscriptionFilter) ([]database.TranscriptionAPI, error)
}

// ArtifactLister lists stored artifacts.
type ArtifactLister interface {
	List(ctx context.Context) ([]storage.Artifact, error)
}

// TranscriptionsHandler lists recent jobs from the catalog when one is
// configured, otherwise from the artifact archive.
type TranscriptionsHandler struct {
	catalog TranscriptionLister // nil = archive listing
	archive ArtifactLister
}

func NewTranscriptionsHandler(catalog TranscriptionLister, archive ArtifactLister) *TranscriptionsHandler {
	return &TranscriptionsHandler{catalog: catalog, archive: archive}
}

// Routes registers the listing endpoint under /api/v1.
func (h *TranscriptionsHandler) Routes(r chi.Router) {
	r.Get("/transcriptions", h.List)
}

// List handles GET /api/v1/transcriptions?limit=&model_size=&language=.
func (h *TranscriptionsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, ok := QueryInt(r, "limit")
	if !ok {
		limit = 50
	}
	if limit < 1 {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, "limit must be >= 1")
		return
	}

	if h.catalog != nil {
		filter := database.TranscriptionFilter{Limit: limit}
		filter.ModelSize, _ = QueryString(r, "model_size")
		filter.Language, _ = QueryString(r, "language")
		items, err := h.catalog.ListTranscriptions(r.Context(), filter)
		if err != nil {
			WriteAppError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"source":         "catalog",
			"transcriptions": items,
			"total":          len(items),
		})
		return
	}

	items, err := h.archive.List(r.Context())
	if err != nil {
		WriteAppError(w, r, err)
		return
	}
	if len(items) > limit {
		items = items[:limit]
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"source":    "archive",
		"artifacts": items,
		"total":     len(items),
	})
}
