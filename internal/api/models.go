package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/snarg/scribe/internal/whisper"
)

// ModelSource describes the model registry.
type ModelSource interface {
	Resident() []*whisper.Handle
	Policy() whisper.Policy
	Device() whisper.Device
}

type residentModel struct {
	Size     whisper.Size `json:"size"`
	Model    string       `json:"model"`
	LoadedAt time.Time    `json:"loaded_at"`
}

// ModelsResponse is returned by GET /api/v1/models.
type ModelsResponse struct {
	Sizes           []whisper.Size        `json:"sizes"`
	DefaultSize     whisper.Size          `json:"default_size"`
	Languages       []string              `json:"languages"`
	DefaultLanguage string                `json:"default_language"`
	Device          whisper.Device        `json:"device"`
	Policy          whisper.Policy        `json:"policy"`
	Resident        []residentModel       `json:"resident"`
	Installed       map[whisper.Size]bool `json:"installed,omitempty"`
}

// ModelsHandler reports available and resident models.
type ModelsHandler struct {
	registry    ModelSource
	defaultSize whisper.Size
	defaultLang string
	installed   func(whisper.Size) bool // nil for remote backends
}

func NewModelsHandler(registry ModelSource, defaultSize whisper.Size, defaultLang string, installed func(whisper.Size) bool) *ModelsHandler {
	return &ModelsHandler{
		registry:    registry,
		defaultSize: defaultSize,
		defaultLang: defaultLang,
		installed:   installed,
	}
}

// Routes registers the models endpoint under /api/v1.
func (h *ModelsHandler) Routes(r chi.Router) {
	r.Get("/models", h.List)
}

// List handles GET /api/v1/models.
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	resp := ModelsResponse{
		Sizes:           whisper.Sizes,
		DefaultSize:     h.defaultSize,
		Languages:       whisper.Languages,
		DefaultLanguage: h.defaultLang,
		Device:          h.registry.Device(),
		Policy:          h.registry.Policy(),
		Resident:        []residentModel{},
	}
	for _, m := range h.registry.Resident() {
		resp.Resident = append(resp.Resident, residentModel{Size: m.Size, Model: m.Model, LoadedAt: m.LoadedAt})
	}
	if h.installed != nil {
		resp.Installed = make(map[whisper.Size]bool, len(whisper.Sizes))
		for _, s := range whisper.Sizes {
			resp.Installed[s] = h.installed(s)
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}
