package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/config"
	"github.com/snarg/scribe/internal/metrics"
	"github.com/snarg/scribe/internal/whisper"
)

// ArtifactSource reads and lists stored artifacts.
type ArtifactSource interface {
	ArtifactReader
	ArtifactLister
}

// BusyGate reports engine load and the back-off hint for busy responses.
type BusyGate interface {
	GateStatus
	RetryAfter() int
}

// ServerOptions wires the HTTP surface. Optional dependencies are left nil
// when not configured.
type ServerOptions struct {
	Config    *config.Config
	Jobs      Submitter
	Archive   ArtifactSource
	Catalog   TranscriptionLister // nil = list from the archive
	Models    ModelSource
	Installed func(whisper.Size) bool
	Engine    EngineStatus
	Gate      BusyGate
	DB        HealthChecker
	MQTT      ConnStatus
	Backend   string
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	log := opts.Log

	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer)
	r.Use(metrics.InstrumentHandler)

	// Health and metrics: no auth
	health := NewHealthHandler(opts.Engine, opts.Gate, opts.DB, opts.MQTT, opts.Backend, opts.Version, opts.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	defaultSize := whisper.Size(cfg.DefaultModelSize)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.Password))

		NewTranscribeHandler(opts.Jobs, cfg.MaxUploadBytes(), opts.Gate.RetryAfter(), log).Routes(r)
		NewOutputsHandler(opts.Archive, log).Routes(r)

		r.Route("/api/v1", func(r chi.Router) {
			NewTranscriptionsHandler(opts.Catalog, opts.Archive).Routes(r)
			NewModelsHandler(opts.Models, defaultSize, cfg.DefaultLanguage, opts.Installed).Routes(r)
		})
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

// Handler returns the root router.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
