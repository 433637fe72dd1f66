package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/api"
	"github.com/snarg/scribe/internal/audio"
	"github.com/snarg/scribe/internal/config"
	"github.com/snarg/scribe/internal/database"
	"github.com/snarg/scribe/internal/jobs"
	"github.com/snarg/scribe/internal/metrics"
	"github.com/snarg/scribe/internal/mqttclient"
	"github.com/snarg/scribe/internal/storage"
	"github.com/snarg/scribe/internal/transcribe"
	"github.com/snarg/scribe/internal/whisper"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func addServeFlags(f *pflag.FlagSet, o *config.Overrides) {
	f.StringVar(&o.HTTPAddr, "listen", "", "HTTP listen address (default :5000)")
	f.StringVar(&o.UploadDir, "upload-dir", "", "Directory for staged audio")
	f.StringVar(&o.ResultsDir, "results-dir", "", "Directory for local transcription artifacts")
	f.StringVar(&o.ModelPolicy, "model-policy", "", "Model residency policy (multi, single)")
	f.StringVar(&o.AdmissionPolicy, "admission", "", "Busy engine policy (reject, wait)")
	f.StringVar(&o.FFmpegPath, "ffmpeg", "", "Path to the ffmpeg executable")
}

func newServeCommand(overrides *config.Overrides) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transcription HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, *overrides)
		},
	}
	addServeFlags(cmd.Flags(), overrides)
	return cmd
}

func runServe(cmd *cobra.Command, overrides config.Overrides) error {
	startTime := time.Now()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Error().Err(err).Msg("failed to load config")
		return err
	}

	// Logger
	log := newLogger(cfg.LogLevel)
	log.Info().Str("version", version).Msg("scribe starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Device is chosen once for the process lifetime
	device, err := whisper.DetectDevice(cfg.Device)
	if err != nil {
		return err
	}
	log.Info().Str("device", string(device)).Msg("inference device selected")

	// Model registry and engine
	policy, err := whisper.ParsePolicy(cfg.ModelPolicy)
	if err != nil {
		return err
	}
	modelLog := log.With().Str("component", "models").Logger()

	var (
		loader    whisper.Loader
		provider  transcribe.Provider
		installed func(whisper.Size) bool
	)
	switch cfg.EngineBackend {
	case "http":
		loader = &whisper.RemoteLoader{}
		provider = transcribe.NewWhisperClient(cfg.WhisperURL, cfg.WhisperTimeout)
	default:
		fl := &whisper.FileLoader{Dir: cfg.ModelDir, AutoDownload: cfg.ModelAutoDownload, Log: modelLog}
		loader = fl
		installed = fl.Installed
		cli, err := transcribe.NewCLIProvider(cfg.WhisperCLIPath, log)
		if err != nil {
			return err
		}
		provider = cli
	}

	registry := whisper.NewRegistry(loader, policy, device, log)
	registry.OnLoad = func(size whisper.Size, d time.Duration) {
		metrics.ModelLoadsTotal.WithLabelValues(string(size), string(device)).Inc()
		metrics.ModelLoadDuration.Observe(d.Seconds())
	}

	decoder := transcribe.NewDecoder(cfg.FFmpegPath)
	if err := decoder.Check(); err != nil {
		// Not fatal: jobs fail with a decode error and /health reports it.
		log.Error().Err(err).Msg("audio decoder unavailable")
	} else {
		log.Info().Str("path", decoder.Path()).Msg("audio decoder pinned")
	}
	engine := transcribe.NewEngine(transcribe.EngineOptions{
		Decoder:  decoder,
		Provider: provider,
		Threads:  cfg.WhisperThreads,
		Log:      log,
	})

	// Ingestion
	ingestor, err := audio.NewIngestor(audio.IngestorOptions{
		Dir:          cfg.UploadDir,
		MaxBytes:     cfg.MaxUploadBytes(),
		FetchTimeout: cfg.FetchTimeout,
		Log:          log,
	})
	if err != nil {
		return err
	}

	// Artifact storage
	storeLog := log.With().Str("component", "storage").Logger()
	store, err := storage.New(cfg.S3, cfg.ResultsDir, storeLog)
	if err != nil {
		return err
	}
	archive := storage.NewArchive(store, cfg.ResultFormat, log)

	// Optional catalog
	var (
		db      *database.DB
		catalog jobs.Catalog
		lister  api.TranscriptionLister
		dbCheck api.HealthChecker
	)
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err = database.Connect(ctx, cfg.DatabaseURL, dbLog)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.InitSchema(ctx); err != nil {
			return err
		}
		catalog, lister, dbCheck = db, db, db
	}

	// Optional completion events
	var (
		publisher jobs.Publisher
		mqttConn  api.ConnStatus
	)
	if cfg.MQTTBrokerURL != "" {
		mqttLog := log.With().Str("component", "mqtt").Logger()
		mc, err := mqttclient.Connect(mqttclient.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topic:     cfg.MQTTTopic,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       mqttLog,
		})
		if err != nil {
			return err
		}
		defer mc.Close()
		publisher, mqttConn = mc, mc
	}

	// Admission and job runner
	admission, err := jobs.ParseAdmissionPolicy(cfg.AdmissionPolicy)
	if err != nil {
		return err
	}
	gate := jobs.NewGate(admission, cfg.BusyCooldown)
	runner := jobs.NewRunner(jobs.RunnerOptions{
		Ingestor:        ingestor,
		Gate:            gate,
		Models:          registry,
		Engine:          engine,
		Archive:         archive,
		Catalog:         catalog,
		Publisher:       publisher,
		DefaultSize:     whisper.Size(cfg.DefaultModelSize),
		DefaultLanguage: cfg.DefaultLanguage,
		Backend:         engine.ProviderName(),
		Log:             log,
	})

	var pool *pgxpool.Pool
	if db != nil {
		pool = db.Pool
	}
	prometheus.MustRegister(metrics.NewCollector(pool, runner))

	// Upload retention
	var pruner storage.BackgroundService = storage.NewUploadPruner(cfg.UploadDir, cfg.UploadRetention, log)
	pruner.Start()
	defer pruner.Stop()

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(api.ServerOptions{
		Config:    cfg,
		Jobs:      runner,
		Archive:   archive,
		Catalog:   lister,
		Models:    registry,
		Installed: installed,
		Engine:    engine,
		Gate:      gate,
		DB:        dbCheck,
		MQTT:      mqttConn,
		Backend:   archive.Backend(),
		Version:   version,
		StartTime: startTime,
		Log:       httpLog,
	})

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error().Err(serveErr).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("scribe stopped")
	return serveErr
}
