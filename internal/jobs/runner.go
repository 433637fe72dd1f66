package jobs

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/apperr"
	"github.com/snarg/scribe/internal/audio"
	"github.com/snarg/scribe/internal/database"
	"github.com/snarg/scribe/internal/metrics"
	"github.com/snarg/scribe/internal/storage"
	"github.com/snarg/scribe/internal/transcribe"
	"github.com/snarg/scribe/internal/whisper"
)

const sideEffectTimeout = 5 * time.Second

// Ingestor stages audio on local disk.
type Ingestor interface {
	FromUpload(ctx context.Context, filename string, r io.Reader) (*audio.Ingested, error)
	FromURL(ctx context.Context, rawURL string) (*audio.Ingested, error)
}

// Models resolves model handles.
type Models interface {
	Get(ctx context.Context, size whisper.Size) (*whisper.Handle, error)
	Resident() []*whisper.Handle
}

// Engine runs inference on a staged file.
type Engine interface {
	Transcribe(ctx context.Context, h *whisper.Handle, audioPath, language string) (*transcribe.Output, error)
}

// Archive persists results.
type Archive interface {
	Save(ctx context.Context, res *storage.TranscriptionResult) (string, error)
}

// Catalog records completed jobs. Optional.
type Catalog interface {
	InsertTranscription(ctx context.Context, row *database.TranscriptionRow) (int64, error)
}

// Publisher emits completion events. Optional.
type Publisher interface {
	Publish(ctx context.Context, v any) error
}

// Request is one transcription submission. Exactly one of Body or URL is set.
type Request struct {
	Filename  string
	Body      io.Reader
	URL       string
	ModelSize string
	Language  string
}

// Result is a completed job.
type Result struct {
	JobID    string
	Artifact string
	Record   *storage.TranscriptionResult
}

// CompletionEvent is published after a job's artifact is persisted.
type CompletionEvent struct {
	JobID                 string    `json:"job_id"`
	Artifact              string    `json:"artifact"`
	ModelSize             string    `json:"model_size"`
	Language              string    `json:"language"`
	GenerationTimeSeconds float64   `json:"generation_time_seconds"`
	AudioDurationSeconds  float64   `json:"audio_duration_seconds,omitempty"`
	TextLength            int       `json:"text_length"`
	Timestamp             time.Time `json:"timestamp"`
}

// RunnerOptions wires a Runner.
type RunnerOptions struct {
	Ingestor        Ingestor
	Gate            *Gate
	Models          Models
	Engine          Engine
	Archive         Archive
	Catalog         Catalog   // nil = disabled
	Publisher       Publisher // nil = disabled
	DefaultSize     whisper.Size
	DefaultLanguage string
	Backend         string
	Log             zerolog.Logger
}

// Runner drives a request through ingestion, admission, inference and
// persistence.
type Runner struct {
	opts RunnerOptions
	log  zerolog.Logger
}

// NewRunner creates a Runner. Busy rejections are counted in metrics.
func NewRunner(opts RunnerOptions) *Runner {
	if opts.Gate == nil {
		opts.Gate = NewGate(Reject, 0)
	}
	prev := opts.Gate.OnReject
	opts.Gate.OnReject = func() {
		metrics.BusyRejectionsTotal.Inc()
		if prev != nil {
			prev()
		}
	}
	return &Runner{
		opts: opts,
		log:  opts.Log.With().Str("component", "jobs").Logger(),
	}
}

// Submit runs req to completion. Validation and ingestion errors are
// returned before the engine gate is touched.
func (r *Runner) Submit(ctx context.Context, req Request) (*Result, error) {
	jobID := uuid.NewString()
	log := r.log.With().Str("job_id", jobID).Logger()

	res, err := r.run(ctx, jobID, log, req)

	outcome := "ok"
	if err != nil {
		kind := apperr.KindOf(err)
		outcome = string(kind)
		ev := log.Warn()
		if kind == apperr.Internal || kind == apperr.InferenceFailure {
			ev = log.Error()
		}
		ev.Err(err).Str("kind", string(kind)).Msg("job failed")
	}
	metrics.JobsTotal.WithLabelValues(outcome).Inc()
	return res, err
}

func (r *Runner) run(ctx context.Context, jobID string, log zerolog.Logger, req Request) (*Result, error) {
	size, err := whisper.ParseSize(req.ModelSize, r.opts.DefaultSize)
	if err != nil {
		return nil, err
	}
	lang, err := whisper.ParseLanguage(req.Language, r.opts.DefaultLanguage)
	if err != nil {
		return nil, err
	}

	in, err := r.ingest(ctx, req)
	if err != nil {
		return nil, err
	}
	log = log.With().Str("file", in.OriginalFilename).Str("size", string(size)).Str("lang", lang).Logger()
	log.Info().Int64("bytes", in.Size).Msg("audio staged")

	var (
		record   *storage.TranscriptionResult
		artifact string
	)
	// Admission follows the caller's ctx. Once admitted the job runs to
	// completion or failure even if the caller goes away.
	err = r.opts.Gate.Do(ctx, func(admitted context.Context) error {
		ctx := context.WithoutCancel(admitted)
		h, err := r.opts.Models.Get(ctx, size)
		if err != nil {
			return err
		}
		out, err := r.opts.Engine.Transcribe(ctx, h, in.Path, lang)
		if err != nil {
			return err
		}
		metrics.InferenceDuration.WithLabelValues(string(size)).Observe(out.ElapsedSeconds)
		metrics.AudioSecondsTotal.Add(out.AudioDuration)

		record = &storage.TranscriptionResult{
			Text:                  out.Text,
			GenerationTimeSeconds: out.ElapsedSeconds,
			ModelSize:             string(size),
			Language:              lang,
			AudioDurationSeconds:  out.AudioDuration,
			SourceFilename:        in.OriginalFilename,
			Device:                string(h.Device),
			Backend:               r.opts.Backend,
			JobID:                 jobID,
		}
		artifact, err = r.opts.Archive.Save(ctx, record)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("artifact", artifact).
		Float64("generation_s", record.GenerationTimeSeconds).
		Float64("audio_s", record.AudioDurationSeconds).
		Msg("job complete")

	r.record(ctx, log, artifact, record)
	return &Result{JobID: jobID, Artifact: artifact, Record: record}, nil
}

func (r *Runner) ingest(ctx context.Context, req Request) (*audio.Ingested, error) {
	switch {
	case req.Body != nil && req.URL != "":
		return nil, apperr.New(apperr.InvalidArgument, "provide either an audio file or an audio URL, not both")
	case req.Body != nil:
		return r.opts.Ingestor.FromUpload(ctx, req.Filename, req.Body)
	case req.URL != "":
		return r.opts.Ingestor.FromURL(ctx, req.URL)
	}
	return nil, apperr.New(apperr.InvalidArgument, "no audio file or audio URL provided")
}

// record writes the catalog row and completion event. Failures are logged
// and never fail the job.
func (r *Runner) record(ctx context.Context, log zerolog.Logger, artifact string, rec *storage.TranscriptionResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if r.opts.Catalog != nil {
		dur := float32(rec.AudioDurationSeconds)
		_, err := r.opts.Catalog.InsertTranscription(ctx, &database.TranscriptionRow{
			JobID:          rec.JobID,
			Artifact:       artifact,
			Text:           rec.Text,
			ModelSize:      rec.ModelSize,
			Language:       rec.Language,
			Device:         rec.Device,
			SourceFilename: rec.SourceFilename,
			GenerationMs:   int(rec.GenerationTimeSeconds * 1000),
			AudioDuration:  &dur,
		})
		if err != nil {
			log.Warn().Err(err).Msg("catalog insert failed")
		}
	}

	if r.opts.Publisher != nil {
		err := r.opts.Publisher.Publish(ctx, CompletionEvent{
			JobID:                 rec.JobID,
			Artifact:              artifact,
			ModelSize:             rec.ModelSize,
			Language:              rec.Language,
			GenerationTimeSeconds: rec.GenerationTimeSeconds,
			AudioDurationSeconds:  rec.AudioDurationSeconds,
			TextLength:            len(rec.Text),
			Timestamp:             rec.Timestamp,
		})
		result := "ok"
		if err != nil {
			result = "error"
			log.Warn().Err(err).Msg("completion event publish failed")
		}
		metrics.EventsPublishedTotal.WithLabelValues(result).Inc()
	}
}

// InFlight reports jobs currently holding the engine gate.
func (r *Runner) InFlight() int { return r.opts.Gate.InFlight() }

// ResidentModels reports how many model handles are loaded.
func (r *Runner) ResidentModels() int { return len(r.opts.Models.Resident()) }

// Gate returns the engine gate.
func (r *Runner) Gate() *Gate { return r.opts.Gate }
