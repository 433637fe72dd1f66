package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/apperr"
	"github.com/snarg/scribe/internal/config"
	"github.com/snarg/scribe/internal/database"
	"github.com/snarg/scribe/internal/jobs"
	"github.com/snarg/scribe/internal/storage"
	"github.com/snarg/scribe/internal/whisper"
)

// ── Fakes ────────────────────────────────────────────────────────────

type fakeSubmitter struct {
	mu   sync.Mutex
	got  jobs.Request
	body []byte
	res  *jobs.Result
	err  error
}

func (f *fakeSubmitter) Submit(ctx context.Context, req jobs.Request) (*jobs.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = req
	if req.Body != nil {
		f.body, _ = io.ReadAll(req.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func okResult() *jobs.Result {
	return &jobs.Result{
		JobID:    "job-1",
		Artifact: "transcription_2024-03-09_14-05-07.json",
		Record: &storage.TranscriptionResult{
			Text:                  "bonjour tout le monde",
			GenerationTimeSeconds: 1.5,
			ModelSize:             "tiny",
			Language:              "fr",
		},
	}
}

type fakeModels struct {
	resident []*whisper.Handle
}

func (f *fakeModels) Resident() []*whisper.Handle { return f.resident }
func (f *fakeModels) Policy() whisper.Policy      { return whisper.SingleResident }
func (f *fakeModels) Device() whisper.Device      { return whisper.CPU }

type fakeCatalog struct {
	filter database.TranscriptionFilter
	items  []database.TranscriptionAPI
	err    error
}

func (f *fakeCatalog) ListTranscriptions(ctx context.Context, filter database.TranscriptionFilter) ([]database.TranscriptionAPI, error) {
	f.filter = filter
	return f.items, f.err
}

type fakeEngine struct{ err error }

func (f fakeEngine) Check() error { return f.err }

type fakeGate struct{ n int }

func (f fakeGate) InFlight() int   { return f.n }
func (f fakeGate) RetryAfter() int { return 3 }

type fakeDB struct{ err error }

func (f fakeDB) HealthCheck(ctx context.Context) error { return f.err }

type fakeMQTT struct{ connected bool }

func (f fakeMQTT) IsConnected() bool { return f.connected }

// ── Helpers ──────────────────────────────────────────────────────────

// buildMultipartForm encodes fields plus an optional audio_file part.
func buildMultipartForm(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("audio_file", filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(content)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func newTestArchive(t *testing.T) (*storage.Archive, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "results")
	store, err := storage.NewLocalStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	return storage.NewArchive(store, "json", zerolog.Nop()), dir
}

func serve(h func(chi.Router), req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v (%s)", err, rec.Body.String())
	}
	return body
}

// ── Transcribe ───────────────────────────────────────────────────────

func TestTranscribeUpload(t *testing.T) {
	sub := &fakeSubmitter{res: okResult()}
	h := NewTranscribeHandler(sub, 10<<20, 3, zerolog.Nop())

	body, ct := buildMultipartForm(t, map[string]string{"model_size": "tiny", "language": "en"}, "talk.mp3", []byte("ID3 audio bytes"))
	req := httptest.NewRequest("POST", "/transcribe", body)
	req.Header.Set("Content-Type", ct)
	rec := serve(h.Routes, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if sub.got.Filename != "talk.mp3" || sub.got.URL != "" {
		t.Errorf("request = %+v", sub.got)
	}
	if string(sub.body) != "ID3 audio bytes" {
		t.Errorf("uploaded body = %q", sub.body)
	}
	if sub.got.ModelSize != "tiny" || sub.got.Language != "en" {
		t.Errorf("size/lang = %q/%q", sub.got.ModelSize, sub.got.Language)
	}

	var resp TranscribeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Text != "bonjour tout le monde" || resp.JobID != "job-1" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.DownloadURL != "/outputs/transcription_2024-03-09_14-05-07.json" {
		t.Errorf("download_url = %q", resp.DownloadURL)
	}
}

func TestTranscribeLangTakesPriority(t *testing.T) {
	sub := &fakeSubmitter{res: okResult()}
	h := NewTranscribeHandler(sub, 10<<20, 3, zerolog.Nop())

	body, ct := buildMultipartForm(t, map[string]string{"lang": "fr", "language": "en"}, "a.wav", []byte("x"))
	req := httptest.NewRequest("POST", "/transcribe", body)
	req.Header.Set("Content-Type", ct)
	serve(h.Routes, req)

	if sub.got.Language != "fr" {
		t.Errorf("Language = %q, want fr", sub.got.Language)
	}
}

func TestTranscribeURLTakesPriority(t *testing.T) {
	sub := &fakeSubmitter{res: okResult()}
	h := NewTranscribeHandler(sub, 10<<20, 3, zerolog.Nop())

	body, ct := buildMultipartForm(t, map[string]string{"audio_url": " https://example.com/a.mp3 "}, "local.wav", []byte("x"))
	req := httptest.NewRequest("POST", "/transcribe", body)
	req.Header.Set("Content-Type", ct)
	rec := serve(h.Routes, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if sub.got.URL != "https://example.com/a.mp3" {
		t.Errorf("URL = %q", sub.got.URL)
	}
	if sub.got.Body != nil {
		t.Error("uploaded file should be ignored when audio_url is set")
	}
}

func TestTranscribeURLEncodedForm(t *testing.T) {
	sub := &fakeSubmitter{res: okResult()}
	h := NewTranscribeHandler(sub, 10<<20, 3, zerolog.Nop())

	form := url.Values{"audio_url": {"https://example.com/b.ogg"}, "model_size": {"base"}}
	req := httptest.NewRequest("POST", "/transcribe", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := serve(h.Routes, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if sub.got.URL != "https://example.com/b.ogg" || sub.got.ModelSize != "base" {
		t.Errorf("request = %+v", sub.got)
	}
}

func TestTranscribeEmptyFilenameIgnored(t *testing.T) {
	sub := &fakeSubmitter{err: apperr.New(apperr.InvalidArgument, "no audio file or audio URL provided")}
	h := NewTranscribeHandler(sub, 10<<20, 3, zerolog.Nop())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("audio_file", "")
	fw.Write([]byte("stray"))
	mw.Close()
	req := httptest.NewRequest("POST", "/transcribe", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := serve(h.Routes, req)

	if sub.got.Body != nil {
		t.Error("a part without a filename must not be treated as an upload")
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestTranscribeErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		retryAfter string
	}{
		{"busy", apperr.New(apperr.EngineBusy, "engine is busy"), http.StatusTooManyRequests, "engine_busy", "3"},
		{"unsupported", apperr.New(apperr.UnsupportedFormat, "unsupported file format %q", "exe"), http.StatusBadRequest, "unsupported_format", ""},
		{"source", apperr.Wrap(apperr.SourceUnavailable, errors.New("dial tcp: refused"), "audio URL could not be fetched"), http.StatusBadGateway, "source_unavailable", ""},
		{"decode", apperr.Wrap(apperr.DecodeFailure, errors.New("/opt/ffmpeg: exit 1"), "audio could not be decoded"), http.StatusUnprocessableEntity, "decode_failure", ""},
		{"inference", apperr.Wrap(apperr.InferenceFailure, errors.New("CUDA OOM"), "transcription failed"), http.StatusInternalServerError, "inference_failure", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{err: tt.err}
			h := NewTranscribeHandler(sub, 10<<20, 3, zerolog.Nop())
			body, ct := buildMultipartForm(t, nil, "a.mp3", []byte("x"))
			req := httptest.NewRequest("POST", "/transcribe", body)
			req.Header.Set("Content-Type", ct)
			rec := serve(h.Routes, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.retryAfter {
				t.Errorf("Retry-After = %q, want %q", got, tt.retryAfter)
			}
			resp := decodeError(t, rec)
			if resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
			for _, leak := range []string{"dial tcp", "/opt/ffmpeg", "CUDA"} {
				if strings.Contains(resp.Error, leak) {
					t.Errorf("error message leaks %q: %q", leak, resp.Error)
				}
			}
		})
	}
}

// ── Outputs ──────────────────────────────────────────────────────────

func TestOutputsDownload(t *testing.T) {
	archive, _ := newTestArchive(t)
	name, err := archive.Save(context.Background(), &storage.TranscriptionResult{Text: "salut"})
	if err != nil {
		t.Fatal(err)
	}
	h := NewOutputsHandler(archive, zerolog.Nop())

	rec := serve(h.Routes, httptest.NewRequest("GET", "/outputs/"+name, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment;") || !strings.Contains(cd, name) {
		t.Errorf("Content-Disposition = %q", cd)
	}
	var got storage.TranscriptionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil || got.Text != "salut" {
		t.Errorf("body = %s (%v)", rec.Body.String(), err)
	}
}

func TestOutputsNotFound(t *testing.T) {
	archive, _ := newTestArchive(t)
	h := NewOutputsHandler(archive, zerolog.Nop())

	for _, name := range []string{"transcription_2020-01-01_00-00-00.json", "notes.txt"} {
		rec := serve(h.Routes, httptest.NewRequest("GET", "/outputs/"+name, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", name, rec.Code)
		}
	}
}

func TestOutputsRejectsTraversal(t *testing.T) {
	archive, dir := newTestArchive(t)
	os.WriteFile(filepath.Join(filepath.Dir(dir), "secret.json"), []byte(`{"secret":true}`), 0o644)
	h := NewOutputsHandler(archive, zerolog.Nop())

	rec := serve(h.Routes, httptest.NewRequest("GET", "/outputs/..%2Fsecret.json", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Errorf("traversal leaked file content: %s", rec.Body.String())
	}
}

// ── Transcriptions ───────────────────────────────────────────────────

func TestTranscriptionsFromCatalog(t *testing.T) {
	cat := &fakeCatalog{items: []database.TranscriptionAPI{{JobID: "j1"}, {JobID: "j2"}}}
	archive, _ := newTestArchive(t)
	h := NewTranscriptionsHandler(cat, archive)

	rec := serve(h.Routes, httptest.NewRequest("GET", "/transcriptions?limit=10&model_size=tiny&language=en", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if cat.filter.Limit != 10 || cat.filter.ModelSize != "tiny" || cat.filter.Language != "en" {
		t.Errorf("filter = %+v", cat.filter)
	}
	var body struct {
		Source string `json:"source"`
		Total  int    `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Source != "catalog" || body.Total != 2 {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestTranscriptionsFromArchive(t *testing.T) {
	archive, _ := newTestArchive(t)
	for i := 0; i < 3; i++ {
		if _, err := archive.Save(context.Background(), &storage.TranscriptionResult{Text: "x"}); err != nil {
			t.Fatal(err)
		}
	}
	h := NewTranscriptionsHandler(nil, archive)

	rec := serve(h.Routes, httptest.NewRequest("GET", "/transcriptions?limit=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Source    string             `json:"source"`
		Artifacts []storage.Artifact `json:"artifacts"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Source != "archive" || len(body.Artifacts) != 2 {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestTranscriptionsBadLimit(t *testing.T) {
	archive, _ := newTestArchive(t)
	h := NewTranscriptionsHandler(nil, archive)
	rec := serve(h.Routes, httptest.NewRequest("GET", "/transcriptions?limit=0", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// ── Models ───────────────────────────────────────────────────────────

func TestModelsList(t *testing.T) {
	loaded := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeModels{resident: []*whisper.Handle{{Size: whisper.Tiny, Device: whisper.CPU, Model: "ggml-tiny.bin", LoadedAt: loaded}}}
	installed := func(s whisper.Size) bool { return s == whisper.Tiny }
	h := NewModelsHandler(src, whisper.Small, "fr", installed)

	rec := serve(h.Routes, httptest.NewRequest("GET", "/models", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp ModelsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Sizes) != len(whisper.Sizes) || resp.DefaultSize != whisper.Small || resp.DefaultLanguage != "fr" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Policy != whisper.SingleResident || resp.Device != whisper.CPU {
		t.Errorf("policy/device = %s/%s", resp.Policy, resp.Device)
	}
	if len(resp.Resident) != 1 || resp.Resident[0].Size != whisper.Tiny {
		t.Errorf("resident = %+v", resp.Resident)
	}
	if !resp.Installed[whisper.Tiny] || resp.Installed[whisper.Large] {
		t.Errorf("installed = %v", resp.Installed)
	}
}

// ── Health ───────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	start := time.Now().Add(-time.Minute)
	tests := []struct {
		name       string
		engine     EngineStatus
		db         HealthChecker
		mqtt       ConnStatus
		wantStatus int
		want       string
		checks     map[string]string
	}{
		{"healthy_minimal", fakeEngine{}, nil, nil, 200, "healthy",
			map[string]string{"decoder": "ok", "database": "not_configured", "mqtt": "not_configured"}},
		{"healthy_full", fakeEngine{}, fakeDB{}, fakeMQTT{connected: true}, 200, "healthy",
			map[string]string{"database": "ok", "mqtt": "ok"}},
		{"db_down_degraded", fakeEngine{}, fakeDB{err: errors.New("conn refused")}, nil, 200, "degraded",
			map[string]string{"database": "error"}},
		{"mqtt_down_degraded", fakeEngine{}, nil, fakeMQTT{}, 200, "degraded",
			map[string]string{"mqtt": "disconnected"}},
		{"no_decoder_unhealthy", fakeEngine{err: errors.New("ffmpeg not found")}, fakeDB{err: errors.New("x")}, nil, 503, "unhealthy",
			map[string]string{"decoder": "unavailable"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.engine, fakeGate{n: 1}, tt.db, tt.mqtt, "local", "v1.2.3", start)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/health", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var resp HealthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.want {
				t.Errorf("Status = %q, want %q", resp.Status, tt.want)
			}
			for k, v := range tt.checks {
				if resp.Checks[k] != v {
					t.Errorf("checks[%s] = %q, want %q", k, resp.Checks[k], v)
				}
			}
			if resp.Version != "v1.2.3" || resp.EngineInFlight != 1 || resp.Checks["engine"] != "busy" {
				t.Errorf("resp = %+v", resp)
			}
			if resp.UptimeSeconds < 59 {
				t.Errorf("UptimeSeconds = %d", resp.UptimeSeconds)
			}
		})
	}
}

// ── Server ───────────────────────────────────────────────────────────

func TestServerAuthBoundary(t *testing.T) {
	archive, _ := newTestArchive(t)
	cfg := &config.Config{
		HTTPAddr:         ":0",
		Password:         "hunter2",
		DefaultModelSize: "small",
		DefaultLanguage:  "fr",
		MaxUploadMB:      1,
	}
	srv := NewServer(ServerOptions{
		Config:    cfg,
		Jobs:      &fakeSubmitter{res: okResult()},
		Archive:   archive,
		Models:    &fakeModels{},
		Engine:    fakeEngine{},
		Gate:      fakeGate{},
		StartTime: time.Now(),
		Log:       zerolog.Nop(),
	})
	h := srv.Handler()

	do := func(path, token string) int {
		req := httptest.NewRequest("GET", path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do("/api/v1/health", ""); code != http.StatusOK {
		t.Errorf("health without auth = %d, want 200", code)
	}
	if code := do("/metrics", ""); code != http.StatusOK {
		t.Errorf("metrics without auth = %d, want 200", code)
	}
	if code := do("/api/v1/models", ""); code != http.StatusUnauthorized {
		t.Errorf("models without auth = %d, want 401", code)
	}
	if code := do("/api/v1/models", "hunter2"); code != http.StatusOK {
		t.Errorf("models with auth = %d, want 200", code)
	}
	if code := do("/outputs/transcription_2020-01-01_00-00-00.json?token=hunter2", ""); code != http.StatusNotFound {
		t.Errorf("missing artifact with query token = %d, want 404", code)
	}
}
