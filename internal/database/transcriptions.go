package database

import (
	"context"
	"fmt"
	"time"
)

// TranscriptionRow is the input for inserting a transcription.
type TranscriptionRow struct {
	JobID          string
	Artifact       string
	Text           string
	ModelSize      string
	Language       string
	Device         string
	SourceFilename string
	GenerationMs   int
	AudioDuration  *float32
}

// TranscriptionAPI is the transcription representation for API responses.
type TranscriptionAPI struct {
	ID             int64     `json:"id"`
	JobID          string    `json:"job_id"`
	Artifact       string    `json:"artifact"`
	Text           string    `json:"text"`
	ModelSize      string    `json:"model_size"`
	Language       string    `json:"language"`
	Device         string    `json:"device,omitempty"`
	SourceFilename string    `json:"source_filename,omitempty"`
	GenerationMs   int       `json:"generation_ms"`
	AudioDuration  *float32  `json:"audio_duration_seconds,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// InsertTranscription records a completed job and returns its row id.
func (db *DB) InsertTranscription(ctx context.Context, row *TranscriptionRow) (int64, error) {
	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO transcriptions (
			job_id, artifact, text, model_size, language,
			device, source_filename, generation_ms, audio_duration_s
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		row.JobID, row.Artifact, row.Text, row.ModelSize, row.Language,
		row.Device, row.SourceFilename, row.GenerationMs, row.AudioDuration,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert transcription: %w", err)
	}
	return id, nil
}

// ListTranscriptions returns the most recent transcriptions, optionally
// filtered by model size and language.
func (db *DB) ListTranscriptions(ctx context.Context, filter TranscriptionFilter) ([]TranscriptionAPI, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, job_id::text, artifact, text, model_size, language,
			device, source_filename, generation_ms, audio_duration_s, created_at
		FROM transcriptions
		WHERE ($1::text IS NULL OR model_size = $1)
		  AND ($2::text IS NULL OR language = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, pqString(filter.ModelSize), pqString(filter.Language), filter.limit())
	if err != nil {
		return nil, fmt.Errorf("list transcriptions: %w", err)
	}
	defer rows.Close()

	result := []TranscriptionAPI{}
	for rows.Next() {
		var t TranscriptionAPI
		if err := rows.Scan(
			&t.ID, &t.JobID, &t.Artifact, &t.Text, &t.ModelSize, &t.Language,
			&t.Device, &t.SourceFilename, &t.GenerationMs, &t.AudioDuration, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// TranscriptionFilter narrows ListTranscriptions.
type TranscriptionFilter struct {
	ModelSize string
	Language  string
	Limit     int
}

func (f TranscriptionFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return 50
	case f.Limit > 500:
		return 500
	}
	return f.Limit
}
