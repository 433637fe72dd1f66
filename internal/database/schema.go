package database

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS transcriptions (
	id               BIGSERIAL PRIMARY KEY,
	job_id           UUID NOT NULL UNIQUE,
	artifact         TEXT NOT NULL,
	text             TEXT NOT NULL,
	model_size       TEXT NOT NULL,
	language         TEXT NOT NULL,
	device           TEXT NOT NULL DEFAULT '',
	source_filename  TEXT NOT NULL DEFAULT '',
	generation_ms    INTEGER NOT NULL,
	audio_duration_s REAL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS transcriptions_created_at_idx ON transcriptions (created_at DESC);
`

// InitSchema creates the catalog table when it is missing. It checks
// whether "transcriptions" exists first so a read-only role on an
// initialized database never issues DDL.
func (db *DB) InitSchema(ctx context.Context) error {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' AND tablename = 'transcriptions')`,
	).Scan(&exists)
	if err != nil {
		return err
	}

	if exists {
		db.log.Debug().Msg("schema already initialized, skipping")
		return nil
	}

	db.log.Info().Msg("fresh database detected, applying schema")
	if _, err := db.Pool.Exec(ctx, schemaSQL); err != nil {
		return err
	}
	db.log.Info().Msg("schema applied successfully")
	return nil
}
