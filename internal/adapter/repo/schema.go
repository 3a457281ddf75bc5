package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is the canonical DDL for the job and media tables. EnsureSchema is
// idempotent so both binaries can run it at startup.
const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id            UUID PRIMARY KEY,
	prompt        TEXT NOT NULL,
	parameters    JSONB,
	status        TEXT NOT NULL DEFAULT 'pending',
	retry_count   INT NOT NULL DEFAULT 0,
	max_retries   INT NOT NULL DEFAULT 3,
	error_message TEXT NOT NULL DEFAULT '',
	webhook_url   TEXT NOT NULL DEFAULT '',
	metadata      JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ,
	run_after     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_claimable
	ON jobs (run_after)
	WHERE status = 'pending';

CREATE INDEX IF NOT EXISTS idx_jobs_terminal_cleanup
	ON jobs (completed_at)
	WHERE status IN ('completed', 'failed', 'cancelled');

CREATE TABLE IF NOT EXISTS media (
	id              UUID PRIMARY KEY,
	job_id          UUID NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
	type            TEXT NOT NULL,
	storage_path    TEXT NOT NULL,
	url             TEXT NOT NULL DEFAULT '',
	mime_type       TEXT NOT NULL,
	file_extension  TEXT NOT NULL DEFAULT '',
	width           INT NOT NULL DEFAULT 0,
	height          INT NOT NULL DEFAULT 0,
	file_size_bytes BIGINT NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_media_job ON media (job_id);
`

// EnsureSchema creates the tables and indexes if they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
