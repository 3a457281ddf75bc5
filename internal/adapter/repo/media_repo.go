package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediagen/internal/domain"
)

// MediaRepositoryPG implements domain.MediaRepository on PostgreSQL.
type MediaRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewMediaRepository creates a new media repository backed by PostgreSQL.
func NewMediaRepository(pool *pgxpool.Pool) *MediaRepositoryPG {
	return &MediaRepositoryPG{pool: pool}
}

// AddForJob persists a batch of media records, but only while the owning job
// is still processing. The status re-check runs under a row lock inside one
// transaction, so a cancellation that lands first makes the whole batch a
// no-op and the attempt leaves nothing behind.
func (r *MediaRepositoryPG) AddForJob(ctx context.Context, jobID uuid.UUID, media []domain.Media) (bool, error) {
	if len(media) == 0 {
		return false, errors.New("media batch is empty")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin media batch: %w", err)
	}
	defer tx.Rollback(ctx)

	var status domain.JobStatus
	err = tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE;`, jobID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, domain.ErrNotFound
		}
		return false, err
	}
	if status != domain.JobStatusProcessing {
		return false, nil
	}

	query := `
INSERT INTO media (id, job_id, type, storage_path, url, mime_type, file_extension, width, height, file_size_bytes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`
	for _, m := range media {
		if _, err := tx.Exec(ctx, query,
			m.ID,
			jobID,
			m.Type,
			m.StoragePath,
			m.URL,
			m.MimeType,
			m.FileExtension,
			m.Width,
			m.Height,
			m.FileSizeBytes,
		); err != nil {
			return false, fmt.Errorf("insert media %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit media batch: %w", err)
	}
	return true, nil
}

// GetByID fetches a media record by its identifier.
func (r *MediaRepositoryPG) GetByID(ctx context.Context, id uuid.UUID) (*domain.Media, error) {
	query := `
SELECT id, job_id, type, storage_path, url, mime_type, file_extension, width, height, file_size_bytes, created_at
FROM media
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	m, err := scanMedia(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

// ListByJob returns all media owned by the given job, oldest first.
func (r *MediaRepositoryPG) ListByJob(ctx context.Context, jobID uuid.UUID) ([]domain.Media, error) {
	query := `
SELECT id, job_id, type, storage_path, url, mime_type, file_extension, width, height, file_size_bytes, created_at
FROM media
WHERE job_id = $1
ORDER BY created_at ASC;
`
	rows, err := r.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// Delete removes one media record.
func (r *MediaRepositoryPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM media WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanMedia(row pgx.Row) (*domain.Media, error) {
	var m domain.Media
	if err := row.Scan(
		&m.ID,
		&m.JobID,
		&m.Type,
		&m.StoragePath,
		&m.URL,
		&m.MimeType,
		&m.FileExtension,
		&m.Width,
		&m.Height,
		&m.FileSizeBytes,
		&m.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &m, nil
}
