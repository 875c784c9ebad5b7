package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/korahq/kora/pkg/store"
)

// JobStore implements store.JobStore.
type JobStore struct {
	pool *pgxpool.Pool
}

// uniqueViolation is the PostgreSQL error code raised when the one-active-
// job partial index rejects an insert.
const uniqueViolation = "23505"

// CreateIfAbsent inserts the job only when the (user, connector) pair has
// no pending or running job. The check and insert run in one transaction;
// the partial unique index catches races between concurrent creators.
func (s *JobStore) CreateIfAbsent(ctx context.Context, job *store.IngestionJob) error {
	if job.Status == "" {
		job.Status = store.JobPending
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("create job: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var active bool
	err = tx.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM ingestion_job
            WHERE user_id = $1 AND connector_id = $2
              AND status IN ('pending', 'running')
        )`, job.UserID, job.ConnectorID).Scan(&active)
	if err != nil {
		return fmt.Errorf("create job: check active: %w", err)
	}
	if active {
		return store.ErrIngestionAlreadyRunning
	}

	err = tx.QueryRow(ctx, `
        INSERT INTO ingestion_job (id, workspace_id, user_id, connector_id, status, metadata)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING created_at, updated_at`,
		job.ID, job.WorkspaceID, job.UserID, job.ConnectorID, job.Status, job.Metadata,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return store.ErrIngestionAlreadyRunning
		}
		return fmt.Errorf("create job: insert: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *JobStore) Get(ctx context.Context, id string) (*store.IngestionJob, error) {
	var j store.IngestionJob
	err := s.pool.QueryRow(ctx, `
        SELECT id, workspace_id, user_id, connector_id, status, metadata, cancel_requested, created_at, updated_at
        FROM ingestion_job WHERE id = $1`, id,
	).Scan(&j.ID, &j.WorkspaceID, &j.UserID, &j.ConnectorID, &j.Status, &j.Metadata,
		&j.CancelRequested, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

// UpdateStatus moves the job to status and, when lastError is non-empty,
// records it in the metadata document.
func (s *JobStore) UpdateStatus(ctx context.Context, id string, status store.JobStatus, lastError string) error {
	tag, err := s.pool.Exec(ctx, `
        UPDATE ingestion_job
        SET status = $2,
            metadata = CASE WHEN $3 = '' THEN metadata
                       ELSE jsonb_set(metadata, '{lastError}', to_jsonb($3::text)) END,
            updated_at = now()
        WHERE id = $1`, id, status, lastError)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdateMetadata replaces the metadata document. Only the owning worker
// writes here, so last-write-wins is safe.
func (s *JobStore) UpdateMetadata(ctx context.Context, id string, meta store.JobMetadata) error {
	tag, err := s.pool.Exec(ctx, `
        UPDATE ingestion_job SET metadata = $2, updated_at = now()
        WHERE id = $1`, id, meta)
	if err != nil {
		return fmt.Errorf("update job metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *JobStore) RequestCancel(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
        UPDATE ingestion_job SET cancel_requested = TRUE, updated_at = now()
        WHERE id = $1 AND status IN ('pending', 'running')`, id)
	if err != nil {
		return fmt.Errorf("request job cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *JobStore) CancelRequested(ctx context.Context, id string) (bool, error) {
	var cancel bool
	err := s.pool.QueryRow(ctx, `
        SELECT cancel_requested FROM ingestion_job WHERE id = $1`, id).Scan(&cancel)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, store.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("read job cancel flag: %w", err)
	}
	return cancel, nil
}

// DeleteQueuedForOwner removes still-pending jobs whose resume state
// targets the owner email, optionally narrowed to a service subset.
func (s *JobStore) DeleteQueuedForOwner(ctx context.Context, ownerEmail string, services []string) (int, error) {
	query := `
        DELETE FROM ingestion_job
        WHERE status = 'pending'
          AND metadata->'ingestionState'->'emails' ? $1`
	args := []any{ownerEmail}
	if len(services) > 0 {
		query += ` AND metadata->'ingestionState'->'services' ?| $2`
		args = append(args, services)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete queued jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
