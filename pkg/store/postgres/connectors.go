package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/korahq/kora/pkg/store"
)

// ConnectorStore implements store.ConnectorStore.
type ConnectorStore struct {
	pool *pgxpool.Pool
}

const connectorColumns = `id, external_id, workspace_id, user_id, app, auth_type,
    credentials, subject, status, created_at, updated_at, deleted_at`

func scanConnector(row pgx.Row) (*store.Connector, error) {
	var c store.Connector
	err := row.Scan(&c.ID, &c.ExternalID, &c.WorkspaceID, &c.UserID, &c.App,
		&c.AuthType, &c.Credentials, &c.Subject, &c.Status,
		&c.CreatedAt, &c.UpdatedAt, &c.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan connector: %w", err)
	}
	return &c, nil
}

// Create inserts the connector and fills in its generated ID and
// timestamps.
func (s *ConnectorStore) Create(ctx context.Context, c *store.Connector) error {
	if c.Status == "" {
		c.Status = store.StatusNotConnected
	}
	err := s.pool.QueryRow(ctx, `
        INSERT INTO connector (external_id, workspace_id, user_id, app, auth_type, credentials, subject, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id, created_at, updated_at`,
		c.ExternalID, c.WorkspaceID, c.UserID, c.App, c.AuthType, c.Credentials, c.Subject, c.Status,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create connector: %w", err)
	}
	return nil
}

// GetByExternalID returns a live connector; soft-deleted rows read as
// ErrNotFound.
func (s *ConnectorStore) GetByExternalID(ctx context.Context, externalID string) (*store.Connector, error) {
	return scanConnector(s.pool.QueryRow(ctx, `
        SELECT `+connectorColumns+`
        FROM connector
        WHERE external_id = $1 AND deleted_at IS NULL`, externalID))
}

// List returns the user's live connectors, newest first.
func (s *ConnectorStore) List(ctx context.Context, workspaceID, userID string) ([]store.Connector, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT `+connectorColumns+`
        FROM connector
        WHERE workspace_id = $1 AND user_id = $2 AND deleted_at IS NULL
        ORDER BY created_at DESC`, workspaceID, userID)
	if err != nil {
		return nil, fmt.Errorf("list connectors: %w", err)
	}
	defer rows.Close()

	var out []store.Connector
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *ConnectorStore) UpdateStatus(ctx context.Context, externalID string, status store.ConnectorStatus) error {
	tag, err := s.pool.Exec(ctx, `
        UPDATE connector SET status = $2, updated_at = now()
        WHERE external_id = $1 AND deleted_at IS NULL`, externalID, status)
	if err != nil {
		return fmt.Errorf("update connector status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *ConnectorStore) UpdateCredentials(ctx context.Context, externalID string, sealed []byte) error {
	tag, err := s.pool.Exec(ctx, `
        UPDATE connector SET credentials = $2, updated_at = now()
        WHERE external_id = $1 AND deleted_at IS NULL`, externalID, sealed)
	if err != nil {
		return fmt.Errorf("update connector credentials: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Delete soft-deletes the connector and hard-deletes its dependents so the
// ON DELETE CASCADE semantics hold even though the row itself remains.
func (s *ConnectorStore) Delete(ctx context.Context, externalID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("delete connector: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `
        UPDATE connector SET deleted_at = now(), updated_at = now()
        WHERE external_id = $1 AND deleted_at IS NULL
        RETURNING id`, externalID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete connector: %w", err)
	}

	for _, q := range []string{
		`DELETE FROM tool WHERE connector_id = $1`,
		`DELETE FROM oauth_provider WHERE connector_id = $1`,
		`DELETE FROM ingestion_job WHERE connector_id = $1 AND status IN ('pending', 'running')`,
	} {
		if _, err := tx.Exec(ctx, q, id); err != nil {
			return fmt.Errorf("delete connector dependents: %w", err)
		}
	}
	return tx.Commit(ctx)
}
