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

// ProviderStore implements store.ProviderStore.
type ProviderStore struct {
	pool *pgxpool.Pool
}

// Create inserts the provider. A second global provider for the same
// (workspace, app) pair fails with store.ErrGlobalProviderExists.
func (s *ProviderStore) Create(ctx context.Context, p *store.OAuthProvider) error {
	err := s.pool.QueryRow(ctx, `
        INSERT INTO oauth_provider (connector_id, workspace_id, app, client_id, client_secret, scopes, is_global)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id, created_at`,
		p.ConnectorID, p.WorkspaceID, p.App, p.ClientID, p.ClientSecret, p.Scopes, p.IsGlobal,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return store.ErrGlobalProviderExists
		}
		return fmt.Errorf("create oauth provider: %w", err)
	}
	return nil
}

const providerColumns = `id, connector_id, workspace_id, app, client_id, client_secret, scopes, is_global, created_at`

func scanProvider(row pgx.Row) (*store.OAuthProvider, error) {
	var p store.OAuthProvider
	err := row.Scan(&p.ID, &p.ConnectorID, &p.WorkspaceID, &p.App, &p.ClientID,
		&p.ClientSecret, &p.Scopes, &p.IsGlobal, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan oauth provider: %w", err)
	}
	return &p, nil
}

func (s *ProviderStore) ForConnector(ctx context.Context, connectorID int64) (*store.OAuthProvider, error) {
	return scanProvider(s.pool.QueryRow(ctx, `
        SELECT `+providerColumns+` FROM oauth_provider
        WHERE connector_id = $1`, connectorID))
}

func (s *ProviderStore) GlobalForApp(ctx context.Context, workspaceID string, app store.App) (*store.OAuthProvider, error) {
	return scanProvider(s.pool.QueryRow(ctx, `
        SELECT `+providerColumns+` FROM oauth_provider
        WHERE workspace_id = $1 AND app = $2 AND is_global`, workspaceID, app))
}
