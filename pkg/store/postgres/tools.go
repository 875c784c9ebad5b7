package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/korahq/kora/pkg/store"
)

// ToolStore implements store.ToolStore.
type ToolStore struct {
	pool *pgxpool.Pool
}

// Sync replaces the connector's tool catalog atomically: delete and
// re-insert inside one transaction, preserving enable flags of tools that
// survive by name.
func (s *ToolStore) Sync(ctx context.Context, workspaceID string, connectorID int64, tools []store.Tool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("sync tools: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Carry over disables so a refresh does not silently re-enable tools
	// an admin turned off.
	disabled := make(map[string]bool)
	rows, err := tx.Query(ctx, `
        SELECT name FROM tool
        WHERE workspace_id = $1 AND connector_id = $2 AND NOT enabled`,
		workspaceID, connectorID)
	if err != nil {
		return fmt.Errorf("sync tools: read flags: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("sync tools: scan flag: %w", err)
		}
		disabled[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sync tools: read flags: %w", err)
	}

	if _, err := tx.Exec(ctx, `
        DELETE FROM tool WHERE workspace_id = $1 AND connector_id = $2`,
		workspaceID, connectorID); err != nil {
		return fmt.Errorf("sync tools: clear: %w", err)
	}

	for _, t := range tools {
		if _, err := tx.Exec(ctx, `
            INSERT INTO tool (workspace_id, connector_id, name, description, schema, enabled)
            VALUES ($1, $2, $3, $4, $5, $6)`,
			workspaceID, connectorID, t.Name, t.Description, t.Schema, !disabled[t.Name]); err != nil {
			return fmt.Errorf("sync tools: insert %q: %w", t.Name, err)
		}
	}
	return tx.Commit(ctx)
}

const toolColumns = `id, workspace_id, connector_id, name, description, schema, enabled, created_at, updated_at`

func scanTools(rows pgx.Rows) ([]store.Tool, error) {
	defer rows.Close()
	var out []store.Tool
	for rows.Next() {
		var t store.Tool
		if err := rows.Scan(&t.ID, &t.WorkspaceID, &t.ConnectorID, &t.Name,
			&t.Description, &t.Schema, &t.Enabled, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tool: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *ToolStore) List(ctx context.Context, workspaceID string, connectorID int64) ([]store.Tool, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT `+toolColumns+` FROM tool
        WHERE workspace_id = $1 AND connector_id = $2
        ORDER BY name`, workspaceID, connectorID)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	return scanTools(rows)
}

// ListEnabled returns every enabled tool in the workspace; this is the
// catalog tool-selection reads.
func (s *ToolStore) ListEnabled(ctx context.Context, workspaceID string) ([]store.Tool, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT `+toolColumns+` FROM tool
        WHERE workspace_id = $1 AND enabled
        ORDER BY connector_id, name`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list enabled tools: %w", err)
	}
	return scanTools(rows)
}

func (s *ToolStore) SetEnabled(ctx context.Context, workspaceID string, toolID int64, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `
        UPDATE tool SET enabled = $3, updated_at = now()
        WHERE workspace_id = $1 AND id = $2`, workspaceID, toolID, enabled)
	if err != nil {
		return fmt.Errorf("set tool enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
