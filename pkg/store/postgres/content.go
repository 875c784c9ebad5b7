package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/korahq/kora/pkg/store"
)

// ContentStore implements store.ContentStore over a pgvector column.
type ContentStore struct {
	pool *pgxpool.Pool
}

// Upsert writes or refreshes one indexed document.
func (s *ContentStore) Upsert(ctx context.Context, doc *store.Document) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO content (id, workspace_id, connector_id, owner_email, service, title, url, body, embedding, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
        ON CONFLICT (id) DO UPDATE SET
            title = EXCLUDED.title,
            url = EXCLUDED.url,
            body = EXCLUDED.body,
            embedding = EXCLUDED.embedding,
            updated_at = now()`,
		doc.ID, doc.WorkspaceID, doc.ConnectorID, doc.OwnerEmail, doc.Service,
		doc.Title, doc.URL, doc.Body, pgvector.NewVector(doc.Embedding))
	if err != nil {
		return fmt.Errorf("upsert content: %w", err)
	}
	return nil
}

// Search returns the workspace documents nearest to embedding by cosine
// distance.
func (s *ContentStore) Search(ctx context.Context, workspaceID string, embedding []float32, limit int) ([]store.Document, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
        SELECT id, workspace_id, connector_id, owner_email, service, title, url, body, embedding, updated_at
        FROM content
        WHERE workspace_id = $1
        ORDER BY embedding <=> $2
        LIMIT $3`, workspaceID, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("search content: %w", err)
	}
	defer rows.Close()

	var out []store.Document
	for rows.Next() {
		var d store.Document
		var vec pgvector.Vector
		if err := rows.Scan(&d.ID, &d.WorkspaceID, &d.ConnectorID, &d.OwnerEmail,
			&d.Service, &d.Title, &d.URL, &d.Body, &vec, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		d.Embedding = vec.Slice()
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteForOwner removes the owner's documents, optionally narrowed to a
// service subset, and reports how many rows went away. Idempotent.
func (s *ContentStore) DeleteForOwner(ctx context.Context, ownerEmail string, services []string) (int, error) {
	query := `DELETE FROM content WHERE owner_email = $1`
	args := []any{ownerEmail}
	if len(services) > 0 {
		query += ` AND service = ANY($2)`
		args = append(args, services)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete content for owner: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// RoomStore implements store.RoomStore.
type RoomStore struct {
	pool *pgxpool.Pool
}

func (s *RoomStore) Upsert(ctx context.Context, room *store.CallRoom) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO call_room (id, external_id, participants, started_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE SET
            participants = EXCLUDED.participants`,
		room.ID, room.ExternalID, room.Participants, room.StartedAt)
	if err != nil {
		return fmt.Errorf("upsert call room: %w", err)
	}
	return nil
}

func (s *RoomStore) ListActive(ctx context.Context) ([]store.CallRoom, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, external_id, participants, started_at, ended_at
        FROM call_room WHERE ended_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("list active rooms: %w", err)
	}
	defer rows.Close()

	var out []store.CallRoom
	for rows.Next() {
		var r store.CallRoom
		if err := rows.Scan(&r.ID, &r.ExternalID, &r.Participants, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("scan call room: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *RoomStore) MarkEnded(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
        UPDATE call_room SET ended_at = $2
        WHERE id = $1 AND ended_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("mark room ended: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
