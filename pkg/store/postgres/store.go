package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/korahq/kora/pkg/store"
)

// Compile-time interface checks.
var (
	_ store.ConnectorStore = (*ConnectorStore)(nil)
	_ store.ProviderStore  = (*ProviderStore)(nil)
	_ store.JobStore       = (*JobStore)(nil)
	_ store.ToolStore      = (*ToolStore)(nil)
	_ store.ContentStore   = (*ContentStore)(nil)
	_ store.RoomStore      = (*RoomStore)(nil)
)

// Store bundles all PostgreSQL-backed stores over one connection pool.
// All sub-stores are safe for concurrent use.
type Store struct {
	pool       *pgxpool.Pool
	connectors *ConnectorStore
	providers  *ProviderStore
	jobs       *JobStore
	tools      *ToolStore
	content    *ContentStore
	rooms      *RoomStore
}

// New connects to the database at dsn, registers pgvector types on every
// connection, and runs [Migrate]. embeddingDimensions must match the
// embedding model feeding the content index.
func New(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:       pool,
		connectors: &ConnectorStore{pool: pool},
		providers:  &ProviderStore{pool: pool},
		jobs:       &JobStore{pool: pool},
		tools:      &ToolStore{pool: pool},
		content:    &ContentStore{pool: pool},
		rooms:      &RoomStore{pool: pool},
	}, nil
}

func (s *Store) Connectors() *ConnectorStore { return s.connectors }
func (s *Store) Providers() *ProviderStore   { return s.providers }
func (s *Store) Jobs() *JobStore             { return s.jobs }
func (s *Store) Tools() *ToolStore           { return s.tools }
func (s *Store) Content() *ContentStore      { return s.content }
func (s *Store) Rooms() *RoomStore           { return s.rooms }

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
