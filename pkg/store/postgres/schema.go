// Package postgres is the PostgreSQL-backed implementation of the store
// interfaces. All stores share a single [pgxpool.Pool]; the pgvector
// extension must be available for the content index and is installed by
// [Migrate] via CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlConnectors = `
CREATE TABLE IF NOT EXISTS connector (
    id            BIGSERIAL    PRIMARY KEY,
    external_id   TEXT         NOT NULL UNIQUE,
    workspace_id  TEXT         NOT NULL,
    user_id       TEXT         NOT NULL,
    app           TEXT         NOT NULL,
    auth_type     TEXT         NOT NULL,
    credentials   BYTEA        NOT NULL DEFAULT ''::bytea,
    subject       TEXT         NOT NULL DEFAULT '',
    status        TEXT         NOT NULL DEFAULT 'not_connected',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    deleted_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_connector_workspace_user
    ON connector (workspace_id, user_id) WHERE deleted_at IS NULL;
`

const ddlProviders = `
CREATE TABLE IF NOT EXISTS oauth_provider (
    id            BIGSERIAL    PRIMARY KEY,
    connector_id  BIGINT       REFERENCES connector (id) ON DELETE CASCADE,
    workspace_id  TEXT         NOT NULL,
    app           TEXT         NOT NULL,
    client_id     TEXT         NOT NULL,
    client_secret BYTEA        NOT NULL,
    scopes        TEXT[]       NOT NULL DEFAULT '{}',
    is_global     BOOLEAN      NOT NULL DEFAULT FALSE,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_oauth_provider_one_global
    ON oauth_provider (workspace_id, app) WHERE is_global;
`

// The partial unique index is the persistence-level backstop for the
// at-most-one-active-job invariant; CreateIfAbsent also checks it inside
// its transaction to produce a clean error.
const ddlJobs = `
CREATE TABLE IF NOT EXISTS ingestion_job (
    id               TEXT         PRIMARY KEY,
    workspace_id     TEXT         NOT NULL,
    user_id          TEXT         NOT NULL,
    connector_id     BIGINT       NOT NULL REFERENCES connector (id) ON DELETE CASCADE,
    status           TEXT         NOT NULL DEFAULT 'pending',
    metadata         JSONB        NOT NULL DEFAULT '{}',
    cancel_requested BOOLEAN      NOT NULL DEFAULT FALSE,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ingestion_job_one_active
    ON ingestion_job (user_id, connector_id)
    WHERE status IN ('pending', 'running');

CREATE INDEX IF NOT EXISTS idx_ingestion_job_connector
    ON ingestion_job (connector_id);
`

const ddlTools = `
CREATE TABLE IF NOT EXISTS tool (
    id            BIGSERIAL    PRIMARY KEY,
    workspace_id  TEXT         NOT NULL,
    connector_id  BIGINT       NOT NULL REFERENCES connector (id) ON DELETE CASCADE,
    name          TEXT         NOT NULL,
    description   TEXT         NOT NULL DEFAULT '',
    schema        TEXT         NOT NULL DEFAULT '',
    enabled       BOOLEAN      NOT NULL DEFAULT TRUE,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (workspace_id, connector_id, name)
);
`

const ddlRooms = `
CREATE TABLE IF NOT EXISTS call_room (
    id           TEXT         PRIMARY KEY,
    external_id  TEXT         NOT NULL DEFAULT '',
    participants INT          NOT NULL DEFAULT 0,
    started_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_call_room_active
    ON call_room (started_at) WHERE ended_at IS NULL;
`

// ddlContent returns the content index DDL with the embedding dimension
// baked into the vector column type.
func ddlContent(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS content (
    id            TEXT         PRIMARY KEY,
    workspace_id  TEXT         NOT NULL,
    connector_id  BIGINT       NOT NULL DEFAULT 0,
    owner_email   TEXT         NOT NULL DEFAULT '',
    service       TEXT         NOT NULL DEFAULT '',
    title         TEXT         NOT NULL DEFAULT '',
    url           TEXT         NOT NULL DEFAULT '',
    body          TEXT         NOT NULL,
    embedding     vector(%d),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_content_workspace ON content (workspace_id);
CREATE INDEX IF NOT EXISTS idx_content_owner ON content (owner_email, service);
`, embeddingDimensions)
}

// Migrate creates all tables, indexes, and extensions. Safe to run on
// every boot.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	for _, ddl := range []string{
		ddlConnectors,
		ddlProviders,
		ddlJobs,
		ddlTools,
		ddlRooms,
		ddlContent(embeddingDimensions),
	} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
