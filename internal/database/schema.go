package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Statements are idempotent so the service can apply them on every start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		device_id    TEXT PRIMARY KEY,
		ip           TEXT,
		status       TEXT NOT NULL DEFAULT 'offline',
		last_seen_at TIMESTAMPTZ NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS device_users (
		device_id  TEXT NOT NULL,
		user_id    BIGINT NOT NULL,
		name       TEXT NOT NULL,
		phone      TEXT,
		card_id    TEXT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (device_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS access_logs (
		id        BIGSERIAL PRIMARY KEY,
		device_id TEXT NOT NULL,
		user_id   BIGINT NOT NULL,
		user_name TEXT NOT NULL,
		card_id   TEXT,
		granted   BOOLEAN NOT NULL DEFAULT FALSE,
		ts        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_access_logs_ts ON access_logs (ts DESC)`,
	`CREATE TABLE IF NOT EXISTS system_logs (
		id        BIGSERIAL PRIMARY KEY,
		device_id TEXT NOT NULL,
		category  TEXT NOT NULL,
		message   TEXT NOT NULL,
		ts        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_system_logs_ts ON system_logs (ts DESC)`,
}

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
