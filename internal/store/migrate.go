package store

import (
	"context"
	"fmt"
)

// schema is the full DDL for the slipway database.  Statements are idempotent
// so that InitSchema can run at every server start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS app (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT uc_app_name UNIQUE (name)
	)`,
	`CREATE TABLE IF NOT EXISTS release (
		id SERIAL PRIMARY KEY,
		app_id INTEGER NOT NULL REFERENCES app (id) ON DELETE CASCADE,
		num INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		commit_hash TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		manifest TEXT NOT NULL DEFAULT '',
		procfile TEXT NOT NULL DEFAULT '',
		runtime TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT uc_release_app_id_num UNIQUE (app_id, num)
	)`,
	`CREATE TABLE IF NOT EXISTS config_var (
		app_id INTEGER NOT NULL REFERENCES app (id) ON DELETE CASCADE,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		CONSTRAINT uc_config_var_app_id_key UNIQUE (app_id, key)
	)`,
	`CREATE INDEX IF NOT EXISTS ix_release_app_id_num ON release (app_id, num DESC)`,
}

// InitSchema creates the database tables if they do not already exist.
func (p *PostgresClient) InitSchema(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("error applying schema statement %d: %w", i, err)
		}
	}
	return nil
}
