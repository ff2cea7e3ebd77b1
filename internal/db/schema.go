package db

import (
	"context"
	"fmt"
)

// schemaStatements creates the two tables the service owns. Statements are
// idempotent so startup can always run them.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS comparison_cache (
		session_id TEXT PRIMARY KEY,
		cv_text_hash TEXT NOT NULL,
		job_offer_text_hash TEXT NOT NULL,
		additional_considerations_hash TEXT NOT NULL DEFAULT '',
		comparison_results JSONB NOT NULL,
		cv_analysis TEXT NOT NULL DEFAULT '',
		job_offer_analysis TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_comparison_cache_hashes
		ON comparison_cache (cv_text_hash, job_offer_text_hash, additional_considerations_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_comparison_cache_created_at
		ON comparison_cache (created_at)`,
	`CREATE TABLE IF NOT EXISTS user_requests (
		id BIGSERIAL PRIMARY KEY,
		origin TEXT NOT NULL,
		process_id TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_requests_origin_created_at
		ON user_requests (origin, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_user_requests_created_at
		ON user_requests (created_at)`,
}

// EnsureSchema creates the service tables and indexes if they do not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
