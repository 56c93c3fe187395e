package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
)

//go:embed migrations
var migrationsFS embed.FS

// CreateGINIndexes creates full-text search GIN indexes for PostgreSQL.
// These enable efficient full-text search over ingested event content,
// which backs the mail and chat cross-source adapters.
func CreateGINIndexes(ctx context.Context, db *sql.DB) error {
	// GIN index over event subject + body for adapter full-text search
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_perceived_events_content_gin
		ON perceived_events USING gin(to_tsvector('simple',
			COALESCE(payload->>'subject', '') || ' ' || COALESCE(payload->>'body_plain', '')))`)
	if err != nil {
		return fmt.Errorf("failed to create event content GIN index: %w", err)
	}

	// GIN index over queue item analysis snapshots for history search
	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_queue_items_analysis_gin
		ON queue_items USING gin(to_tsvector('simple', COALESCE(analysis::text, '')))`)
	if err != nil {
		return fmt.Errorf("failed to create analysis GIN index: %w", err)
	}

	return nil
}
