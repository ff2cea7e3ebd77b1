package db

import (
	"context"
	"fmt"
	"time"
)

// InsertRequest records one admitted submission for rate accounting.
func (db *DB) InsertRequest(ctx context.Context, origin, processID, userID string) error {
	_, err := db.q.Exec(ctx,
		`INSERT INTO user_requests (origin, process_id, user_id) VALUES ($1, $2, $3)`,
		origin, processID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to record request: %w", err)
	}
	return nil
}

// CountRequestsSince returns the number of admitted requests across all
// origins since the given time.
func (db *DB) CountRequestsSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := db.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_requests WHERE created_at >= $1`, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count requests: %w", err)
	}
	return count, nil
}

// CountOriginRequestsSince returns the number of admitted requests for one
// origin since the given time.
func (db *DB) CountOriginRequestsSince(ctx context.Context, origin string, since time.Time) (int64, error) {
	var count int64
	err := db.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_requests WHERE origin = $1 AND created_at >= $2`,
		origin, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count origin requests: %w", err)
	}
	return count, nil
}

// DeleteRequestsBefore removes request log rows created before the cutoff
// and returns how many were removed.
func (db *DB) DeleteRequestsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.q.Exec(ctx,
		`DELETE FROM user_requests WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired request rows: %w", err)
	}
	return tag.RowsAffected(), nil
}
