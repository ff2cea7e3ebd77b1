package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// CacheRow is one stored analysis outcome, keyed by session.
type CacheRow struct {
	SessionID          string
	CVTextHash         string
	OfferTextHash      string
	ConsiderationsHash string
	ComparisonResults  []byte
	CVAnalysis         string
	OfferAnalysis      string
	CreatedAt          time.Time
}

const cacheColumns = `session_id, cv_text_hash, job_offer_text_hash, additional_considerations_hash,
		comparison_results, cv_analysis, job_offer_analysis, created_at`

func scanCacheRow(row pgx.Row) (*CacheRow, error) {
	var r CacheRow
	err := row.Scan(&r.SessionID, &r.CVTextHash, &r.OfferTextHash, &r.ConsiderationsHash,
		&r.ComparisonResults, &r.CVAnalysis, &r.OfferAnalysis, &r.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan cache row: %w", err)
	}
	return &r, nil
}

// InsertCacheEntry stores a completed result. The first write for a session
// wins; a concurrent duplicate is reported via the bool without an error.
func (db *DB) InsertCacheEntry(ctx context.Context, row CacheRow) (bool, error) {
	tag, err := db.q.Exec(ctx,
		`INSERT INTO comparison_cache
			(session_id, cv_text_hash, job_offer_text_hash, additional_considerations_hash,
			 comparison_results, cv_analysis, job_offer_analysis)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (session_id) DO NOTHING`,
		row.SessionID, row.CVTextHash, row.OfferTextHash, row.ConsiderationsHash,
		row.ComparisonResults, row.CVAnalysis, row.OfferAnalysis,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert cache entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetCacheEntry retrieves a cached result by session ID. Returns nil when
// no entry exists.
func (db *DB) GetCacheEntry(ctx context.Context, sessionID string) (*CacheRow, error) {
	row := db.q.QueryRow(ctx,
		`SELECT `+cacheColumns+` FROM comparison_cache WHERE session_id = $1`,
		sessionID,
	)
	return scanCacheRow(row)
}

// FindCacheByFingerprints returns the newest cached result whose content
// hashes all match, or nil when none does.
func (db *DB) FindCacheByFingerprints(ctx context.Context, cvHash, offerHash, considerationsHash string) (*CacheRow, error) {
	row := db.q.QueryRow(ctx,
		`SELECT `+cacheColumns+` FROM comparison_cache
		 WHERE cv_text_hash = $1 AND job_offer_text_hash = $2 AND additional_considerations_hash = $3
		 ORDER BY created_at DESC LIMIT 1`,
		cvHash, offerHash, considerationsHash,
	)
	return scanCacheRow(row)
}

// DeleteCacheBefore removes cache entries created before the cutoff and
// returns how many were removed.
func (db *DB) DeleteCacheBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.q.Exec(ctx,
		`DELETE FROM comparison_cache WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
