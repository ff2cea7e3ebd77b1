// Package cache implements the content-addressed result cache: completed
// analyses keyed by session, verified against content fingerprints.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/career-assistant/internal/db"
	"github.com/jonathan/career-assistant/internal/ingestion"
	"github.com/jonathan/career-assistant/internal/llm"
)

// ErrAlreadyCached is returned by Store when the session already holds a
// result. Cached results are immutable.
var ErrAlreadyCached = errors.New("session already has a cached result")

// Store is the persistence surface the cache needs.
type Store interface {
	InsertCacheEntry(ctx context.Context, row db.CacheRow) (bool, error)
	GetCacheEntry(ctx context.Context, sessionID string) (*db.CacheRow, error)
	FindCacheByFingerprints(ctx context.Context, cvHash, offerHash, considerationsHash string) (*db.CacheRow, error)
	DeleteCacheBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Entry is a decoded cached analysis outcome.
type Entry struct {
	SessionID     string
	Fingerprints  ingestion.FingerprintSet
	Comparison    *llm.ComparisonResult
	CVAnalysis    string
	OfferAnalysis string
	CreatedAt     time.Time
}

// Matches reports whether the entry was produced from the same input
// content.
func (e *Entry) Matches(fps ingestion.FingerprintSet) bool {
	return e.Fingerprints == fps
}

// Cache provides lookup and write-once storage of analysis results.
type Cache struct {
	store  Store
	maxAge time.Duration
	logger *zap.Logger
}

// New creates a Cache. maxAge bounds how long entries survive sweeps.
func New(store Store, maxAge time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: store, maxAge: maxAge, logger: logger}
}

// Lookup returns the cached entry for a session, or nil when the session
// has no entry yet.
func (c *Cache) Lookup(ctx context.Context, sessionID string) (*Entry, error) {
	row, err := c.store.GetCacheEntry(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return decodeRow(row)
}

// LookupByFingerprints finds a prior result for identical content under a
// different session. This path is best-effort: failures are logged and
// reported as a miss so they never block a fresh run.
func (c *Cache) LookupByFingerprints(ctx context.Context, fps ingestion.FingerprintSet) *Entry {
	row, err := c.store.FindCacheByFingerprints(ctx, fps.CVHash, fps.OfferHash, fps.ConsiderationsHash)
	if err != nil {
		c.logger.Warn("fingerprint lookup failed", zap.Error(err))
		return nil
	}
	if row == nil {
		return nil
	}
	entry, err := decodeRow(row)
	if err != nil {
		c.logger.Warn("cached row is undecodable", zap.String("session_id", row.SessionID), zap.Error(err))
		return nil
	}
	return entry
}

// Save stores a completed result for a session. The first write wins;
// subsequent writes return ErrAlreadyCached.
func (c *Cache) Save(ctx context.Context, entry *Entry) error {
	payload, err := json.Marshal(entry.Comparison)
	if err != nil {
		return fmt.Errorf("failed to encode comparison result: %w", err)
	}

	inserted, err := c.store.InsertCacheEntry(ctx, db.CacheRow{
		SessionID:          entry.SessionID,
		CVTextHash:         entry.Fingerprints.CVHash,
		OfferTextHash:      entry.Fingerprints.OfferHash,
		ConsiderationsHash: entry.Fingerprints.ConsiderationsHash,
		ComparisonResults:  payload,
		CVAnalysis:         entry.CVAnalysis,
		OfferAnalysis:      entry.OfferAnalysis,
	})
	if err != nil {
		return err
	}
	if !inserted {
		return ErrAlreadyCached
	}
	return nil
}

// Sweep removes entries older than the configured retention and returns
// how many were removed.
func (c *Cache) Sweep(ctx context.Context) (int64, error) {
	return c.store.DeleteCacheBefore(ctx, time.Now().Add(-c.maxAge))
}

func decodeRow(row *db.CacheRow) (*Entry, error) {
	var result llm.ComparisonResult
	if err := json.Unmarshal(row.ComparisonResults, &result); err != nil {
		return nil, fmt.Errorf("failed to decode cached comparison: %w", err)
	}
	return &Entry{
		SessionID: row.SessionID,
		Fingerprints: ingestion.FingerprintSet{
			CVHash:             row.CVTextHash,
			OfferHash:          row.OfferTextHash,
			ConsiderationsHash: row.ConsiderationsHash,
		},
		Comparison:    &result,
		CVAnalysis:    row.CVAnalysis,
		OfferAnalysis: row.OfferAnalysis,
		CreatedAt:     row.CreatedAt,
	}, nil
}
