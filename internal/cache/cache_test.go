package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/career-assistant/internal/db"
	"github.com/jonathan/career-assistant/internal/ingestion"
	"github.com/jonathan/career-assistant/internal/llm"
)

// fakeStore keeps cache rows in memory.
type fakeStore struct {
	rows    map[string]db.CacheRow
	failGet error
	deleted int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]db.CacheRow{}}
}

func (f *fakeStore) InsertCacheEntry(_ context.Context, row db.CacheRow) (bool, error) {
	if _, ok := f.rows[row.SessionID]; ok {
		return false, nil
	}
	row.CreatedAt = time.Now()
	f.rows[row.SessionID] = row
	return true, nil
}

func (f *fakeStore) GetCacheEntry(_ context.Context, sessionID string) (*db.CacheRow, error) {
	if f.failGet != nil {
		return nil, f.failGet
	}
	row, ok := f.rows[sessionID]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (f *fakeStore) FindCacheByFingerprints(_ context.Context, cvHash, offerHash, considerationsHash string) (*db.CacheRow, error) {
	if f.failGet != nil {
		return nil, f.failGet
	}
	for _, row := range f.rows {
		if row.CVTextHash == cvHash && row.OfferTextHash == offerHash && row.ConsiderationsHash == considerationsHash {
			r := row
			return &r, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) DeleteCacheBefore(_ context.Context, _ time.Time) (int64, error) {
	return f.deleted, nil
}

func sampleEntry(sessionID string) *Entry {
	return &Entry{
		SessionID: sessionID,
		Fingerprints: ingestion.FingerprintSet{
			CVHash:    "cv-hash",
			OfferHash: "offer-hash",
		},
		Comparison: &llm.ComparisonResult{
			Recommendation:  "hire",
			MatchPercentage: 80,
		},
		CVAnalysis:    "cv analysis",
		OfferAnalysis: "offer analysis",
	}
}

func TestSaveAndLookup(t *testing.T) {
	c := New(newFakeStore(), time.Hour, nil)
	ctx := context.Background()

	require.NoError(t, c.Save(ctx, sampleEntry("sess-1")))

	entry, err := c.Lookup(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 80, entry.Comparison.MatchPercentage)
	assert.Equal(t, "cv analysis", entry.CVAnalysis)
	assert.True(t, entry.Matches(ingestion.FingerprintSet{CVHash: "cv-hash", OfferHash: "offer-hash"}))
	assert.False(t, entry.Matches(ingestion.FingerprintSet{CVHash: "other", OfferHash: "offer-hash"}))
}

func TestLookupMiss(t *testing.T) {
	c := New(newFakeStore(), time.Hour, nil)

	entry, err := c.Lookup(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestSaveIsWriteOnce(t *testing.T) {
	c := New(newFakeStore(), time.Hour, nil)
	ctx := context.Background()

	require.NoError(t, c.Save(ctx, sampleEntry("sess-1")))

	second := sampleEntry("sess-1")
	second.Comparison.MatchPercentage = 10
	assert.ErrorIs(t, c.Save(ctx, second), ErrAlreadyCached)

	entry, err := c.Lookup(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 80, entry.Comparison.MatchPercentage, "first write must win")
}

func TestLookupByFingerprints(t *testing.T) {
	c := New(newFakeStore(), time.Hour, nil)
	ctx := context.Background()

	require.NoError(t, c.Save(ctx, sampleEntry("sess-1")))

	entry := c.LookupByFingerprints(ctx, ingestion.FingerprintSet{CVHash: "cv-hash", OfferHash: "offer-hash"})
	require.NotNil(t, entry)
	assert.Equal(t, "sess-1", entry.SessionID)

	assert.Nil(t, c.LookupByFingerprints(ctx, ingestion.FingerprintSet{CVHash: "other"}))
}

func TestLookupByFingerprintsFailsOpen(t *testing.T) {
	store := newFakeStore()
	store.failGet = errors.New("connection refused")
	c := New(store, time.Hour, nil)

	assert.Nil(t, c.LookupByFingerprints(context.Background(), ingestion.FingerprintSet{CVHash: "cv-hash"}))
}

func TestSweep(t *testing.T) {
	store := newFakeStore()
	store.deleted = 4
	c := New(store, time.Hour, nil)

	n, err := c.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}
