package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/career-assistant/internal/admission"
	"github.com/jonathan/career-assistant/internal/cache"
	"github.com/jonathan/career-assistant/internal/db"
	"github.com/jonathan/career-assistant/internal/ingestion"
	"github.com/jonathan/career-assistant/internal/llm"
	"github.com/jonathan/career-assistant/internal/orchestrator"
	"github.com/jonathan/career-assistant/internal/pipeline"
	"github.com/jonathan/career-assistant/internal/registry"
)

// fakeStore backs cache and admission in memory.
type fakeStore struct {
	cacheRows map[string]db.CacheRow
	requests  int
}

func newFakeStore() *fakeStore { return &fakeStore{cacheRows: map[string]db.CacheRow{}} }

func (f *fakeStore) InsertCacheEntry(_ context.Context, row db.CacheRow) (bool, error) {
	if _, ok := f.cacheRows[row.SessionID]; ok {
		return false, nil
	}
	row.CreatedAt = time.Now()
	f.cacheRows[row.SessionID] = row
	return true, nil
}

func (f *fakeStore) GetCacheEntry(_ context.Context, sessionID string) (*db.CacheRow, error) {
	row, ok := f.cacheRows[sessionID]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (f *fakeStore) FindCacheByFingerprints(_ context.Context, cvHash, offerHash, considerationsHash string) (*db.CacheRow, error) {
	for _, row := range f.cacheRows {
		if row.CVTextHash == cvHash && row.OfferTextHash == offerHash && row.ConsiderationsHash == considerationsHash {
			r := row
			return &r, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) DeleteCacheBefore(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

func (f *fakeStore) InsertRequest(_ context.Context, _, _, _ string) error {
	f.requests++
	return nil
}

func (f *fakeStore) CountRequestsSince(_ context.Context, _ time.Time) (int64, error) {
	return int64(f.requests), nil
}

func (f *fakeStore) CountOriginRequestsSince(_ context.Context, _ string, _ time.Time) (int64, error) {
	return int64(f.requests), nil
}

func (f *fakeStore) DeleteRequestsBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakeAnalyst struct{}

func (fakeAnalyst) AnalyzeResume(_ context.Context, _ string) (string, error) {
	return "cv analysis", nil
}

func (fakeAnalyst) AnalyzeOffer(_ context.Context, _ string) (string, error) {
	return "offer analysis", nil
}

func (fakeAnalyst) Compare(_ context.Context, _, _, _ string) (*llm.ComparisonResult, error) {
	return &llm.ComparisonResult{
		Strengths:       []string{"Go"},
		Recommendation:  "hire",
		MatchPercentage: 80,
		FourWeekPlan:    "plan",
	}, nil
}

func newTestServer(t *testing.T, cfg Config) (*Server, *fakeStore) {
	t.Helper()

	store := newFakeStore()
	reg := registry.New()
	resultCache := cache.New(store, 24*time.Hour, nil)
	adm := admission.New(store, admission.Limits{
		PerOrigin: 100, Global: 100, Window: 24 * time.Hour,
	}, 30*24*time.Hour, nil)
	runner := pipeline.NewRunner(fakeAnalyst{}, reg, resultCache, nil)
	normalizer := ingestion.NewNormalizer(5*time.Second, false, nil)
	orch := orchestrator.New(normalizer, resultCache, adm, reg, runner, time.Minute, nil)

	srv := New(cfg, orch, nil)
	t.Cleanup(srv.rateLimiter.Stop)
	return srv, store
}

// submitBody builds a multipart submission form.
func submitBody(t *testing.T, fields map[string]string, cvFile string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if cvFile != "" {
		fw, err := mw.CreateFormFile("cv_file", "cv.txt")
		require.NoError(t, err)
		_, err = fw.Write([]byte(cvFile))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func doSubmit(t *testing.T, h http.Handler, fields map[string]string, cvFile string) *httptest.ResponseRecorder {
	t.Helper()

	body, contentType := submitBody(t, fields, cvFile)
	req := httptest.NewRequest(http.MethodPost, "/api/process", body)
	req.Header.Set("Content-Type", contentType)
	req.RemoteAddr = "1.2.3.4:5678"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeProcess(t *testing.T, rec *httptest.ResponseRecorder) processResponse {
	t.Helper()
	var res processResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func waitCompleted(t *testing.T, h http.Handler, processID string) statusResponse {
	t.Helper()

	var snap statusResponse
	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/api/status/"+processID, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			return false
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		return snap.Status == registry.StatusCompleted || snap.Status == registry.StatusFailed
	}, 5*time.Second, 20*time.Millisecond)
	return snap
}

func TestProcessLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	h := srv.Handler()

	rec := doSubmit(t, h, map[string]string{"job_offer_text": "Go backend role"}, "Go engineer resume")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decodeProcess(t, rec)
	assert.NotEmpty(t, res.ProcessID)
	assert.NotEmpty(t, res.SessionID)
	assert.False(t, res.FromCache)

	snap := waitCompleted(t, h, res.ProcessID)
	require.Equal(t, registry.StatusCompleted, snap.Status)
	assert.True(t, snap.CVAnalyzed)
	assert.True(t, snap.ReportGenerated)
	assert.True(t, snap.ReportAvailable)
	require.NotNil(t, snap.Results)
	assert.Equal(t, 80, snap.Results.MatchPercentage)

	// Download the report.
	req := httptest.NewRequest(http.MethodGet, "/api/download/"+res.ProcessID, nil)
	dl := httptest.NewRecorder()
	h.ServeHTTP(dl, req)
	require.Equal(t, http.StatusOK, dl.Code)
	assert.Equal(t, "application/pdf", dl.Header().Get("Content-Type"))
	assert.Contains(t, dl.Header().Get("Content-Disposition"), res.ProcessID)
	assert.Equal(t, "%PDF", dl.Body.String()[:4])
}

func TestSessionReuse(t *testing.T) {
	srv, store := newTestServer(t, Config{})
	h := srv.Handler()

	first := decodeProcess(t, doSubmit(t, h,
		map[string]string{"job_offer_text": "Go backend role"}, "Go engineer resume"))
	waitCompleted(t, h, first.ProcessID)
	chargesAfterFirst := store.requests

	rec := doSubmit(t, h, map[string]string{"session_id": first.SessionID}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	reused := decodeProcess(t, rec)
	assert.True(t, reused.FromCache)
	assert.Equal(t, first.SessionID, reused.SessionID)
	require.NotNil(t, reused.Results)
	assert.Equal(t, 80, reused.Results.MatchPercentage)
	assert.Equal(t, chargesAfterFirst, store.requests, "reuse must not charge the quota")
}

func TestSubmitValidation(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	h := srv.Handler()

	rec := doSubmit(t, h, map[string]string{
		"cv_link":        "not-a-url",
		"job_offer_text": "role",
	}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "invalid_request", env.Error)
}

func TestSubmitMissingSources(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	h := srv.Handler()

	rec := doSubmit(t, h, map[string]string{"job_offer_text": "role"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "ambiguous_input", env.Error)
	assert.NotEmpty(t, env.Suggestion)
}

func TestUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	h := srv.Handler()

	rec := doSubmit(t, h, map[string]string{"session_id": "nope"}, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "session_not_found", env.Error)
}

func TestStatusUnknownProcess(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/status/unknown", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, Config{GeminiConfigured: true})
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["gemini_configured"])
	assert.Equal(t, false, body["database_configured"])
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, Config{AllowedOrigins: []string{"https://app.example.com"}})
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/process", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	// Unlisted origins get no CORS headers.
	req = httptest.NewRequest(http.MethodOptions, "/api/process", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestBurstLimit(t *testing.T) {
	srv, _ := newTestServer(t, Config{BurstLimit: 2, BurstWindow: time.Minute})
	h := srv.Handler()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.RemoteAddr = "9.9.9.9:1000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.RemoteAddr = "9.9.9.9:1000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	h := srv.Handler()

	doSubmit(t, h, map[string]string{"job_offer_text": "Go backend role"}, "Go engineer resume")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "career_submissions_total")
}
