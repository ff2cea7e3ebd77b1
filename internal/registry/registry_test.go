package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/career-assistant/internal/llm"
)

func TestCreateAndGet(t *testing.T) {
	r := New()

	p, err := r.Create("sess-1", "1.2.3.4", "demo")
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, StatusRunning, p.Status)
	assert.Equal(t, StageUnderstandCV, p.Stage)

	got, ok := r.Get(p.ID)
	require.True(t, ok)
	assert.Equal(t, "sess-1", got.SessionID)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestSessionExclusivity(t *testing.T) {
	r := New()

	p, err := r.Create("sess-1", "1.2.3.4", "demo")
	require.NoError(t, err)

	_, err = r.Create("sess-1", "5.6.7.8", "demo")
	assert.ErrorIs(t, err, ErrSessionActive)

	id, ok := r.ActiveProcess("sess-1")
	require.True(t, ok)
	assert.Equal(t, p.ID, id)

	// Completion releases the session for a new run.
	require.NoError(t, r.Complete(p.ID, &llm.ComparisonResult{}, nil))
	_, err = r.Create("sess-1", "1.2.3.4", "demo")
	assert.NoError(t, err)
}

func TestAdvanceSetsFlags(t *testing.T) {
	r := New()
	p, err := r.Create("sess-1", "1.2.3.4", "demo")
	require.NoError(t, err)

	require.NoError(t, r.Advance(p.ID, StageUnderstandCV, StageUnderstandOffer))
	require.NoError(t, r.Advance(p.ID, StageUnderstandOffer, StageCompare))

	got, _ := r.Get(p.ID)
	assert.True(t, got.Flags.CVAnalyzed)
	assert.True(t, got.Flags.OfferAnalyzed)
	assert.False(t, got.Flags.ComparisonDone)
	assert.Equal(t, StageCompare, got.Stage)
}

func TestAdvanceRejectsFinished(t *testing.T) {
	r := New()
	p, err := r.Create("sess-1", "1.2.3.4", "demo")
	require.NoError(t, err)
	require.NoError(t, r.Fail(p.ID, "pipeline_error", "boom"))

	assert.Error(t, r.Advance(p.ID, StageUnderstandCV, StageUnderstandOffer))
}

func TestComplete(t *testing.T) {
	r := New()
	p, err := r.Create("sess-1", "1.2.3.4", "demo")
	require.NoError(t, err)

	result := &llm.ComparisonResult{MatchPercentage: 75}
	require.NoError(t, r.Complete(p.ID, result, []byte("%PDF artifact")))

	got, _ := r.Get(p.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, StageDone, got.Stage)
	assert.True(t, got.Flags.ReportGenerated)
	assert.Equal(t, 75, got.Result.MatchPercentage)
	assert.Equal(t, []byte("%PDF artifact"), got.Artifact)
	assert.False(t, got.CompletedAt.IsZero())
}

func TestFail(t *testing.T) {
	r := New()
	p, err := r.Create("sess-1", "1.2.3.4", "demo")
	require.NoError(t, err)

	require.NoError(t, r.Fail(p.ID, "pipeline_error", "model unavailable"))

	got, _ := r.Get(p.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "pipeline_error", got.ErrorKind)
	assert.Equal(t, "model unavailable", got.ErrorMessage)

	_, active := r.ActiveProcess("sess-1")
	assert.False(t, active, "failed run must release its session")
}

func TestTerminalStatesAreFinal(t *testing.T) {
	r := New()

	p, err := r.Create("sess-1", "1.2.3.4", "demo")
	require.NoError(t, err)
	require.NoError(t, r.Fail(p.ID, "pipeline_error", "run exceeded its time budget"))

	// A run goroutine returning from a long external call must not
	// resurrect a process the stall sweep already failed.
	err = r.Complete(p.ID, &llm.ComparisonResult{MatchPercentage: 80}, []byte("pdf"))
	assert.ErrorIs(t, err, ErrNotRunning)

	got, _ := r.Get(p.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "run exceeded its time budget", got.ErrorMessage)
	assert.Nil(t, got.Result)
	assert.Empty(t, got.Artifact)

	// The other direction holds too.
	done, err := r.Create("sess-2", "1.2.3.4", "demo")
	require.NoError(t, err)
	require.NoError(t, r.Complete(done.ID, &llm.ComparisonResult{}, nil))
	assert.ErrorIs(t, r.Fail(done.ID, "pipeline_error", "late"), ErrNotRunning)

	got, _ = r.Get(done.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Empty(t, got.ErrorKind)
}

func TestCreateCompleted(t *testing.T) {
	r := New()

	p := r.CreateCompleted("sess-1", "1.2.3.4", "demo",
		&llm.ComparisonResult{MatchPercentage: 90}, "cv", "offer", []byte("pdf"))

	got, ok := r.Get(p.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.True(t, got.FromCache)
	assert.True(t, got.Flags.ComparisonDone)

	// A cached completion does not reserve the session.
	_, err := r.Create("sess-1", "1.2.3.4", "demo")
	assert.NoError(t, err)
}

func TestGetReturnsCopy(t *testing.T) {
	r := New()
	p, err := r.Create("sess-1", "1.2.3.4", "demo")
	require.NoError(t, err)
	require.NoError(t, r.Complete(p.ID, &llm.ComparisonResult{MatchPercentage: 50}, []byte("abc")))

	got, _ := r.Get(p.ID)
	got.Result.MatchPercentage = 1
	got.Artifact[0] = 'x'

	again, _ := r.Get(p.ID)
	assert.Equal(t, 50, again.Result.MatchPercentage)
	assert.Equal(t, byte('a'), again.Artifact[0])
}

func TestEvict(t *testing.T) {
	r := New()
	now := time.Now()
	r.now = func() time.Time { return now }

	running, err := r.Create("sess-run", "1.2.3.4", "demo")
	require.NoError(t, err)

	finished, err := r.Create("sess-done", "1.2.3.4", "demo")
	require.NoError(t, err)
	require.NoError(t, r.Complete(finished.ID, &llm.ComparisonResult{}, nil))

	r.now = func() time.Time { return now.Add(2 * time.Hour) }
	removed := r.Evict(time.Hour)
	assert.Equal(t, 1, removed)

	_, ok := r.Get(finished.ID)
	assert.False(t, ok)
	_, ok = r.Get(running.ID)
	assert.True(t, ok, "running processes are never evicted")
}

func TestMarkStalled(t *testing.T) {
	r := New()
	now := time.Now()
	r.now = func() time.Time { return now }

	p, err := r.Create("sess-1", "1.2.3.4", "demo")
	require.NoError(t, err)

	r.now = func() time.Time { return now.Add(10 * time.Minute) }
	marked := r.MarkStalled(5*time.Minute, "pipeline_error", "run exceeded time budget")
	assert.Equal(t, 1, marked)

	got, _ := r.Get(p.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "run exceeded time budget", got.ErrorMessage)

	_, active := r.ActiveProcess("sess-1")
	assert.False(t, active)
}
