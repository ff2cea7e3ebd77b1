// Package registry tracks in-flight and recently finished analysis
// processes in memory. It is the source of truth for status polling and
// artifact downloads.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/career-assistant/internal/llm"
)

// Stage identifies one step of the analysis run.
type Stage string

// Stages in execution order.
const (
	StageUnderstandCV    Stage = "understanding_cv"
	StageUnderstandOffer Stage = "understanding_offer"
	StageCompare         Stage = "comparing"
	StageGenerateReport  Stage = "generating_report"
	StageDone            Stage = "done"
)

// Status is the lifecycle state of a process.
type Status string

// Process lifecycle states.
const (
	StatusRunning   Status = "processing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "error"
)

// StageFlags records which stages have finished, in the shape status
// clients consume.
type StageFlags struct {
	CVAnalyzed      bool `json:"cv_analyzed"`
	OfferAnalyzed   bool `json:"offer_analyzed"`
	ComparisonDone  bool `json:"comparison_done"`
	ReportGenerated bool `json:"report_generated"`
}

// Process is one analysis run. Fields are guarded by the registry mutex;
// callers only ever see copies.
type Process struct {
	ID        string
	SessionID string
	Origin    string
	UserID    string

	Status Status
	Stage  Stage
	Flags  StageFlags

	Result        *llm.ComparisonResult
	CVAnalysis    string
	OfferAnalysis string
	FromCache     bool

	ErrorKind    string
	ErrorMessage string

	Artifact []byte

	StartedAt   time.Time
	CompletedAt time.Time
}

// Registry errors.
var (
	ErrNotFound      = errors.New("process not found")
	ErrNotRunning    = errors.New("process is not running")
	ErrSessionActive = errors.New("session already has an active run")
)

// Registry is a concurrency-safe map of processes plus the set of sessions
// with an active run.
type Registry struct {
	mu        sync.RWMutex
	processes map[string]*Process
	active    map[string]string // session_id -> process_id
	now       func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		processes: make(map[string]*Process),
		active:    make(map[string]string),
		now:       time.Now,
	}
}

// Create registers a new running process for a session and reserves the
// session. A session can hold at most one active run.
func (r *Registry) Create(sessionID, origin, userID string) (*Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.active[sessionID]; busy {
		return nil, ErrSessionActive
	}

	p := &Process{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Origin:    origin,
		UserID:    userID,
		Status:    StatusRunning,
		Stage:     StageUnderstandCV,
		StartedAt: r.now(),
	}
	r.processes[p.ID] = p
	r.active[sessionID] = p.ID
	return copyProcess(p), nil
}

// CreateCompleted registers a process that is already finished. Used when
// a cached result satisfies a submission without running the pipeline.
func (r *Registry) CreateCompleted(sessionID, origin, userID string, result *llm.ComparisonResult, cvAnalysis, offerAnalysis string, artifact []byte) *Process {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	p := &Process{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Origin:    origin,
		UserID:    userID,
		Status:    StatusCompleted,
		Stage:     StageDone,
		Flags: StageFlags{
			CVAnalyzed:      true,
			OfferAnalyzed:   true,
			ComparisonDone:  true,
			ReportGenerated: true,
		},
		Result:        result,
		CVAnalysis:    cvAnalysis,
		OfferAnalysis: offerAnalysis,
		FromCache:     true,
		Artifact:      artifact,
		StartedAt:     now,
		CompletedAt:   now,
	}
	r.processes[p.ID] = p
	return copyProcess(p)
}

// Advance marks the current stage finished and moves the process to the
// next one. Only running processes advance.
func (r *Registry) Advance(processID string, completed Stage, next Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.processes[processID]
	if !ok {
		return ErrNotFound
	}
	if p.Status != StatusRunning {
		return ErrNotRunning
	}

	switch completed {
	case StageUnderstandCV:
		p.Flags.CVAnalyzed = true
	case StageUnderstandOffer:
		p.Flags.OfferAnalyzed = true
	case StageCompare:
		p.Flags.ComparisonDone = true
	case StageGenerateReport:
		p.Flags.ReportGenerated = true
	}
	p.Stage = next
	return nil
}

// SetAnalyses stores the intermediate stage outputs on the process.
func (r *Registry) SetAnalyses(processID, cvAnalysis, offerAnalysis string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.processes[processID]
	if !ok {
		return ErrNotFound
	}
	if cvAnalysis != "" {
		p.CVAnalysis = cvAnalysis
	}
	if offerAnalysis != "" {
		p.OfferAnalysis = offerAnalysis
	}
	return nil
}

// Complete finishes a process successfully and releases its session.
// Terminal states are final: a process already completed or failed (for
// example marked stalled while its goroutine sat in an external call) is
// left untouched.
func (r *Registry) Complete(processID string, result *llm.ComparisonResult, artifact []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.processes[processID]
	if !ok {
		return ErrNotFound
	}
	if p.Status != StatusRunning {
		return ErrNotRunning
	}
	p.Status = StatusCompleted
	p.Stage = StageDone
	p.Flags = StageFlags{CVAnalyzed: true, OfferAnalyzed: true, ComparisonDone: true, ReportGenerated: true}
	p.Result = result
	p.Artifact = artifact
	p.CompletedAt = r.now()
	r.release(p)
	return nil
}

// Fail finishes a process with an error and releases its session.
// Already-terminal processes are left untouched.
func (r *Registry) Fail(processID, kind, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.processes[processID]
	if !ok {
		return ErrNotFound
	}
	if p.Status != StatusRunning {
		return ErrNotRunning
	}
	p.Status = StatusFailed
	p.ErrorKind = kind
	p.ErrorMessage = message
	p.CompletedAt = r.now()
	r.release(p)
	return nil
}

// Get returns a copy of a process, if present.
func (r *Registry) Get(processID string) (*Process, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.processes[processID]
	if !ok {
		return nil, false
	}
	return copyProcess(p), true
}

// ActiveProcess returns the process ID currently running for a session.
func (r *Registry) ActiveProcess(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.active[sessionID]
	return id, ok
}

// Evict drops finished processes older than maxAge and returns how many
// were removed. Running processes are never evicted.
func (r *Registry) Evict(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxAge)
	removed := 0
	for id, p := range r.processes {
		if p.Status == StatusRunning {
			continue
		}
		if p.CompletedAt.Before(cutoff) {
			delete(r.processes, id)
			removed++
		}
	}
	return removed
}

// MarkStalled fails running processes that started before the deadline.
// Covers runs whose goroutine died without reporting.
func (r *Registry) MarkStalled(maxRuntime time.Duration, kind, message string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxRuntime)
	marked := 0
	for _, p := range r.processes {
		if p.Status != StatusRunning || !p.StartedAt.Before(cutoff) {
			continue
		}
		p.Status = StatusFailed
		p.ErrorKind = kind
		p.ErrorMessage = message
		p.CompletedAt = r.now()
		r.release(p)
		marked++
	}
	return marked
}

// release frees the session reservation held by p. Caller holds the lock.
func (r *Registry) release(p *Process) {
	if id, ok := r.active[p.SessionID]; ok && id == p.ID {
		delete(r.active, p.SessionID)
	}
}

func copyProcess(p *Process) *Process {
	cp := *p
	if p.Result != nil {
		result := *p.Result
		cp.Result = &result
	}
	if p.Artifact != nil {
		cp.Artifact = append([]byte(nil), p.Artifact...)
	}
	return &cp
}
