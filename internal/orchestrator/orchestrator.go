// Package orchestrator is the façade behind the HTTP layer: it resolves
// input sources, arbitrates session reuse against fresh runs, consults the
// cache and the rate limiter, and launches pipeline runs.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/career-assistant/internal/admission"
	"github.com/jonathan/career-assistant/internal/cache"
	"github.com/jonathan/career-assistant/internal/ingestion"
	"github.com/jonathan/career-assistant/internal/llm"
	"github.com/jonathan/career-assistant/internal/pipeline"
	"github.com/jonathan/career-assistant/internal/registry"
	"github.com/jonathan/career-assistant/internal/report"
)

// DefaultUserID is charged when the caller does not identify itself.
const DefaultUserID = "demo"

// statusTimeoutSlack is how far past the run budget a process may still
// report running before status flips it to failed.
const statusTimeoutSlack = 30 * time.Second

// SubmitRequest is one submission, sources already parsed off the wire.
type SubmitRequest struct {
	SessionID string
	Origin    string
	UserID    string

	CVFile        []byte
	CVFileName    string
	CVContentType string
	CVLink        string

	OfferText        string
	OfferFile        []byte
	OfferFileName    string
	OfferContentType string
	OfferLink        string

	Considerations string

	OnProgress pipeline.ProgressCallback
}

func (r *SubmitRequest) hasCVSource() bool {
	return len(r.CVFile) > 0 || r.CVLink != ""
}

func (r *SubmitRequest) hasOfferSource() bool {
	return r.OfferText != "" || len(r.OfferFile) > 0 || r.OfferLink != ""
}

// SubmitResult is the immediate answer to a submission. Fresh runs carry
// only the process handle; cache hits carry the full result.
type SubmitResult struct {
	ProcessID     string
	SessionID     string
	Status        registry.Status
	FromCache     bool
	Results       *llm.ComparisonResult
	CVAnalysis    string
	OfferAnalysis string
}

// Orchestrator composes the normalizer, cache, rate limiter, registry and
// pipeline runner.
type Orchestrator struct {
	normalizer *ingestion.Normalizer
	cache      *cache.Cache
	admission  *admission.Controller
	registry   *registry.Registry
	runner     *pipeline.Runner
	timeout    time.Duration
	logger     *zap.Logger

	// launch schedules the async pipeline run. Tests replace it to run
	// inline.
	launch func(fn func())

	// Optional observability hooks, called when an async run finishes.
	OnRunCompleted func()
	OnRunFailed    func(stage registry.Stage)
}

// New wires an Orchestrator.
func New(normalizer *ingestion.Normalizer, resultCache *cache.Cache, adm *admission.Controller,
	reg *registry.Registry, runner *pipeline.Runner, timeout time.Duration, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		normalizer: normalizer,
		cache:      resultCache,
		admission:  adm,
		registry:   reg,
		runner:     runner,
		timeout:    timeout,
		logger:     logger,
		launch:     func(fn func()) { go fn() },
	}
}

// Submit handles one submission. A session_id requests reuse of a stored
// result and cannot be combined with fresh content; fresh content starts a
// new run under a server-generated session.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if req.UserID == "" {
		req.UserID = DefaultUserID
	}

	if req.SessionID != "" {
		if req.hasCVSource() || req.hasOfferSource() {
			return nil, invalidRequest("session_id cannot be combined with fresh documents; send one or the other")
		}
		return o.reuse(ctx, req)
	}

	if !req.hasCVSource() {
		return nil, ambiguousInput("no résumé provided", "attach a résumé file or supply cv_link")
	}
	if !req.hasOfferSource() {
		return nil, ambiguousInput("no job offer provided", "supply job_offer_text, a file, or job_offer_link")
	}

	inputs, err := o.resolveInputs(ctx, req)
	if err != nil {
		return nil, err
	}

	// Identical content submitted before under another session serves the
	// stored result without charging a run. Best-effort only.
	if entry := o.cache.LookupByFingerprints(ctx, inputs.Fingerprints); entry != nil {
		return o.fromEntry(req, entry), nil
	}

	if err := o.admission.Check(ctx, req.Origin); err != nil {
		return nil, mapAdmissionError(err)
	}

	sessionID := uuid.NewString()
	proc, err := o.registry.Create(sessionID, req.Origin, req.UserID)
	if err != nil {
		return nil, internalError("failed to register process", err)
	}

	if err := o.admission.Record(ctx, req.Origin, proc.ID, req.UserID); err != nil {
		// Fail open, same as counting: a run is better than a lost request.
		o.logger.Warn("failed to record admission charge",
			zap.String("origin", req.Origin), zap.Error(err))
	}

	inputs.SessionID = sessionID
	opts := pipeline.RunOptions{
		ProcessID:  proc.ID,
		Inputs:     inputs,
		Timeout:    o.timeout,
		OnProgress: req.OnProgress,
	}
	o.launch(func() {
		// Detached from the request context: the run outlives the HTTP
		// exchange that started it.
		if err := o.runner.Run(context.Background(), opts); err != nil {
			o.logger.Error("pipeline run failed",
				zap.String("process_id", proc.ID), zap.Error(err))
			if o.OnRunFailed != nil {
				var stageErr *pipeline.StageError
				stage := registry.StageUnderstandCV
				if errors.As(err, &stageErr) {
					stage = stageErr.Stage
				}
				o.OnRunFailed(stage)
			}
			return
		}
		if o.OnRunCompleted != nil {
			o.OnRunCompleted()
		}
	})

	return &SubmitResult{
		ProcessID: proc.ID,
		SessionID: sessionID,
		Status:    registry.StatusRunning,
	}, nil
}

// Status returns a snapshot of a process. Runs stuck past their wall-clock
// budget are flipped to failed so pollers never hang on a dead goroutine.
func (o *Orchestrator) Status(_ context.Context, processID string) (*registry.Process, error) {
	p, ok := o.registry.Get(processID)
	if !ok {
		return nil, notFound(processID)
	}
	if p.Status == registry.StatusRunning && o.timeout > 0 &&
		time.Since(p.StartedAt) > o.timeout+statusTimeoutSlack {
		_ = o.registry.Fail(processID, string(KindPipeline), "run exceeded its time budget")
		if refreshed, ok := o.registry.Get(processID); ok {
			p = refreshed
		}
	}
	return p, nil
}

// Download returns the report artifact for a completed process.
func (o *Orchestrator) Download(_ context.Context, processID string) ([]byte, error) {
	p, ok := o.registry.Get(processID)
	if !ok {
		return nil, notFound(processID)
	}
	switch p.Status {
	case registry.StatusRunning:
		return nil, notFound(processID)
	case registry.StatusFailed:
		return nil, artifactUnavailable(processID)
	}
	if len(p.Artifact) == 0 {
		return nil, artifactUnavailable(processID)
	}
	return p.Artifact, nil
}

// reuse serves a stored result for an existing session. No admission
// charge, no pipeline run.
func (o *Orchestrator) reuse(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	entry, err := o.cache.Lookup(ctx, req.SessionID)
	if err != nil {
		return nil, internalError("cache lookup failed", err)
	}
	if entry == nil {
		return nil, sessionNotFound(req.SessionID)
	}
	return o.fromEntry(req, entry), nil
}

// fromEntry registers an already-completed process backed by a cache entry
// so status and download work for it like for any run. The report is
// re-rendered from the stored analyses; a rendering failure only costs the
// download, never the result.
func (o *Orchestrator) fromEntry(req SubmitRequest, entry *cache.Entry) *SubmitResult {
	artifact, err := report.Render(report.Input{
		Comparison:    entry.Comparison,
		CVAnalysis:    entry.CVAnalysis,
		OfferAnalysis: entry.OfferAnalysis,
		GeneratedAt:   time.Now(),
	})
	if err != nil {
		o.logger.Warn("failed to re-render report for cached result",
			zap.String("session_id", entry.SessionID), zap.Error(err))
		artifact = nil
	}

	p := o.registry.CreateCompleted(entry.SessionID, req.Origin, req.UserID,
		entry.Comparison, entry.CVAnalysis, entry.OfferAnalysis, artifact)

	return &SubmitResult{
		ProcessID:     p.ID,
		SessionID:     entry.SessionID,
		Status:        registry.StatusCompleted,
		FromCache:     true,
		Results:       entry.Comparison,
		CVAnalysis:    entry.CVAnalysis,
		OfferAnalysis: entry.OfferAnalysis,
	}
}

// resolveInputs normalizes the chosen sources into pipeline inputs.
// Résumé precedence: file over link. Offer precedence: text, file, link.
func (o *Orchestrator) resolveInputs(ctx context.Context, req SubmitRequest) (pipeline.Inputs, error) {
	var inputs pipeline.Inputs

	var cvText string
	var err error
	switch {
	case len(req.CVFile) > 0:
		cvText, err = o.normalizer.FromFile(req.CVFile, req.CVContentType, req.CVFileName)
		if err != nil {
			return inputs, ingestionError("could not read the résumé file", err)
		}
	default:
		cvText, err = o.normalizer.FromLink(ctx, req.CVLink)
		if err != nil {
			return inputs, ingestionError("could not fetch the résumé link", err)
		}
	}

	var offerText string
	switch {
	case req.OfferText != "":
		offerText = o.normalizer.FromText(req.OfferText)
	case len(req.OfferFile) > 0:
		offerText, err = o.normalizer.FromFile(req.OfferFile, req.OfferContentType, req.OfferFileName)
		if err != nil {
			return inputs, ingestionError("could not read the job offer file", err)
		}
	default:
		offerText, err = o.normalizer.FromLink(ctx, req.OfferLink)
		if err != nil {
			return inputs, ingestionError("could not fetch the job offer link", err)
		}
	}

	if cvText == "" {
		return inputs, ingestionError("the résumé contained no extractable text", nil)
	}
	if offerText == "" {
		return inputs, ingestionError("the job offer contained no extractable text", nil)
	}

	considerations := o.normalizer.FromText(req.Considerations)

	inputs.CVText = cvText
	inputs.OfferText = offerText
	inputs.Considerations = considerations
	inputs.Fingerprints = ingestion.FingerprintSet{
		CVHash:    ingestion.Fingerprint(cvText),
		OfferHash: ingestion.Fingerprint(offerText),
	}
	if considerations != "" {
		inputs.Fingerprints.ConsiderationsHash = ingestion.Fingerprint(considerations)
	}
	return inputs, nil
}

func mapAdmissionError(err error) error {
	var globalErr *admission.GlobalLimitError
	if errors.As(err, &globalErr) {
		return &Error{
			Kind:       KindGlobalRateLimit,
			Message:    globalErr.Error(),
			Suggestion: "the service-wide daily quota is used up; try again tomorrow",
			Err:        err,
		}
	}
	var originErr *admission.OriginLimitError
	if errors.As(err, &originErr) {
		return &Error{
			Kind:       KindOriginRateLimit,
			Message:    originErr.Error(),
			Suggestion: "reuse a previous session_id or try again tomorrow",
			Err:        err,
		}
	}
	return internalError("admission check failed", err)
}
