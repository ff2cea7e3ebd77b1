// Package pipeline provides the high-level orchestration of one analysis
// run: understanding both documents, comparing them and rendering the
// report, with every transition reflected in the process registry.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/career-assistant/internal/cache"
	"github.com/jonathan/career-assistant/internal/ingestion"
	"github.com/jonathan/career-assistant/internal/llm"
	"github.com/jonathan/career-assistant/internal/logger"
	"github.com/jonathan/career-assistant/internal/registry"
	"github.com/jonathan/career-assistant/internal/report"
)

// Analyst is the model-facing capability the pipeline drives.
type Analyst interface {
	AnalyzeResume(ctx context.Context, cvText string) (string, error)
	AnalyzeOffer(ctx context.Context, offerText string) (string, error)
	Compare(ctx context.Context, cvAnalysis, offerAnalysis, considerations string) (*llm.ComparisonResult, error)
}

// ProgressEvent represents a progress update during a run.
type ProgressEvent struct {
	ProcessID string         `json:"process_id"`
	Stage     registry.Stage `json:"stage"`
	Message   string         `json:"message"`
}

// ProgressCallback is called as stages finish.
type ProgressCallback func(event ProgressEvent)

// StageError reports which stage a run died in.
type StageError struct {
	Stage registry.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Inputs is the normalized material one run operates on.
type Inputs struct {
	SessionID      string
	CVText         string
	OfferText      string
	Considerations string
	Fingerprints   ingestion.FingerprintSet
}

// RunOptions holds configuration for running the pipeline.
type RunOptions struct {
	ProcessID  string
	Inputs     Inputs
	Timeout    time.Duration
	OnProgress ProgressCallback
}

// next returns the stage that follows a completed one.
func next(s registry.Stage) registry.Stage {
	switch s {
	case registry.StageUnderstandCV:
		return registry.StageUnderstandOffer
	case registry.StageUnderstandOffer:
		return registry.StageCompare
	case registry.StageCompare:
		return registry.StageGenerateReport
	default:
		return registry.StageDone
	}
}

// Runner executes analysis runs.
type Runner struct {
	analyst  Analyst
	registry *registry.Registry
	cache    *cache.Cache
	logger   *zap.Logger
}

// NewRunner creates a Runner. cache may be nil when persistence is off.
func NewRunner(analyst Analyst, reg *registry.Registry, resultCache *cache.Cache, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{analyst: analyst, registry: reg, cache: resultCache, logger: logger}
}

// Run drives a process through all four stages. On any stage failure the
// process is marked failed and a StageError is returned; on success the
// result is cached and the process completed with the report artifact.
func (r *Runner) Run(ctx context.Context, opts RunOptions) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	log := r.logger.With(
		zap.String("process_id", opts.ProcessID),
		zap.String("session_id", opts.Inputs.SessionID))

	cvAnalysis, err := r.analyst.AnalyzeResume(ctx, opts.Inputs.CVText)
	if err != nil {
		return r.fail(opts, log, registry.StageUnderstandCV, err)
	}
	_ = r.registry.SetAnalyses(opts.ProcessID, cvAnalysis, "")
	log.Debug("resume analyzed", zap.String("analysis", logger.Truncate(cvAnalysis, 200)))
	r.advance(opts, log, registry.StageUnderstandCV, "resume understood")

	offerAnalysis, err := r.analyst.AnalyzeOffer(ctx, opts.Inputs.OfferText)
	if err != nil {
		return r.fail(opts, log, registry.StageUnderstandOffer, err)
	}
	_ = r.registry.SetAnalyses(opts.ProcessID, "", offerAnalysis)
	log.Debug("job offer analyzed", zap.String("analysis", logger.Truncate(offerAnalysis, 200)))
	r.advance(opts, log, registry.StageUnderstandOffer, "job offer understood")

	result, err := r.analyst.Compare(ctx, cvAnalysis, offerAnalysis, opts.Inputs.Considerations)
	if err != nil {
		return r.fail(opts, log, registry.StageCompare, err)
	}
	r.advance(opts, log, registry.StageCompare, "comparison complete")

	artifact, err := report.Render(report.Input{
		Comparison:     result,
		CVAnalysis:     cvAnalysis,
		OfferAnalysis:  offerAnalysis,
		Considerations: opts.Inputs.Considerations,
		GeneratedAt:    time.Now(),
	})
	if err != nil {
		return r.fail(opts, log, registry.StageGenerateReport, err)
	}
	r.advance(opts, log, registry.StageGenerateReport, "report rendered")

	// Persist before completing so a status flip never precedes the
	// cached row. Duplicate writes lose quietly; other failures only
	// cost future cache hits.
	if r.cache != nil {
		saveErr := r.cache.Save(ctx, &cache.Entry{
			SessionID:     opts.Inputs.SessionID,
			Fingerprints:  opts.Inputs.Fingerprints,
			Comparison:    result,
			CVAnalysis:    cvAnalysis,
			OfferAnalysis: offerAnalysis,
		})
		if saveErr != nil && !errors.Is(saveErr, cache.ErrAlreadyCached) {
			log.Warn("failed to cache result", zap.Error(saveErr))
		}
	}

	if err := r.registry.Complete(opts.ProcessID, result, artifact); err != nil {
		if errors.Is(err, registry.ErrNotRunning) {
			// The process was finalized while we were inside an external
			// call (stall sweep or a status-poll timeout). The failed
			// verdict stands; the late result is discarded.
			log.Warn("process already finalized, discarding late result")
			return nil
		}
		return fmt.Errorf("failed to complete process: %w", err)
	}
	log.Info("analysis run completed", zap.Int("match_percentage", result.MatchPercentage))
	return nil
}

func (r *Runner) advance(opts RunOptions, log *zap.Logger, completed registry.Stage, message string) {
	if err := r.registry.Advance(opts.ProcessID, completed, next(completed)); err != nil {
		log.Warn("failed to advance process", zap.String("stage", string(completed)), zap.Error(err))
	}
	log.Info("stage finished", zap.String("stage", string(completed)))
	if opts.OnProgress != nil {
		opts.OnProgress(ProgressEvent{
			ProcessID: opts.ProcessID,
			Stage:     completed,
			Message:   message,
		})
	}
}

func (r *Runner) fail(opts RunOptions, log *zap.Logger, stage registry.Stage, err error) error {
	kind := "pipeline_error"
	message := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		message = fmt.Sprintf("run exceeded its time budget in stage %s", stage)
	}
	if markErr := r.registry.Fail(opts.ProcessID, kind, message); markErr != nil {
		log.Warn("failed to mark process failed", zap.Error(markErr))
	}
	log.Error("analysis run failed", zap.String("stage", string(stage)), zap.Error(err))
	return &StageError{Stage: stage, Err: err}
}
