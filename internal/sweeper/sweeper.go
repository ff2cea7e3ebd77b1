// Package sweeper runs the retention housekeeping: expired cache entries,
// aged request-log rows, and finished registry processes.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/career-assistant/internal/registry"
)

// CacheSweeper deletes expired result-cache entries.
type CacheSweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// LogSweeper deletes aged request-log rows.
type LogSweeper interface {
	SweepLog(ctx context.Context) (int64, error)
}

// Sweeper coordinates the retention passes.
type Sweeper struct {
	cache    CacheSweeper
	log      LogSweeper
	registry *registry.Registry

	registryMaxAge time.Duration
	runBudget      time.Duration

	cron   *cron.Cron
	logger *zap.Logger
}

// New creates a Sweeper. registryMaxAge bounds how long finished processes
// stay pollable; runBudget is the wall-clock limit after which a silent
// running process is marked failed.
func New(cacheSweeper CacheSweeper, logSweeper LogSweeper, reg *registry.Registry,
	registryMaxAge, runBudget time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		cache:          cacheSweeper,
		log:            logSweeper,
		registry:       reg,
		registryMaxAge: registryMaxAge,
		runBudget:      runBudget,
		logger:         logger,
	}
}

// RunOnce executes one full sweep. The two store deletes run concurrently;
// a failure in one does not stop the other.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	var cacheRemoved, logRemoved int64

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.cache.Sweep(gCtx)
		if err != nil {
			return fmt.Errorf("cache sweep failed: %w", err)
		}
		cacheRemoved = n
		return nil
	})
	g.Go(func() error {
		n, err := s.log.SweepLog(gCtx)
		if err != nil {
			return fmt.Errorf("request log sweep failed: %w", err)
		}
		logRemoved = n
		return nil
	})
	err := g.Wait()

	evicted := 0
	stalled := 0
	if s.registry != nil {
		evicted = s.registry.Evict(s.registryMaxAge)
		if s.runBudget > 0 {
			stalled = s.registry.MarkStalled(s.runBudget,
				"pipeline_error", "run exceeded its time budget")
		}
	}

	s.logger.Info("retention sweep finished",
		zap.Int64("cache_removed", cacheRemoved),
		zap.Int64("log_removed", logRemoved),
		zap.Int("processes_evicted", evicted),
		zap.Int("runs_marked_stalled", stalled),
		zap.Error(err))
	return err
}

// Start schedules recurring sweeps. spec accepts cron syntax or @every
// durations.
func (s *Sweeper) Start(spec string) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Warn("scheduled sweep reported errors", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule, waiting for an in-flight sweep.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
