// Package admission enforces the persistent submission quotas: a global
// ceiling across all origins and a per-origin ceiling, both over a rolling
// window backed by the request log.
package admission

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Store is the request-log surface the controller needs.
type Store interface {
	InsertRequest(ctx context.Context, origin, processID, userID string) error
	CountRequestsSince(ctx context.Context, since time.Time) (int64, error)
	CountOriginRequestsSince(ctx context.Context, origin string, since time.Time) (int64, error)
	DeleteRequestsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Limits configures the two quota tiers.
type Limits struct {
	PerOrigin int64
	Global    int64
	Window    time.Duration
}

// GlobalLimitError means the service-wide ceiling is exhausted.
type GlobalLimitError struct {
	Limit  int64
	Window time.Duration
}

func (e *GlobalLimitError) Error() string {
	return fmt.Sprintf("global limit of %d requests per %s reached", e.Limit, e.Window)
}

// OriginLimitError means one origin used up its quota.
type OriginLimitError struct {
	Origin string
	Limit  int64
	Window time.Duration
}

func (e *OriginLimitError) Error() string {
	return fmt.Sprintf("origin %s reached its limit of %d requests per %s", e.Origin, e.Limit, e.Window)
}

// Controller decides whether a submission may start an analysis run.
type Controller struct {
	store     Store
	limits    Limits
	logRetain time.Duration
	logger    *zap.Logger
}

// New creates a Controller. logRetain bounds how long request rows survive
// sweeps; it must cover the quota window.
func New(store Store, limits Limits, logRetain time.Duration, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{store: store, limits: limits, logRetain: logRetain, logger: logger}
}

// Check enforces both quota tiers for an origin. The global ceiling is
// evaluated before the per-origin one, so an exhausted service reports the
// global condition even to origins with personal quota left. Counting
// failures fail open: availability over strict enforcement.
func (c *Controller) Check(ctx context.Context, origin string) error {
	since := time.Now().Add(-c.limits.Window)

	total, err := c.store.CountRequestsSince(ctx, since)
	if err != nil {
		c.logger.Warn("global quota count failed, admitting request", zap.Error(err))
		return nil
	}
	if total >= c.limits.Global {
		return &GlobalLimitError{Limit: c.limits.Global, Window: c.limits.Window}
	}

	used, err := c.store.CountOriginRequestsSince(ctx, origin, since)
	if err != nil {
		c.logger.Warn("origin quota count failed, admitting request",
			zap.String("origin", origin), zap.Error(err))
		return nil
	}
	if used >= c.limits.PerOrigin {
		return &OriginLimitError{Origin: origin, Limit: c.limits.PerOrigin, Window: c.limits.Window}
	}
	return nil
}

// Record charges one admitted submission against the origin's quota.
func (c *Controller) Record(ctx context.Context, origin, processID, userID string) error {
	return c.store.InsertRequest(ctx, origin, processID, userID)
}

// SweepLog removes request rows past retention and returns how many were
// removed.
func (c *Controller) SweepLog(ctx context.Context) (int64, error) {
	return c.store.DeleteRequestsBefore(ctx, time.Now().Add(-c.logRetain))
}
