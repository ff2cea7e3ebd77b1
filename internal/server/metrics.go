package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the service counters exposed on /metrics.
type metrics struct {
	submissions   prometheus.Counter
	cacheHits     prometheus.Counter
	rejections    *prometheus.CounterVec
	runsStarted   prometheus.Counter
	runsCompleted prometheus.Counter
	stageFailures *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		submissions: f.NewCounter(prometheus.CounterOpts{
			Name: "career_submissions_total",
			Help: "Submissions received on the process endpoints.",
		}),
		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "career_cache_hits_total",
			Help: "Submissions served from the result cache.",
		}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "career_admission_rejections_total",
			Help: "Submissions rejected by the daily quotas, by tier.",
		}, []string{"tier"}),
		runsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "career_runs_started_total",
			Help: "Fresh analysis runs admitted and launched.",
		}),
		runsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "career_runs_completed_total",
			Help: "Analysis runs that reached completion.",
		}),
		stageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "career_stage_failures_total",
			Help: "Analysis runs that failed, by pipeline stage.",
		}, []string{"stage"}),
	}
}
