// Package metrics exposes Prometheus counters for the orchestration layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmissionsTotal counts accepted submissions by model.
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_submissions_total",
		Help: "Generation jobs accepted for processing.",
	}, []string{"model"})

	// JobOutcomesTotal counts jobs reaching a terminal state.
	JobOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_job_outcomes_total",
		Help: "Generation jobs by terminal state.",
	}, []string{"state"})

	// QuotaRejectionsTotal counts submissions refused for exhausted quota.
	QuotaRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "generation_quota_rejections_total",
		Help: "Submissions rejected because the client quota was exhausted.",
	})

	// RoutingRejectionsTotal counts submissions with no matching adapter.
	RoutingRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "generation_routing_rejections_total",
		Help: "Submissions rejected for an unsupported model identifier.",
	})
)
