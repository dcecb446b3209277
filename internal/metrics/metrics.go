// Package metrics exposes the Prometheus collectors for the queue,
// scheduler and scraping pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PendingTasks tracks the number of queued tasks per priority.
	PendingTasks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pending_tasks",
		Help: "Number of pending tasks per priority.",
	}, []string{"priority"})

	// ActiveTasks tracks the number of tasks currently being executed.
	ActiveTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "active_tasks",
		Help: "Number of tasks currently being executed.",
	})

	// TasksTotal counts finished tasks by terminal status.
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tasks_total",
		Help: "Total number of finished tasks by status.",
	}, []string{"status"})

	// TaskDuration observes wall-clock task execution time.
	TaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "task_duration_seconds",
		Help:    "Task execution time in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// MiddlewareInvocations counts middleware hook invocations.
	MiddlewareInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "middleware_invocations_total",
		Help: "Total number of middleware hook invocations.",
	}, []string{"name", "stage"})

	// SchedulerLeaseOwned reports whether this node holds the scheduler lease.
	SchedulerLeaseOwned = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_lease_owned",
		Help: "Whether this node currently holds the scheduler lease.",
	})
)
