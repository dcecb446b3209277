// Package queue implements the task lifecycle on top of a storage.QueueStore:
// admission, dispatch, liveness pings and terminal transitions.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quarryd/quarry/internal/domain"
	"github.com/quarryd/quarry/internal/logger"
	"github.com/quarryd/quarry/internal/metrics"
	"github.com/quarryd/quarry/internal/storage"
)

var (
	// ErrTaskActive is returned when a scraper already has a pending or
	// started task. At most one run per scraper may be in flight.
	ErrTaskActive = errors.New("scraper already has an active task")

	// ErrTaskNotStarted is returned when pinging a task that has not been
	// picked up by a consumer yet.
	ErrTaskNotStarted = errors.New("task is not started")

	// ErrTaskFinished is returned when pinging or killing a task that has
	// already reached a terminal status.
	ErrTaskFinished = errors.New("task is finished")
)

// Queue coordinates task admission and lifecycle transitions.
type Queue struct {
	store storage.QueueStore
	log   logger.Logger
}

// New creates a queue over the given store.
func New(store storage.QueueStore, log logger.Logger) *Queue {
	return &Queue{store: store, log: log}
}

// Enqueue admits a task. A scraper may have at most one pending or started
// task at a time; ephemeral tasks are exempt because they have no shared
// scraper identity.
func (q *Queue) Enqueue(ctx context.Context, task domain.Task) (domain.Task, error) {
	if task.ScraperID != domain.EphemeralScraperID {
		history, err := q.store.ListByScraper(ctx, task.ScraperID)
		if err != nil {
			return domain.Task{}, fmt.Errorf("check active runs: %w", err)
		}
		for i := range history {
			if history[i].Status.Active() {
				return domain.Task{}, fmt.Errorf("scraper %s: %w", task.ScraperID, ErrTaskActive)
			}
		}
	}

	enqueued, err := q.store.Enqueue(ctx, task)
	if err != nil {
		return domain.Task{}, err
	}
	q.log.Info("task enqueued",
		logger.String("task_id", enqueued.ID),
		logger.String("scraper_id", enqueued.ScraperID),
		logger.String("priority", enqueued.Priority.String()))
	return enqueued, nil
}

// Dequeue claims the next pending task, highest priority first, FIFO within
// a priority. Returns nil when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*domain.Task, error) {
	return q.store.Dequeue(ctx, domain.AllPriorities())
}

// Ping refreshes the task's activity timestamp. It reports ErrTaskNotStarted
// for queued tasks and ErrTaskFinished for terminal ones, which consumers use
// as the signal to abort a run that was killed externally.
func (q *Queue) Ping(ctx context.Context, taskID string) (domain.Task, error) {
	task, err := q.store.Touch(ctx, taskID, time.Now().UTC())
	if err != nil {
		return domain.Task{}, err
	}

	switch {
	case task.Status == domain.StatusPending:
		return task, fmt.Errorf("task %s: %w", taskID, ErrTaskNotStarted)
	case task.Status.Terminal():
		return task, fmt.Errorf("task %s: %w", taskID, ErrTaskFinished)
	}
	return task, nil
}

// Finish moves a started task to a terminal status and records the result.
// A task that is already terminal is left untouched.
func (q *Queue) Finish(ctx context.Context, taskID string, status domain.Status, result string) (domain.Task, error) {
	if !status.Terminal() {
		return domain.Task{}, fmt.Errorf("status %q is not terminal", status)
	}

	task, err := q.store.Get(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if task.Status.Terminal() {
		return task, fmt.Errorf("task %s: %w", taskID, ErrTaskFinished)
	}

	now := time.Now().UTC()
	task.Status = status
	task.FinishedAt = &now
	task.Result = result
	updated, err := q.store.Update(ctx, task)
	if err != nil {
		return domain.Task{}, err
	}

	metrics.TasksTotal.WithLabelValues(string(status)).Inc()
	if updated.StartedAt != nil {
		metrics.TaskDuration.Observe(now.Sub(*updated.StartedAt).Seconds())
	}
	return updated, nil
}

// Kill marks a pending or started task as killed. Consumers notice via Ping
// and abort the run.
func (q *Queue) Kill(ctx context.Context, taskID string) (domain.Task, error) {
	task, err := q.Finish(ctx, taskID, domain.StatusKilled, "killed by request")
	if err != nil {
		return domain.Task{}, err
	}
	q.log.Info("task killed", logger.String("task_id", taskID))
	return task, nil
}

// KillDead marks started tasks without recent activity as dead and returns
// how many were reaped.
func (q *Queue) KillDead(ctx context.Context, threshold time.Duration) (int, error) {
	tasks, err := q.store.List(ctx)
	if err != nil {
		return 0, err
	}

	deadline := time.Now().UTC().Add(-threshold)
	reaped := 0
	for i := range tasks {
		task := tasks[i]
		if task.Status != domain.StatusStarted || task.LastActivity().After(deadline) {
			continue
		}
		if _, err := q.Finish(ctx, task.ID, domain.StatusDead, "no activity from consumer"); err != nil {
			if errors.Is(err, ErrTaskFinished) || errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return reaped, err
		}
		q.log.Warn("task reaped as dead",
			logger.String("task_id", task.ID),
			logger.Time("last_active_at", task.LastActivity()))
		reaped++
	}
	return reaped, nil
}

// DeleteOld trims each scraper's history to its keepLast most recent
// terminal tasks.
func (q *Queue) DeleteOld(ctx context.Context, keepLast int) error {
	return q.store.DeleteOld(ctx, keepLast)
}

// PendingCount returns the number of queued tasks at a priority.
func (q *Queue) PendingCount(ctx context.Context, priority domain.Priority) (int64, error) {
	return q.store.PendingCount(ctx, priority)
}

// Get returns a task by id.
func (q *Queue) Get(ctx context.Context, taskID string) (domain.Task, error) {
	return q.store.Get(ctx, taskID)
}

// List returns every stored task.
func (q *Queue) List(ctx context.Context) ([]domain.Task, error) {
	return q.store.List(ctx)
}

// ListByScraper returns a scraper's tasks, newest first.
func (q *Queue) ListByScraper(ctx context.Context, scraperID string) ([]domain.Task, error) {
	return q.store.ListByScraper(ctx, scraperID)
}
