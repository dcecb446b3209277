package domain

import "time"

// EphemeralScraperID marks tasks that are not linked to a persisted scraper.
const EphemeralScraperID = "ephemeral"

// Task is a single queued or executing run of a handler.
// Handler and Config are captured at enqueue time and immutable thereafter.
type Task struct {
	ID        string        `json:"id"`
	ScraperID string        `json:"scraper_id"`
	Handler   string        `json:"handler"`
	Config    ScraperConfig `json:"config"`
	Priority  Priority      `json:"priority"`
	Status    Status        `json:"status"`

	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`

	// Result holds the handler's success string or a failure summary.
	// Only meaningful once the task is terminal.
	Result string `json:"result,omitempty"`

	// Timeout bounds the whole run; zero means unlimited.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// LastActivity returns the most recent activity timestamp of the task,
// falling back through started and created times. Used by the reaper.
func (t *Task) LastActivity() time.Time {
	if t.LastActiveAt != nil {
		return *t.LastActiveAt
	}
	if t.StartedAt != nil {
		return *t.StartedAt
	}
	return t.CreatedAt
}

// Lease is a time-bounded exclusive claim on a named resource.
type Lease struct {
	Name          string    `json:"name"`
	Owner         string    `json:"owner"`
	AcquiredAt    time.Time `json:"acquired_at"`
	AcquiredUntil time.Time `json:"acquired_until"`
}

// Expired reports whether the lease has lapsed at the given instant.
func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.AcquiredUntil)
}

// LogLine is a single per-task log entry. IDs increase monotonically
// within a task so readers can page with (task_id, after_id).
type LogLine struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}
