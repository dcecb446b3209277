package domain

// Status represents the task lifecycle state.
type Status string

const (
	// StatusPending means the task is in the queue waiting to be picked up.
	StatusPending Status = "pending"

	// StatusStarted means the task was dequeued and is being processed.
	StatusStarted Status = "started"

	// StatusSucceeded means the handler returned a result.
	StatusSucceeded Status = "succeeded"

	// StatusFailed means the handler returned an error.
	StatusFailed Status = "failed"

	// StatusKilled means the task was cancelled by an operator or the worker.
	StatusKilled Status = "killed"

	// StatusDead means the task stopped heartbeating and was reaped.
	StatusDead Status = "dead"
)

// Terminal returns true if the status is final and may only be removed by GC.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusKilled, StatusDead:
		return true
	default:
		return false
	}
}

// Active returns true if the task still occupies its scraper's execution slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusStarted
}
