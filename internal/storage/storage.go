// Package storage defines the persistence contracts for scrapers, the task
// queue, leases and per-task logs. Implementations live in the memory and
// redisstore subpackages.
package storage

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/quarryd/quarry/internal/domain"
)

// ScraperFilters narrows a scraper search. Zero-value fields are ignored.
type ScraperFilters struct {
	NameContains string          `json:"name_contains,omitempty"`
	Handler      string          `json:"handler,omitempty"`
	Schedule     domain.Schedule `json:"schedule,omitempty"`
}

// Match reports whether the scraper passes every set filter. The name filter
// is a case-insensitive substring match; handler and schedule match exactly.
func (f ScraperFilters) Match(scraper domain.Scraper) bool {
	if f.NameContains != "" &&
		!strings.Contains(strings.ToLower(scraper.Name), strings.ToLower(f.NameContains)) {
		return false
	}
	if f.Handler != "" && scraper.Handler != f.Handler {
		return false
	}
	if f.Schedule != "" && scraper.Schedule != f.Schedule {
		return false
	}
	return true
}

// SortScrapers orders scrapers by name, breaking ties by id. Both backends
// return listings in this order.
func SortScrapers(scrapers []domain.Scraper) {
	sort.Slice(scrapers, func(i, j int) bool {
		if scrapers[i].Name != scrapers[j].Name {
			return scrapers[i].Name < scrapers[j].Name
		}
		return scrapers[i].ID < scrapers[j].ID
	})
}

// ScraperStore persists scraper definitions.
type ScraperStore interface {
	// List returns all scrapers ordered by name.
	List(ctx context.Context) ([]domain.Scraper, error)

	// Get returns the scraper or ErrNotFound.
	Get(ctx context.Context, id string) (domain.Scraper, error)

	// MaybeGet returns nil without error when the scraper is absent.
	MaybeGet(ctx context.Context, id string) (*domain.Scraper, error)

	// Search returns scrapers matching the filters, ordered by name.
	Search(ctx context.Context, filters ScraperFilters) ([]domain.Scraper, error)

	// Create assigns an ID and persists the scraper. Fails with ErrReadOnly
	// on read-only storage.
	Create(ctx context.Context, scraper domain.Scraper) (domain.Scraper, error)

	// Update overwrites an existing scraper. Fails with ErrNotFound or
	// ErrReadOnly.
	Update(ctx context.Context, scraper domain.Scraper) (domain.Scraper, error)

	// Delete removes the scraper and returns its last value.
	Delete(ctx context.Context, id string) (domain.Scraper, error)

	// ReadOnly reports whether mutations are allowed.
	ReadOnly() bool
}

// QueueStore persists tasks and the pending queue.
type QueueStore interface {
	// Enqueue assigns an ID and persists the task in PENDING state.
	Enqueue(ctx context.Context, task domain.Task) (domain.Task, error)

	// Dequeue scans the given priorities in order and returns the oldest
	// pending task of the highest non-empty priority, atomically
	// transitioning it PENDING -> STARTED and stamping started_at and
	// last_active_at. Returns nil when the queue is empty.
	Dequeue(ctx context.Context, order []domain.Priority) (*domain.Task, error)

	// Update overwrites task metadata. Fails with ErrNotFound.
	Update(ctx context.Context, task domain.Task) (domain.Task, error)

	// Get returns the task or ErrNotFound.
	Get(ctx context.Context, id string) (domain.Task, error)

	// Touch sets last_active_at to now iff the task is STARTED and returns
	// the task's current state. The status guard must be atomic so a
	// heartbeat cannot overwrite a concurrent terminal transition.
	Touch(ctx context.Context, id string, now time.Time) (domain.Task, error)

	// List returns every stored task.
	List(ctx context.Context) ([]domain.Task, error)

	// ListByScraper returns a scraper's tasks, newest first.
	ListByScraper(ctx context.Context, scraperID string) ([]domain.Task, error)

	// DeleteOld keeps the keepLast most recent terminal tasks per scraper
	// and deletes older terminal ones.
	DeleteOld(ctx context.Context, keepLast int) error

	// PendingCount returns the number of pending tasks at a priority.
	PendingCount(ctx context.Context, priority domain.Priority) (int64, error)
}

// LeaseStore implements a single-writer lock with TTL.
type LeaseStore interface {
	// MaybeAcquire acquires or renews the lease and returns it, or returns
	// nil when the lease is held by someone else.
	MaybeAcquire(ctx context.Context, name, owner string, ttl time.Duration) (*domain.Lease, error)

	// Release drops the lease if held by owner; otherwise it is a no-op.
	Release(ctx context.Context, name, owner string) error
}

// LogStore persists per-task log lines.
type LogStore interface {
	// Append assigns the next line ID within the task and persists the line.
	Append(ctx context.Context, line domain.LogLine) error

	// Read returns up to maxLines lines with ID greater than afterID,
	// in ascending ID order.
	Read(ctx context.Context, taskID string, afterID int64, maxLines int) ([]domain.LogLine, error)
}
