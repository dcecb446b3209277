package memory

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quarryd/quarry/internal/domain"
	"github.com/quarryd/quarry/internal/storage"
)

// pendingItem is a heap entry. seq preserves FIFO order within a priority.
type pendingItem struct {
	id       string
	priority domain.Priority
	seq      uint64
}

type pendingHeap []pendingItem

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pendingHeap) Push(x any) { *h = append(*h, x.(pendingItem)) }

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// QueueStore is an in-memory implementation of storage.QueueStore.
type QueueStore struct {
	mu        sync.Mutex
	pending   pendingHeap
	tasks     map[string]domain.Task
	byScraper map[string][]string
	seq       uint64
}

// NewQueueStore creates an empty in-memory queue store.
func NewQueueStore() *QueueStore {
	return &QueueStore{
		tasks:     make(map[string]domain.Task),
		byScraper: make(map[string][]string),
	}
}

// Enqueue assigns an ID and persists the task in PENDING state.
func (q *QueueStore) Enqueue(_ context.Context, task domain.Task) (domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task.ID = uuid.New().String()
	task.Status = domain.StatusPending
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	q.tasks[task.ID] = task
	q.byScraper[task.ScraperID] = append(q.byScraper[task.ScraperID], task.ID)
	q.seq++
	heap.Push(&q.pending, pendingItem{id: task.ID, priority: task.Priority, seq: q.seq})
	return task, nil
}

// Dequeue pops the oldest pending task of the highest non-empty priority
// and transitions it PENDING -> STARTED.
func (q *QueueStore) Dequeue(_ context.Context, order []domain.Priority) (*domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	allowed := make(map[domain.Priority]bool, len(order))
	for _, p := range order {
		allowed[p] = true
	}

	// The heap is already ordered by (priority, seq); skip entries whose
	// priority was excluded or whose task no longer exists or is not
	// pending (killed while queued, GC'd).
	var skipped []pendingItem
	defer func() {
		for _, item := range skipped {
			heap.Push(&q.pending, item)
		}
	}()

	for q.pending.Len() > 0 {
		item := heap.Pop(&q.pending).(pendingItem)
		if !allowed[item.priority] {
			skipped = append(skipped, item)
			continue
		}
		task, ok := q.tasks[item.id]
		if !ok || task.Status != domain.StatusPending {
			continue
		}

		now := time.Now().UTC()
		task.Status = domain.StatusStarted
		task.StartedAt = &now
		task.LastActiveAt = &now
		q.tasks[task.ID] = task
		return &task, nil
	}
	return nil, nil
}

// Update overwrites task metadata.
func (q *QueueStore) Update(_ context.Context, task domain.Task) (domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.tasks[task.ID]; !ok {
		return domain.Task{}, fmt.Errorf("task %s: %w", task.ID, storage.ErrNotFound)
	}
	q.tasks[task.ID] = task
	return task, nil
}

// Get returns the task or storage.ErrNotFound.
func (q *QueueStore) Get(_ context.Context, id string) (domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	return task, nil
}

// Touch refreshes last_active_at iff the task is still STARTED and returns
// its current state.
func (q *QueueStore) Touch(_ context.Context, id string, now time.Time) (domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	if task.Status == domain.StatusStarted {
		now = now.UTC()
		task.LastActiveAt = &now
		q.tasks[id] = task
	}
	return task, nil
}

// List returns every stored task.
func (q *QueueStore) List(_ context.Context) ([]domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.Task, 0, len(q.tasks))
	for _, task := range q.tasks {
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListByScraper returns a scraper's tasks, newest first.
func (q *QueueStore) ListByScraper(_ context.Context, scraperID string) ([]domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := q.byScraper[scraperID]
	out := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		if task, ok := q.tasks[id]; ok {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeleteOld keeps the keepLast most recent terminal tasks per scraper.
func (q *QueueStore) DeleteOld(_ context.Context, keepLast int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for scraperID, ids := range q.byScraper {
		var terminal []domain.Task
		for _, id := range ids {
			if task, ok := q.tasks[id]; ok && task.Status.Terminal() {
				terminal = append(terminal, task)
			}
		}
		if len(terminal) <= keepLast {
			continue
		}
		sort.Slice(terminal, func(i, j int) bool {
			return terminal[i].CreatedAt.After(terminal[j].CreatedAt)
		})
		doomed := make(map[string]bool)
		for _, task := range terminal[keepLast:] {
			doomed[task.ID] = true
			delete(q.tasks, task.ID)
		}

		kept := ids[:0]
		for _, id := range ids {
			if !doomed[id] {
				kept = append(kept, id)
			}
		}
		q.byScraper[scraperID] = kept
	}
	return nil
}

// PendingCount returns the number of pending tasks at a priority.
func (q *QueueStore) PendingCount(_ context.Context, priority domain.Priority) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var count int64
	for _, task := range q.tasks {
		if task.Priority == priority && task.Status == domain.StatusPending {
			count++
		}
	}
	return count, nil
}
