package memory

import (
	"context"
	"sync"

	"github.com/quarryd/quarry/internal/domain"
)

// LogStore is an in-memory implementation of storage.LogStore.
type LogStore struct {
	mu    sync.RWMutex
	lines map[string][]domain.LogLine
}

// NewLogStore creates an empty in-memory log store.
func NewLogStore() *LogStore {
	return &LogStore{lines: make(map[string][]domain.LogLine)}
}

// Append assigns the next line ID within the task and persists the line.
func (s *LogStore) Append(_ context.Context, line domain.LogLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line.ID = int64(len(s.lines[line.TaskID])) + 1
	s.lines[line.TaskID] = append(s.lines[line.TaskID], line)
	return nil
}

// Read returns up to maxLines lines with ID greater than afterID.
func (s *LogStore) Read(_ context.Context, taskID string, afterID int64, maxLines int) ([]domain.LogLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := s.lines[taskID]
	if afterID < 0 {
		afterID = 0
	}
	if afterID >= int64(len(lines)) {
		return nil, nil
	}

	out := lines[afterID:]
	if maxLines > 0 && len(out) > maxLines {
		out = out[:maxLines]
	}
	result := make([]domain.LogLine, len(out))
	copy(result, out)
	return result, nil
}
