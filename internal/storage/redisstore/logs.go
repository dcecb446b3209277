package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/quarryd/quarry/internal/domain"
)

// LogStore is a Redis-backed implementation of storage.LogStore. Lines are
// JSON blobs in a list per task; ids come from a per-task counter so readers
// can page with (task_id, after_id).
type LogStore struct {
	client *redis.Client
}

// NewLogStore creates a Redis-backed log store.
func NewLogStore(client *redis.Client) *LogStore {
	return &LogStore{client: client}
}

// Append assigns the next line ID within the task and persists the line.
func (s *LogStore) Append(ctx context.Context, line domain.LogLine) error {
	id, err := s.client.Incr(ctx, logsNextIDKey(line.TaskID)).Result()
	if err != nil {
		return fmt.Errorf("next log id for task %s: %w", line.TaskID, err)
	}
	line.ID = id

	blob, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("encode log line: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, logsKey(line.TaskID), blob)
		pipe.Expire(ctx, logsKey(line.TaskID), taskTTL)
		pipe.Expire(ctx, logsNextIDKey(line.TaskID), taskTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append log line for task %s: %w", line.TaskID, err)
	}
	return nil
}

// Read returns up to maxLines lines with ID greater than afterID. Line ids
// are one-based and dense, so the id maps directly to a list index.
func (s *LogStore) Read(ctx context.Context, taskID string, afterID int64, maxLines int) ([]domain.LogLine, error) {
	if afterID < 0 {
		afterID = 0
	}
	stop := int64(-1)
	if maxLines > 0 {
		stop = afterID + int64(maxLines) - 1
	}

	raws, err := s.client.LRange(ctx, logsKey(taskID), afterID, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read logs of task %s: %w", taskID, err)
	}
	if len(raws) == 0 {
		return nil, nil
	}

	lines := make([]domain.LogLine, 0, len(raws))
	for _, raw := range raws {
		var line domain.LogLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return nil, fmt.Errorf("decode log line of task %s: %w", taskID, err)
		}
		lines = append(lines, line)
	}
	return lines, nil
}
