package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/quarryd/quarry/internal/domain"
	"github.com/quarryd/quarry/internal/storage"
)

// Task hash fields. The data field holds the JSON blob exactly as Go wrote
// it; status and the activity timestamps live beside it so scripts can claim
// and refresh a task without re-encoding the blob (Lua's cjson is not
// round-trip safe: empty objects re-encode as arrays and large integers are
// rendered in scientific notation).
const (
	fieldData         = "data"
	fieldStatus       = "status"
	fieldStartedAt    = "started_at"
	fieldLastActiveAt = "last_active_at"
)

// dequeueScript pops pending task ids off the priority queues in the given
// key order and claims the first task that is still pending by flipping its
// status field and stamping the activity timestamps, returning the data blob
// untouched. Ids whose task vanished or was finished while queued are
// discarded.
var dequeueScript = redis.NewScript(`
	for i = 1, #KEYS do
		while true do
			local id = redis.call("rpop", KEYS[i])
			if not id then
				break
			end
			local key = ARGV[1] .. id
			local task = redis.call("hmget", key, "status", "data")
			if task[1] == "pending" and task[2] then
				redis.call("hset", key,
					"status", "started",
					"started_at", ARGV[2],
					"last_active_at", ARGV[2])
				redis.call("expire", key, ARGV[3])
				return task[2]
			end
		end
	end
	return false
`)

// touchScript refreshes last_active_at only while the task is still started,
// so a heartbeat can never overwrite a concurrent kill, and returns the
// task's current fields.
var touchScript = redis.NewScript(`
	local vals = redis.call("hmget", KEYS[1], "data", "status", "started_at", "last_active_at")
	if not vals[1] then
		return false
	end
	if vals[2] == "started" then
		redis.call("hset", KEYS[1], "last_active_at", ARGV[1])
		vals[4] = ARGV[1]
	end
	return vals
`)

// QueueStore is a Redis-backed implementation of storage.QueueStore.
// Tasks live as hashes under tasks:{id} (blob plus claim fields); pending ids
// sit in one list per priority and every task is indexed in a per-scraper
// sorted set scored by creation time.
type QueueStore struct {
	client *redis.Client
}

// NewQueueStore creates a Redis-backed queue store.
func NewQueueStore(client *redis.Client) *QueueStore {
	return &QueueStore{client: client}
}

// Enqueue assigns an ID and persists the task in PENDING state.
func (q *QueueStore) Enqueue(ctx context.Context, task domain.Task) (domain.Task, error) {
	task.ID = uuid.New().String()
	task.Status = domain.StatusPending
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	blob, err := json.Marshal(task)
	if err != nil {
		return domain.Task{}, fmt.Errorf("encode task: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, taskKey(task.ID), fieldData, blob, fieldStatus, string(task.Status))
		pipe.Expire(ctx, taskKey(task.ID), taskTTL)
		pipe.LPush(ctx, queueKey(task.Priority), task.ID)
		pipe.ZAdd(ctx, byScraperKey(task.ScraperID), redis.Z{
			Score:  float64(task.CreatedAt.UnixNano()),
			Member: task.ID,
		})
		return nil
	})
	if err != nil {
		return domain.Task{}, fmt.Errorf("enqueue task: %w", err)
	}
	return task, nil
}

// Dequeue scans the priority queues in the given order and claims the oldest
// pending task of the highest non-empty priority. Returns nil when all queues
// are empty.
func (q *QueueStore) Dequeue(ctx context.Context, order []domain.Priority) (*domain.Task, error) {
	keys := make([]string, len(order))
	for i, p := range order {
		keys[i] = queueKey(p)
	}
	now := time.Now().UTC()

	raw, err := dequeueScript.Run(ctx, q.client, keys,
		taskKeyPrefix, now.Format(time.RFC3339Nano), int64(taskTTL.Seconds())).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	var task domain.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, fmt.Errorf("decode dequeued task: %w", err)
	}
	task.Status = domain.StatusStarted
	task.StartedAt = &now
	task.LastActiveAt = &now
	return &task, nil
}

// Update overwrites task metadata, refreshing the claim fields and the TTL.
func (q *QueueStore) Update(ctx context.Context, task domain.Task) (domain.Task, error) {
	exists, err := q.client.HExists(ctx, taskKey(task.ID), fieldData).Result()
	if err != nil {
		return domain.Task{}, fmt.Errorf("update task %s: %w", task.ID, err)
	}
	if !exists {
		return domain.Task{}, fmt.Errorf("task %s: %w", task.ID, storage.ErrNotFound)
	}

	blob, err := json.Marshal(task)
	if err != nil {
		return domain.Task{}, fmt.Errorf("encode task %s: %w", task.ID, err)
	}
	fields := []any{fieldData, blob, fieldStatus, string(task.Status)}
	if task.StartedAt != nil {
		fields = append(fields, fieldStartedAt, task.StartedAt.Format(time.RFC3339Nano))
	}
	if task.LastActiveAt != nil {
		fields = append(fields, fieldLastActiveAt, task.LastActiveAt.Format(time.RFC3339Nano))
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, taskKey(task.ID), fields...)
		pipe.Expire(ctx, taskKey(task.ID), taskTTL)
		return nil
	})
	if err != nil {
		return domain.Task{}, fmt.Errorf("update task %s: %w", task.ID, err)
	}
	return task, nil
}

// Get returns the task or storage.ErrNotFound.
func (q *QueueStore) Get(ctx context.Context, id string) (domain.Task, error) {
	vals, err := q.client.HMGet(ctx, taskKey(id),
		fieldData, fieldStatus, fieldStartedAt, fieldLastActiveAt).Result()
	if err != nil {
		return domain.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	task, err := decodeTaskFields(id, vals)
	if err != nil {
		return domain.Task{}, err
	}
	if task == nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	return *task, nil
}

// Touch refreshes last_active_at iff the task is still STARTED and returns
// its current state. The guard runs server-side so a concurrent kill can
// never be overwritten by a heartbeat.
func (q *QueueStore) Touch(ctx context.Context, id string, now time.Time) (domain.Task, error) {
	vals, err := touchScript.Run(ctx, q.client, []string{taskKey(id)},
		now.UTC().Format(time.RFC3339Nano)).Slice()
	if errors.Is(err, redis.Nil) {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("touch task %s: %w", id, err)
	}
	task, err := decodeTaskFields(id, vals)
	if err != nil {
		return domain.Task{}, err
	}
	if task == nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	return *task, nil
}

// List returns every stored task, oldest first.
func (q *QueueStore) List(ctx context.Context) ([]domain.Task, error) {
	var keys []string
	iter := q.client.Scan(ctx, 0, taskKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if !strings.HasPrefix(iter.Val(), "tasks:by_scraper:") {
			keys = append(keys, iter.Val())
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	ids := make([]string, len(keys))
	for i, key := range keys {
		ids[i] = strings.TrimPrefix(key, taskKeyPrefix)
	}
	tasks, _, err := q.fetch(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks, nil
}

// ListByScraper returns a scraper's tasks, newest first.
func (q *QueueStore) ListByScraper(ctx context.Context, scraperID string) ([]domain.Task, error) {
	ids, err := q.client.ZRevRange(ctx, byScraperKey(scraperID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list tasks of scraper %s: %w", scraperID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	tasks, missing, err := q.fetch(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch tasks of scraper %s: %w", scraperID, err)
	}
	if len(missing) > 0 {
		// Blobs expired; drop the stale index entries.
		q.client.ZRem(ctx, byScraperKey(scraperID), missing...)
	}
	return tasks, nil
}

// fetch loads tasks by id in one round trip, reporting ids whose hash is
// gone separately.
func (q *QueueStore) fetch(ctx context.Context, ids []string) ([]domain.Task, []any, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}

	pipe := q.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, taskKey(id),
			fieldData, fieldStatus, fieldStartedAt, fieldLastActiveAt)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, nil, fmt.Errorf("fetch tasks: %w", err)
	}

	tasks := make([]domain.Task, 0, len(ids))
	var missing []any
	for i, cmd := range cmds {
		task, err := decodeTaskFields(ids[i], cmd.Val())
		if err != nil {
			return nil, nil, err
		}
		if task == nil {
			missing = append(missing, ids[i])
			continue
		}
		tasks = append(tasks, *task)
	}
	return tasks, missing, nil
}

// decodeTaskFields rebuilds a task from its hash fields, the claim fields
// overriding the blob. Returns nil when the hash is absent.
func decodeTaskFields(id string, vals []any) (*domain.Task, error) {
	raw, ok := vals[0].(string)
	if !ok {
		return nil, nil
	}

	var task domain.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	if status, ok := vals[1].(string); ok && status != "" {
		task.Status = domain.Status(status)
	}
	startedAt, err := parseTimeField(vals[2])
	if err != nil {
		return nil, fmt.Errorf("decode task %s started_at: %w", id, err)
	}
	if startedAt != nil {
		task.StartedAt = startedAt
	}
	lastActiveAt, err := parseTimeField(vals[3])
	if err != nil {
		return nil, fmt.Errorf("decode task %s last_active_at: %w", id, err)
	}
	if lastActiveAt != nil {
		task.LastActiveAt = lastActiveAt
	}
	return &task, nil
}

func parseTimeField(v any) (*time.Time, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteOld keeps the keepLast most recent terminal tasks per scraper and
// deletes older terminal ones together with their logs.
func (q *QueueStore) DeleteOld(ctx context.Context, keepLast int) error {
	var scraperIDs []string
	iter := q.client.Scan(ctx, 0, "tasks:by_scraper:*", 100).Iterator()
	for iter.Next(ctx) {
		scraperIDs = append(scraperIDs, iter.Val()[len("tasks:by_scraper:"):])
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan scraper task indexes: %w", err)
	}

	for _, scraperID := range scraperIDs {
		if err := q.deleteOldForScraper(ctx, scraperID, keepLast); err != nil {
			return err
		}
	}
	return nil
}

func (q *QueueStore) deleteOldForScraper(ctx context.Context, scraperID string, keepLast int) error {
	tasks, err := q.ListByScraper(ctx, scraperID)
	if err != nil {
		return err
	}

	// Tasks arrive newest first; count down the terminal ones and delete
	// everything terminal past the retention window. Pending and started
	// tasks are never touched.
	kept := 0
	for _, task := range tasks {
		if !task.Status.Terminal() {
			continue
		}
		if kept < keepLast {
			kept++
			continue
		}
		_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, taskKey(task.ID), logsKey(task.ID), logsNextIDKey(task.ID))
			pipe.ZRem(ctx, byScraperKey(scraperID), task.ID)
			return nil
		})
		if err != nil {
			return fmt.Errorf("delete task %s: %w", task.ID, err)
		}
	}
	return nil
}

// PendingCount returns the length of a priority queue. Ids of tasks finished
// while still queued are counted until a consumer discards them.
func (q *QueueStore) PendingCount(ctx context.Context, priority domain.Priority) (int64, error) {
	count, err := q.client.LLen(ctx, queueKey(priority)).Result()
	if err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return count, nil
}
