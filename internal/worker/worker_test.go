package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarryd/quarry/internal/domain"
	"github.com/quarryd/quarry/internal/handler"
	"github.com/quarryd/quarry/internal/logger"
	"github.com/quarryd/quarry/internal/queue"
	"github.com/quarryd/quarry/internal/scraper"
	"github.com/quarryd/quarry/internal/storage/memory"
)

type testHandler struct {
	name string
	run  func(ctx *scraper.Context) (string, error)
}

func (h *testHandler) Name() string { return h.name }

func (h *testHandler) Run(ctx *scraper.Context) (string, error) { return h.run(ctx) }

type fixture struct {
	queue *queue.Queue
	logs  *memory.LogStore
	pool  *Pool
}

func newFixture(t *testing.T, handlers ...handler.Handler) *fixture {
	t.Helper()
	registry, err := handler.NewRegistry(handlers...)
	require.NoError(t, err)

	q := queue.New(memory.NewQueueStore(), logger.NewNop())
	logs := memory.NewLogStore()
	pool := NewPool(Config{
		Concurrency: 2,
		Heartbeat:   20 * time.Millisecond,
	}, q, registry, memory.NewScraperStore(), logs, nil, logger.NewNop())

	pool.Start(context.Background())
	t.Cleanup(pool.Stop)
	return &fixture{queue: q, logs: logs, pool: pool}
}

func (f *fixture) waitTerminal(t *testing.T, taskID string) domain.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := f.queue.Get(context.Background(), taskID)
		require.NoError(t, err)
		if task.Status.Terminal() {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal status", taskID)
	return domain.Task{}
}

func TestPoolExecutesTask(t *testing.T) {
	f := newFixture(t, &testHandler{name: "ok", run: func(ctx *scraper.Context) (string, error) {
		ctx.Logger().Info("doing work")
		return "all good", nil
	}})

	task, err := f.queue.Enqueue(context.Background(), domain.Task{
		ScraperID: "s1", Handler: "ok", Priority: domain.PriorityNormal,
	})
	require.NoError(t, err)

	done := f.waitTerminal(t, task.ID)
	assert.Equal(t, domain.StatusSucceeded, done.Status)
	assert.Equal(t, "all good", done.Result)
	require.NotNil(t, done.FinishedAt)

	lines, err := f.logs.Read(context.Background(), task.ID, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[1].Message, "doing work")
}

func TestPoolRecordsFailure(t *testing.T) {
	f := newFixture(t, &testHandler{name: "bad", run: func(*scraper.Context) (string, error) {
		return "", errors.New("fetch exploded")
	}})

	task, err := f.queue.Enqueue(context.Background(), domain.Task{
		ScraperID: "s1", Handler: "bad", Priority: domain.PriorityNormal,
	})
	require.NoError(t, err)

	done := f.waitTerminal(t, task.ID)
	assert.Equal(t, domain.StatusFailed, done.Status)
	assert.Contains(t, done.Result, "fetch exploded")
}

func TestPoolSurvivesPanic(t *testing.T) {
	f := newFixture(t,
		&testHandler{name: "panics", run: func(*scraper.Context) (string, error) {
			panic("handler bug")
		}},
		&testHandler{name: "ok", run: func(*scraper.Context) (string, error) {
			return "fine", nil
		}})

	ctx := context.Background()
	panicking, err := f.queue.Enqueue(ctx, domain.Task{ScraperID: "s1", Handler: "panics", Priority: domain.PriorityNormal})
	require.NoError(t, err)
	healthy, err := f.queue.Enqueue(ctx, domain.Task{ScraperID: "s2", Handler: "ok", Priority: domain.PriorityNormal})
	require.NoError(t, err)

	done := f.waitTerminal(t, panicking.ID)
	assert.Equal(t, domain.StatusFailed, done.Status)
	assert.Contains(t, done.Result, "handler bug")

	// The pool keeps consuming after a panic.
	assert.Equal(t, domain.StatusSucceeded, f.waitTerminal(t, healthy.ID).Status)
}

func TestPoolUnknownHandlerFails(t *testing.T) {
	f := newFixture(t)

	task, err := f.queue.Enqueue(context.Background(), domain.Task{
		ScraperID: "s1", Handler: "ghost", Priority: domain.PriorityNormal,
	})
	require.NoError(t, err)

	done := f.waitTerminal(t, task.ID)
	assert.Equal(t, domain.StatusFailed, done.Status)
	assert.Contains(t, done.Result, "unknown handler")
}

func TestPoolKillCancelsRunningTask(t *testing.T) {
	started := make(chan struct{})
	f := newFixture(t, &testHandler{name: "slow", run: func(ctx *scraper.Context) (string, error) {
		close(started)
		<-ctx.StdContext().Done()
		return "", ctx.StdContext().Err()
	}})

	ctx := context.Background()
	task, err := f.queue.Enqueue(ctx, domain.Task{ScraperID: "s1", Handler: "slow", Priority: domain.PriorityNormal})
	require.NoError(t, err)

	<-started
	_, err = f.queue.Kill(ctx, task.ID)
	require.NoError(t, err)

	done := f.waitTerminal(t, task.ID)
	assert.Equal(t, domain.StatusKilled, done.Status)
}

func TestPoolTaskTimeout(t *testing.T) {
	f := newFixture(t, &testHandler{name: "sleepy", run: func(ctx *scraper.Context) (string, error) {
		<-ctx.StdContext().Done()
		return "", ctx.StdContext().Err()
	}})

	task, err := f.queue.Enqueue(context.Background(), domain.Task{
		ScraperID: "s1",
		Handler:   "sleepy",
		Priority:  domain.PriorityNormal,
		Timeout:   50 * time.Millisecond,
	})
	require.NoError(t, err)

	done := f.waitTerminal(t, task.ID)
	assert.Equal(t, domain.StatusKilled, done.Status)
	assert.Contains(t, done.Result, "cancelled")
}
