// Package worker runs the consumer pool: it dequeues tasks, executes their
// handlers with a heartbeat, and records terminal transitions.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quarryd/quarry/internal/domain"
	"github.com/quarryd/quarry/internal/handler"
	"github.com/quarryd/quarry/internal/logger"
	"github.com/quarryd/quarry/internal/metrics"
	"github.com/quarryd/quarry/internal/queue"
	"github.com/quarryd/quarry/internal/retry"
	"github.com/quarryd/quarry/internal/scraper"
	"github.com/quarryd/quarry/internal/storage"
)

const (
	// DefaultConcurrency is the number of consumer loops per process.
	DefaultConcurrency = 50

	// DefaultHeartbeat is the interval between task liveness pings.
	DefaultHeartbeat = 5 * time.Second

	// pollBackoffMin and pollBackoffMax bound the empty-queue poll delay.
	pollBackoffMin = 50 * time.Millisecond
	pollBackoffMax = time.Second
)

// Config tunes the worker pool.
type Config struct {
	Concurrency    int           `mapstructure:"concurrency"`
	Heartbeat      time.Duration `mapstructure:"heartbeat"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SetDefaults applies default values to the config if not set.
func (c *Config) SetDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = DefaultHeartbeat
	}
}

// Pool is a fixed set of consumer loops over the task queue.
type Pool struct {
	cfg         Config
	queue       *queue.Queue
	registry    *handler.Registry
	scrapers    storage.ScraperStore
	logs        storage.LogStore
	middlewares []scraper.Middleware
	log         logger.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc

	active    atomic.Int64
	processed atomic.Int64
}

// NewPool creates a worker pool. The pool does not start consuming until
// Start is called.
func NewPool(cfg Config, q *queue.Queue, registry *handler.Registry, scrapers storage.ScraperStore, logs storage.LogStore, middlewares []scraper.Middleware, log logger.Logger) *Pool {
	cfg.SetDefaults()
	return &Pool{
		cfg:         cfg,
		queue:       q,
		registry:    registry,
		scrapers:    scrapers,
		logs:        logs,
		middlewares: middlewares,
		log:         log,
	}
}

// Start launches the consumer loops.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.log.Info("starting worker pool", logger.Int("concurrency", p.cfg.Concurrency))
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.consume(ctx, id)
		}(i)
	}
}

// Stop cancels all loops and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Info("worker pool stopped", logger.Int64("tasks_processed", p.processed.Load()))
}

// Active returns the number of tasks currently being executed.
func (p *Pool) Active() int64 {
	return p.active.Load()
}

// consume polls the queue with exponential backoff and executes tasks.
func (p *Pool) consume(ctx context.Context, id int) {
	log := p.log.With(logger.Int("consumer", id))
	backoff := pollBackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("dequeue failed", logger.Error(err))
		}
		if task == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > pollBackoffMax {
				backoff = pollBackoffMax
			}
			continue
		}

		backoff = pollBackoffMin
		p.execute(ctx, *task, log)
	}
}

// execute runs a single task end to end and persists its terminal status.
func (p *Pool) execute(ctx context.Context, task domain.Task, log logger.Logger) {
	p.active.Add(1)
	metrics.ActiveTasks.Inc()
	defer func() {
		p.active.Add(-1)
		metrics.ActiveTasks.Dec()
		p.processed.Add(1)
	}()

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if task.Timeout > 0 {
		taskCtx, cancel = context.WithTimeout(taskCtx, task.Timeout)
		defer cancel()
	}

	taskLog := logger.NewTaskLogger(log, p.logs, task.ID)
	taskLog.Info("task started",
		logger.String("scraper_id", task.ScraperID),
		logger.String("handler", task.Handler))

	hbStop := p.startHeartbeat(taskCtx, cancel, task.ID, log)
	result, err := p.runHandler(taskCtx, task, taskLog)
	hbStop()

	status, resultText := p.terminalFor(taskCtx, result, err)
	finished, ferr := p.queue.Finish(context.WithoutCancel(ctx), task.ID, status, resultText)
	switch {
	case errors.Is(ferr, queue.ErrTaskFinished):
		// Killed or reaped while running; the existing status wins.
		status = finished.Status
	case ferr != nil:
		log.Error("failed to persist task result",
			logger.String("task_id", task.ID), logger.Error(ferr))
		return
	}
	taskLog.Info("task finished", logger.String("status", string(status)))
}

// runHandler invokes the task's handler, never letting a panic escape.
func (p *Pool) runHandler(ctx context.Context, task domain.Task, taskLog logger.Logger) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	h, err := p.registry.Get(task.Handler)
	if err != nil {
		return "", err
	}

	var state scraper.StateStore = scraper.NopStateStore{}
	if task.ScraperID != domain.EphemeralScraperID {
		state = &scraperState{store: p.scrapers, scraperID: task.ScraperID}
	}

	var opts []scraper.PipelineOption
	if p.cfg.RequestTimeout > 0 {
		opts = append(opts, scraper.WithRequestTimeout(p.cfg.RequestTimeout))
	}
	pipeline := scraper.NewPipeline(p.middlewares, task.Config.MiddlewareOverrides, taskLog, opts...)
	sctx := scraper.NewContext(ctx, task.Config.Params, pipeline, state, taskLog)
	return h.Run(sctx)
}

// terminalFor maps a handler outcome to the task's terminal status.
func (p *Pool) terminalFor(ctx context.Context, result string, err error) (domain.Status, string) {
	if ctx.Err() != nil {
		return domain.StatusKilled, fmt.Sprintf("cancelled: %v", ctx.Err())
	}
	if err != nil {
		return domain.StatusFailed, err.Error()
	}
	return domain.StatusSucceeded, result
}

// startHeartbeat refreshes last_active_at every heartbeat interval and
// cancels the task when the ping reports it is no longer started or keeps
// failing past the retry budget.
func (p *Pool) startHeartbeat(ctx context.Context, cancel context.CancelFunc, taskID string, log logger.Logger) func() {
	stopped := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.cfg.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopped:
				return
			case <-ticker.C:
			}

			var termErr error
			err := retry.Do(ctx, retry.DefaultConfig(), func() error {
				_, perr := p.queue.Ping(ctx, taskID)
				if errors.Is(perr, queue.ErrTaskFinished) || errors.Is(perr, queue.ErrTaskNotStarted) || errors.Is(perr, storage.ErrNotFound) {
					// Terminal signal, not a transient fault.
					termErr = perr
					return nil
				}
				return perr
			})
			if err != nil {
				log.Warn("task heartbeat failed, cancelling",
					logger.String("task_id", taskID), logger.Error(err))
				cancel()
				return
			}
			if termErr != nil {
				log.Info("task no longer active, cancelling",
					logger.String("task_id", taskID), logger.Error(termErr))
				cancel()
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stopped) })
		<-done
	}
}

// scraperState persists the opaque handler state on the scraper record.
type scraperState struct {
	store     storage.ScraperStore
	scraperID string
}

func (s *scraperState) State(ctx context.Context) (string, error) {
	scr, err := s.store.Get(ctx, s.scraperID)
	if err != nil {
		return "", err
	}
	return scr.State, nil
}

func (s *scraperState) UpdateState(ctx context.Context, state string) (string, error) {
	scr, err := s.store.Get(ctx, s.scraperID)
	if err != nil {
		return "", err
	}
	scr.State = state
	updated, err := s.store.Update(ctx, scr)
	if err != nil {
		return "", err
	}
	return updated.State, nil
}
