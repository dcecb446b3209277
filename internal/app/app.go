// Package app wires the storage backend, queue, scheduler, worker pool and
// HTTP API into a runnable node.
package app

import (
	"context"
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/quarryd/quarry/internal/api"
	"github.com/quarryd/quarry/internal/config"
	"github.com/quarryd/quarry/internal/handler"
	"github.com/quarryd/quarry/internal/logger"
	"github.com/quarryd/quarry/internal/middleware"
	"github.com/quarryd/quarry/internal/queue"
	"github.com/quarryd/quarry/internal/scheduler"
	"github.com/quarryd/quarry/internal/scraper"
	"github.com/quarryd/quarry/internal/storage"
	"github.com/quarryd/quarry/internal/storage/memory"
	"github.com/quarryd/quarry/internal/storage/redisstore"
	"github.com/quarryd/quarry/internal/worker"
)

// stores groups the four persistence contracts of one backend.
type stores struct {
	scrapers storage.ScraperStore
	queue    storage.QueueStore
	leases   storage.LeaseStore
	logs     storage.LogStore
}

// App is a fully wired node: API server, scheduler and worker pool sharing
// one storage backend.
type App struct {
	cfg *config.Config
	log logger.Logger

	scheduler *scheduler.Scheduler
	pool      *worker.Pool
	server    *http.Server

	// redis is nil for the memory backend.
	redis *redis.Client
}

// New builds the node from its configuration. Nothing starts until Run.
func New(cfg *config.Config, log logger.Logger) (*App, error) {
	st, client, err := buildStores(cfg)
	if err != nil {
		return nil, err
	}

	registry, err := handler.NewRegistry(handler.NewDynamic())
	if err != nil {
		return nil, err
	}

	q := queue.New(st.queue, log)
	sched := scheduler.New(cfg.Scheduler, st.scrapers, q, st.leases, log)
	pool := worker.NewPool(cfg.Worker, q, registry, st.scrapers, st.logs, defaultMiddlewares(log), log)

	service := api.NewService(st.scrapers, q, st.logs, registry)
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      api.NewRouter(service, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &App{
		cfg:       cfg,
		log:       log,
		scheduler: sched,
		pool:      pool,
		server:    server,
		redis:     client,
	}, nil
}

// buildStores constructs the persistence layer for the configured backend.
func buildStores(cfg *config.Config) (stores, *redis.Client, error) {
	switch cfg.Storage.Backend {
	case config.BackendRedis:
		client, err := redisstore.NewClient(cfg.Redis)
		if err != nil {
			return stores{}, nil, err
		}
		return stores{
			scrapers: redisstore.NewScraperStore(client),
			queue:    redisstore.NewQueueStore(client),
			leases:   redisstore.NewLeaseStore(client),
			logs:     redisstore.NewLogStore(client),
		}, client, nil
	default:
		return stores{
			scrapers: memory.NewScraperStore(),
			queue:    memory.NewQueueStore(),
			leases:   memory.NewLeaseStore(),
			logs:     memory.NewLogStore(),
		}, nil, nil
	}
}

// defaultMiddlewares is the request pipeline every handler run gets.
// Per-scraper overrides tune each middleware through its config.
func defaultMiddlewares(log logger.Logger) []scraper.Middleware {
	return []scraper.Middleware{
		middleware.NewRateLimiter(middleware.RateLimiterConfig{}, log),
		middleware.NewRobots(middleware.RobotsConfig{}, log),
		middleware.NewUserAgent(middleware.UserAgentConfig{}),
		middleware.NewProxy(middleware.ProxyConfig{}),
		middleware.NewRequestLog(middleware.RequestLogConfig{}, log),
		middleware.NewParser(),
	}
}

// Run starts the node and blocks until the context is cancelled or the
// HTTP server fails. Shutdown is graceful: the listener closes first, then
// the scheduler and the worker pool drain.
func (a *App) Run(ctx context.Context) error {
	a.scheduler.Start(ctx)
	a.pool.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", logger.String("address", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	a.shutdown()
	return serveErr
}

func (a *App) shutdown() {
	a.log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http server shutdown failed", logger.Error(err))
	}

	a.scheduler.Stop()
	a.pool.Stop()

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis close failed", logger.Error(err))
		}
	}
	a.log.Info("shutdown complete")
}
