// Package scheduler runs the periodic side of the platform: lease-elected
// trigger evaluation, stale-task reaping, history GC and queue metrics.
package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quarryd/quarry/internal/domain"
	"github.com/quarryd/quarry/internal/logger"
	"github.com/quarryd/quarry/internal/metrics"
	"github.com/quarryd/quarry/internal/queue"
	"github.com/quarryd/quarry/internal/storage"
)

// LeaseName is the lease every scheduler instance competes for.
const LeaseName = "scheduler"

// Config tunes the scheduler's periodic jobs.
type Config struct {
	LeaseTTL         time.Duration `mapstructure:"lease_ttl"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	ReaperInterval   time.Duration `mapstructure:"reaper_interval"`
	DeadThreshold    time.Duration `mapstructure:"dead_threshold"`
	GCInterval       time.Duration `mapstructure:"gc_interval"`
	Retention        int           `mapstructure:"retention"`
	MetricsInterval  time.Duration `mapstructure:"metrics_interval"`
	PendingHighWater int64         `mapstructure:"pending_high_water"`
}

// SetDefaults applies default values to the config if not set.
func (c *Config) SetDefaults() {
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.ReaperInterval <= 0 {
		c.ReaperInterval = 10 * time.Second
	}
	if c.DeadThreshold <= 0 {
		c.DeadThreshold = 25 * time.Second
	}
	if c.GCInterval <= 0 {
		c.GCInterval = time.Hour
	}
	if c.Retention <= 0 {
		c.Retention = 50
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = 5 * time.Second
	}
	if c.PendingHighWater <= 0 {
		c.PendingHighWater = 1000
	}
}

// Scheduler owns the trigger table and the periodic jobs. All jobs run
// serially on the scheduler goroutine and only while the lease is held.
type Scheduler struct {
	cfg      Config
	scrapers storage.ScraperStore
	queue    *queue.Queue
	leases   storage.LeaseStore
	log      logger.Logger

	owner    string
	active   atomic.Bool
	triggers map[string]*trigger
	skipped  atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler. Run starts its loop.
func New(cfg Config, scrapers storage.ScraperStore, q *queue.Queue, leases storage.LeaseStore, log logger.Logger) *Scheduler {
	cfg.SetDefaults()
	return &Scheduler{
		cfg:      cfg,
		scrapers: scrapers,
		queue:    q,
		leases:   leases,
		log:      log,
		owner:    uuid.New().String(),
		triggers: make(map[string]*trigger),
	}
}

// Active reports whether this instance currently holds the scheduler lease.
func (s *Scheduler) Active() bool {
	return s.active.Load()
}

// Skipped returns how many fires were dropped on active-run rejection.
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}

// Start launches the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop releases the lease and waits for the loop to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.leases.Release(ctx, LeaseName, s.owner); err != nil {
		s.log.Warn("failed to release scheduler lease", logger.Error(err))
	}
	s.setActive(false)
}

// run ticks every second and dispatches whichever jobs are due. A fault in
// one job is logged and does not stop the loop.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var nextRenew, nextSync, nextReap, nextGC, nextMetrics time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		now := time.Now().UTC()

		if !now.Before(nextRenew) {
			s.renewLease(ctx)
			nextRenew = now.Add(s.cfg.LeaseTTL / 3)
		}
		if !s.active.Load() {
			continue
		}

		if !now.Before(nextSync) {
			if err := s.syncTriggers(ctx, now); err != nil {
				s.log.Error("trigger sync failed", logger.Error(err))
			}
			nextSync = now.Add(s.cfg.PollInterval)
		}
		s.evaluateTriggers(ctx, now)

		if !now.Before(nextReap) {
			if reaped, err := s.queue.KillDead(ctx, s.cfg.DeadThreshold); err != nil {
				s.log.Error("reaper failed", logger.Error(err))
			} else if reaped > 0 {
				s.log.Warn("reaped stale tasks", logger.Int("count", reaped))
			}
			nextReap = now.Add(s.cfg.ReaperInterval)
		}
		if !now.Before(nextGC) {
			if err := s.queue.DeleteOld(ctx, s.cfg.Retention); err != nil {
				s.log.Error("history gc failed", logger.Error(err))
			}
			nextGC = now.Add(s.cfg.GCInterval)
		}
		if !now.Before(nextMetrics) {
			s.exportMetrics(ctx)
			nextMetrics = now.Add(s.cfg.MetricsInterval)
		}
	}
}

// renewLease acquires or renews the scheduler lease and flips the
// active/standby state accordingly.
func (s *Scheduler) renewLease(ctx context.Context) {
	lease, err := s.leases.MaybeAcquire(ctx, LeaseName, s.owner, s.cfg.LeaseTTL)
	if err != nil {
		s.log.Error("lease renewal failed", logger.Error(err))
		s.setActive(false)
		return
	}
	if lease == nil {
		s.setActive(false)
		return
	}
	s.setActive(true)
}

func (s *Scheduler) setActive(active bool) {
	was := s.active.Swap(active)
	if was == active {
		return
	}
	if active {
		metrics.SchedulerLeaseOwned.Set(1)
		s.log.Info("scheduler lease acquired, entering active state",
			logger.String("owner", s.owner))
	} else {
		metrics.SchedulerLeaseOwned.Set(0)
		// Drop trigger state; a later activation resyncs from storage.
		s.triggers = make(map[string]*trigger)
		s.log.Info("scheduler entering standby state", logger.String("owner", s.owner))
	}
}

// syncTriggers reconciles the trigger table with the stored scrapers.
func (s *Scheduler) syncTriggers(ctx context.Context, now time.Time) error {
	scrapers, err := s.scrapers.List(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(scrapers))
	for _, scr := range scrapers {
		seen[scr.ID] = true
		if existing, ok := s.triggers[scr.ID]; ok {
			if existing.compatible(scr) {
				existing.scraper = scr
				continue
			}
			delete(s.triggers, scr.ID)
		}

		trig, err := newTrigger(scr, now)
		if err != nil {
			s.log.Error("invalid scraper schedule",
				logger.String("scraper_id", scr.ID), logger.Error(err))
			continue
		}
		if trig != nil {
			s.triggers[scr.ID] = trig
		}
	}
	for id := range s.triggers {
		if !seen[id] {
			delete(s.triggers, id)
		}
	}
	return nil
}

// evaluateTriggers enqueues a task for every due trigger.
func (s *Scheduler) evaluateTriggers(ctx context.Context, now time.Time) {
	for _, trig := range s.triggers {
		if !trig.due(now) {
			continue
		}
		trig.advance(now)
		s.fire(ctx, trig.scraper)
	}
}

// fire enqueues one run of the scraper, honouring backpressure and the
// at-most-one-active-run invariant.
func (s *Scheduler) fire(ctx context.Context, scr domain.Scraper) {
	pending, err := s.queue.PendingCount(ctx, scr.SchedulePriority)
	if err != nil {
		s.log.Error("pending count failed",
			logger.String("scraper_id", scr.ID), logger.Error(err))
		return
	}
	if pending >= s.cfg.PendingHighWater {
		s.log.Warn("skipping fire, queue over high-water mark",
			logger.String("scraper_id", scr.ID),
			logger.Int64("pending", pending),
			logger.Int64("high_water", s.cfg.PendingHighWater))
		return
	}

	_, err = s.queue.Enqueue(ctx, domain.Task{
		ScraperID: scr.ID,
		Handler:   scr.Handler,
		Config:    scr.Config,
		Priority:  scr.SchedulePriority,
		Timeout:   scr.Timeout,
	})
	switch {
	case errors.Is(err, queue.ErrTaskActive):
		s.skipped.Add(1)
		s.log.Info("skipping fire, scraper has an active run",
			logger.String("scraper_id", scr.ID),
			logger.Int64("skipped_total", s.skipped.Load()))
	case err != nil:
		s.log.Error("failed to enqueue scheduled task",
			logger.String("scraper_id", scr.ID), logger.Error(err))
	default:
		s.log.Debug("scheduled task enqueued", logger.String("scraper_id", scr.ID))
	}
}

// exportMetrics publishes queue gauges.
func (s *Scheduler) exportMetrics(ctx context.Context) {
	for _, priority := range domain.AllPriorities() {
		count, err := s.queue.PendingCount(ctx, priority)
		if err != nil {
			s.log.Error("queue gauge export failed", logger.Error(err))
			return
		}
		metrics.PendingTasks.WithLabelValues(priority.String()).Set(float64(count))
	}
}
