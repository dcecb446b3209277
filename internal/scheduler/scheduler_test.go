package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarryd/quarry/internal/domain"
	"github.com/quarryd/quarry/internal/logger"
	"github.com/quarryd/quarry/internal/queue"
	"github.com/quarryd/quarry/internal/storage/memory"
)

type fixture struct {
	scrapers  *memory.ScraperStore
	queue     *queue.Queue
	leases    *memory.LeaseStore
	scheduler *Scheduler
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	scrapers := memory.NewScraperStore()
	q := queue.New(memory.NewQueueStore(), logger.NewNop())
	leases := memory.NewLeaseStore()
	return &fixture{
		scrapers:  scrapers,
		queue:     q,
		leases:    leases,
		scheduler: New(cfg, scrapers, q, leases, logger.NewNop()),
	}
}

func (f *fixture) addScraper(t *testing.T, s domain.Scraper) domain.Scraper {
	t.Helper()
	created, err := f.scrapers.Create(context.Background(), s)
	require.NoError(t, err)
	return created
}

func TestTriggerInterval(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	trig, err := newTrigger(domain.Scraper{Schedule: domain.ScheduleEveryMinute}, now)
	require.NoError(t, err)
	require.NotNil(t, trig)

	assert.False(t, trig.due(now))
	assert.True(t, trig.due(now.Add(time.Minute)))

	// Drift-free: firing a little late keeps the original cadence.
	fireAt := now.Add(time.Minute + 10*time.Second)
	trig.advance(fireAt)
	assert.Equal(t, now.Add(2*time.Minute), trig.nextFire)
}

func TestTriggerCoalescesMissedFires(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	trig, err := newTrigger(domain.Scraper{Schedule: domain.ScheduleEveryMinute}, now)
	require.NoError(t, err)

	// Ten intervals pass without evaluation; one fire covers them all and
	// the next fire lands a full interval out.
	late := now.Add(10 * time.Minute)
	require.True(t, trig.due(late))
	trig.advance(late)
	assert.Equal(t, late.Add(time.Minute), trig.nextFire)
	assert.False(t, trig.due(late))
}

func TestTriggerCrontab(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 30, 0, 0, time.UTC)
	trig, err := newTrigger(domain.Scraper{
		Schedule:        domain.ScheduleCrontab,
		ScheduleCrontab: "0 * * * *",
	}, now)
	require.NoError(t, err)
	require.NotNil(t, trig)

	assert.Equal(t, time.Date(2026, 8, 24, 13, 0, 0, 0, time.UTC), trig.nextFire)
	trig.advance(trig.nextFire)
	assert.Equal(t, time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC), trig.nextFire)
}

func TestTriggerInactive(t *testing.T) {
	trig, err := newTrigger(domain.Scraper{Schedule: domain.ScheduleInactive}, time.Now())
	require.NoError(t, err)
	assert.Nil(t, trig)
}

func TestSyncTriggers(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	now := time.Now().UTC()

	active := f.addScraper(t, domain.Scraper{
		Name: "active", Handler: "dynamic", Schedule: domain.ScheduleEveryHour,
	})
	f.addScraper(t, domain.Scraper{
		Name: "parked", Handler: "dynamic", Schedule: domain.ScheduleInactive,
	})

	require.NoError(t, f.scheduler.syncTriggers(ctx, now))
	require.Len(t, f.scheduler.triggers, 1)
	require.Contains(t, f.scheduler.triggers, active.ID)

	// A schedule change replaces the trigger.
	before := f.scheduler.triggers[active.ID].nextFire
	active.Schedule = domain.ScheduleEverySecond
	_, err := f.scrapers.Update(ctx, active)
	require.NoError(t, err)
	require.NoError(t, f.scheduler.syncTriggers(ctx, now))
	assert.NotEqual(t, before, f.scheduler.triggers[active.ID].nextFire)

	// A deleted scraper loses its trigger.
	_, err = f.scrapers.Delete(ctx, active.ID)
	require.NoError(t, err)
	require.NoError(t, f.scheduler.syncTriggers(ctx, now))
	assert.Empty(t, f.scheduler.triggers)
}

func TestEvaluateTriggersEnqueues(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	now := time.Now().UTC()

	scr := f.addScraper(t, domain.Scraper{
		Name:             "firing",
		Handler:          "dynamic",
		Schedule:         domain.ScheduleEverySecond,
		SchedulePriority: domain.PriorityHigh,
	})
	require.NoError(t, f.scheduler.syncTriggers(ctx, now))

	f.scheduler.evaluateTriggers(ctx, now.Add(time.Second))

	tasks, err := f.queue.ListByScraper(ctx, scr.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.PriorityHigh, tasks[0].Priority)
	assert.Equal(t, "dynamic", tasks[0].Handler)
}

func TestFireSkipsActiveRun(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	scr := f.addScraper(t, domain.Scraper{
		Name: "busy", Handler: "dynamic", Schedule: domain.ScheduleEverySecond,
	})
	_, err := f.queue.Enqueue(ctx, domain.Task{
		ScraperID: scr.ID, Handler: "dynamic", Priority: domain.PriorityNormal,
	})
	require.NoError(t, err)

	f.scheduler.fire(ctx, scr)
	assert.EqualValues(t, 1, f.scheduler.Skipped())

	tasks, err := f.queue.ListByScraper(ctx, scr.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, 1, "no second task while one is active")
}

func TestFireBackpressure(t *testing.T) {
	f := newFixture(t, Config{PendingHighWater: 1})
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, domain.Task{
		ScraperID: "other", Handler: "dynamic", Priority: domain.PriorityNormal,
	})
	require.NoError(t, err)

	scr := f.addScraper(t, domain.Scraper{
		Name:             "blocked",
		Handler:          "dynamic",
		Schedule:         domain.ScheduleEverySecond,
		SchedulePriority: domain.PriorityNormal,
	})
	f.scheduler.fire(ctx, scr)

	tasks, err := f.queue.ListByScraper(ctx, scr.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks, "fire is dropped over the high-water mark")
}

func TestLeaseActiveStandby(t *testing.T) {
	ctx := context.Background()
	scrapers := memory.NewScraperStore()
	q := queue.New(memory.NewQueueStore(), logger.NewNop())
	leases := memory.NewLeaseStore()

	first := New(Config{LeaseTTL: time.Minute}, scrapers, q, leases, logger.NewNop())
	second := New(Config{LeaseTTL: time.Minute}, scrapers, q, leases, logger.NewNop())

	first.renewLease(ctx)
	second.renewLease(ctx)
	assert.True(t, first.Active())
	assert.False(t, second.Active(), "second instance stays in standby")

	// When the holder releases, the standby takes over on its next renewal.
	require.NoError(t, leases.Release(ctx, LeaseName, first.owner))
	second.renewLease(ctx)
	assert.True(t, second.Active())
	first.renewLease(ctx)
	assert.False(t, first.Active())
}

func TestSchedulerLoopEnqueues(t *testing.T) {
	f := newFixture(t, Config{
		LeaseTTL:     time.Minute,
		PollInterval: time.Second,
	})
	ctx := context.Background()

	scr := f.addScraper(t, domain.Scraper{
		Name: "looped", Handler: "dynamic", Schedule: domain.ScheduleEverySecond,
	})

	f.scheduler.Start(ctx)
	defer f.scheduler.Stop()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		tasks, err := f.queue.ListByScraper(ctx, scr.ID)
		require.NoError(t, err)
		if len(tasks) > 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("scheduler loop never enqueued a task")
}
