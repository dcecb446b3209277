package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/quarryd/quarry/internal/domain"
)

// trigger tracks when a scraper should fire next. Interval schedules are
// drift-free: the next fire time advances by the interval from the previous
// fire, not from now. When fires were missed, a single catch-up fire is
// produced and the rest are coalesced.
type trigger struct {
	scraper  domain.Scraper
	interval time.Duration
	cron     cron.Schedule
	nextFire time.Time
}

// newTrigger builds the trigger state for a scraper, or nil for inactive
// ones. The first fire is scheduled one period after now.
func newTrigger(s domain.Scraper, now time.Time) (*trigger, error) {
	switch {
	case s.Schedule == domain.ScheduleInactive:
		return nil, nil
	case s.Schedule == domain.ScheduleCrontab:
		sched, err := domain.ParseCrontab(s.ScheduleCrontab)
		if err != nil {
			return nil, err
		}
		return &trigger{scraper: s, cron: sched, nextFire: sched.Next(now)}, nil
	default:
		interval, ok := s.Schedule.Interval()
		if !ok {
			return nil, domain.ErrInvalidSchedule
		}
		return &trigger{scraper: s, interval: interval, nextFire: now.Add(interval)}, nil
	}
}

// compatible reports whether the trigger still matches the scraper's
// schedule, so an updated scraper gets a fresh trigger.
func (t *trigger) compatible(s domain.Scraper) bool {
	return t.scraper.Schedule == s.Schedule && t.scraper.ScheduleCrontab == s.ScheduleCrontab
}

// due reports whether the trigger should fire at now.
func (t *trigger) due(now time.Time) bool {
	return !now.Before(t.nextFire)
}

// advance moves the trigger past now after a fire.
func (t *trigger) advance(now time.Time) {
	if t.cron != nil {
		t.nextFire = t.cron.Next(now)
		return
	}
	t.nextFire = t.nextFire.Add(t.interval)
	if !t.nextFire.After(now) {
		// Multiple fires were missed; coalesce them into the one we
		// just produced.
		t.nextFire = now.Add(t.interval)
	}
}
