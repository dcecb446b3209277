package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule describes when a scraper should be enqueued.
type Schedule string

const (
	// ScheduleInactive disables automatic scheduling.
	ScheduleInactive Schedule = "inactive"

	ScheduleEverySecond Schedule = "every_second"
	ScheduleEveryMinute Schedule = "every_minute"
	ScheduleEveryHour   Schedule = "every_hour"
	ScheduleEveryDay    Schedule = "every_day"
	ScheduleEveryWeek   Schedule = "every_week"
	ScheduleEveryMonth  Schedule = "every_month"

	// ScheduleCrontab uses the scraper's crontab expression.
	ScheduleCrontab Schedule = "crontab"
)

// ErrInvalidSchedule is returned for unknown schedule values.
var ErrInvalidSchedule = errors.New("invalid schedule")

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Interval returns the fixed interval of the schedule, or false for
// inactive and crontab schedules.
func (s Schedule) Interval() (time.Duration, bool) {
	switch s {
	case ScheduleEverySecond:
		return time.Second, true
	case ScheduleEveryMinute:
		return time.Minute, true
	case ScheduleEveryHour:
		return time.Hour, true
	case ScheduleEveryDay:
		return 24 * time.Hour, true
	case ScheduleEveryWeek:
		return 7 * 24 * time.Hour, true
	case ScheduleEveryMonth:
		return 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// IsValid returns true if the schedule is a known value.
func (s Schedule) IsValid() bool {
	if s == ScheduleInactive || s == ScheduleCrontab {
		return true
	}
	_, ok := s.Interval()
	return ok
}

// AllSchedules returns every supported schedule value.
func AllSchedules() []Schedule {
	return []Schedule{
		ScheduleInactive,
		ScheduleEverySecond,
		ScheduleEveryMinute,
		ScheduleEveryHour,
		ScheduleEveryDay,
		ScheduleEveryWeek,
		ScheduleEveryMonth,
		ScheduleCrontab,
	}
}

// ParseCrontab validates a crontab expression and returns its cron schedule.
func ParseCrontab(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("%w: empty crontab expression", ErrInvalidSchedule)
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalidSchedule, expr, err.Error())
	}
	return sched, nil
}
