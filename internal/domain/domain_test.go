package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarryd/quarry/internal/domain"
)

func TestParsePriority(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		want    domain.Priority
		wantErr bool
	}{
		{name: "utmost string", input: "utmost", want: domain.PriorityUtmost},
		{name: "high int", input: 1, want: domain.PriorityHigh},
		{name: "normal default", input: "", want: domain.PriorityNormal},
		{name: "json number", input: float64(0), want: domain.PriorityUtmost},
		{name: "out of range", input: 7, wantErr: true},
		{name: "unknown string", input: "sometime", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := domain.ParsePriority(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPriorityOrder(t *testing.T) {
	order := domain.AllPriorities()
	require.Len(t, order, 3)
	assert.Equal(t, domain.PriorityUtmost, order[0])
	assert.Equal(t, domain.PriorityNormal, order[2])
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, domain.StatusPending.Terminal())
	assert.False(t, domain.StatusStarted.Terminal())
	assert.True(t, domain.StatusSucceeded.Terminal())
	assert.True(t, domain.StatusFailed.Terminal())
	assert.True(t, domain.StatusKilled.Terminal())
	assert.True(t, domain.StatusDead.Terminal())

	assert.True(t, domain.StatusPending.Active())
	assert.True(t, domain.StatusStarted.Active())
	assert.False(t, domain.StatusDead.Active())
}

func TestScheduleInterval(t *testing.T) {
	d, ok := domain.ScheduleEveryMinute.Interval()
	require.True(t, ok)
	assert.Equal(t, time.Minute, d)

	_, ok = domain.ScheduleCrontab.Interval()
	assert.False(t, ok)

	_, ok = domain.ScheduleInactive.Interval()
	assert.False(t, ok)
}

func TestParseCrontab(t *testing.T) {
	_, err := domain.ParseCrontab("*/5 * * * *")
	require.NoError(t, err)

	_, err = domain.ParseCrontab("not a crontab")
	require.ErrorIs(t, err, domain.ErrInvalidSchedule)

	_, err = domain.ParseCrontab("")
	require.ErrorIs(t, err, domain.ErrInvalidSchedule)
}

func TestScraperValidate(t *testing.T) {
	valid := domain.Scraper{
		Name:     "news",
		Handler:  "news_handler",
		Schedule: domain.ScheduleEveryHour,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*domain.Scraper)
	}{
		{name: "missing name", mutate: func(s *domain.Scraper) { s.Name = "" }},
		{name: "missing handler", mutate: func(s *domain.Scraper) { s.Handler = "" }},
		{name: "unknown schedule", mutate: func(s *domain.Scraper) { s.Schedule = "fortnightly" }},
		{name: "crontab without expression", mutate: func(s *domain.Scraper) { s.Schedule = domain.ScheduleCrontab }},
		{name: "crontab on interval schedule", mutate: func(s *domain.Scraper) { s.ScheduleCrontab = "* * * * *" }},
		{name: "negative timeout", mutate: func(s *domain.Scraper) { s.Timeout = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			require.ErrorIs(t, s.Validate(), domain.ErrValidation)
		})
	}
}

func TestTaskLastActivity(t *testing.T) {
	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	started := created.Add(time.Second)
	pinged := created.Add(time.Minute)

	task := domain.Task{CreatedAt: created}
	assert.Equal(t, created, task.LastActivity())

	task.StartedAt = &started
	assert.Equal(t, started, task.LastActivity())

	task.LastActiveAt = &pinged
	assert.Equal(t, pinged, task.LastActivity())
}

func TestLeaseExpired(t *testing.T) {
	now := time.Now().UTC()
	lease := domain.Lease{
		Name:          "scheduler",
		Owner:         "owner-1",
		AcquiredAt:    now,
		AcquiredUntil: now.Add(time.Minute),
	}
	assert.False(t, lease.Expired(now))
	assert.True(t, lease.Expired(now.Add(time.Minute)))
	assert.True(t, lease.Expired(now.Add(2*time.Minute)))
}
