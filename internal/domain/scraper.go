// Package domain provides the models shared by the queue, scheduler,
// worker and storage layers.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrValidation is wrapped by every scraper validation failure.
var ErrValidation = errors.New("validation error")

// ScraperConfig is the opaque configuration passed to the handler.
// Params carries arbitrary JSON; MiddlewareOverrides maps middleware name
// to a partial config that is deep-merged over the middleware default.
type ScraperConfig struct {
	Params              map[string]any            `json:"params,omitempty"`
	MiddlewareOverrides map[string]map[string]any `json:"middleware_overrides,omitempty"`
}

// Scraper binds a handler to a schedule and configuration.
type Scraper struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Handler          string        `json:"handler"`
	Schedule         Schedule      `json:"schedule"`
	ScheduleCrontab  string        `json:"schedule_crontab,omitempty"`
	SchedulePriority Priority      `json:"schedule_priority"`
	Config           ScraperConfig `json:"config"`

	// State is an opaque string the handler may persist between runs.
	State string `json:"state,omitempty"`

	// Timeout bounds a single task; zero means unlimited.
	Timeout time.Duration `json:"timeout,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the scraper invariants that do not require the handler
// registry: non-empty fields, known schedule, well-formed crontab.
func (s *Scraper) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: scraper name is required", ErrValidation)
	}
	if s.Handler == "" {
		return fmt.Errorf("%w: scraper handler is required", ErrValidation)
	}
	if !s.Schedule.IsValid() {
		return fmt.Errorf("%w: unknown schedule %q", ErrValidation, s.Schedule)
	}
	if !s.SchedulePriority.IsValid() {
		return fmt.Errorf("%w: unknown priority %d", ErrValidation, s.SchedulePriority)
	}
	if s.Schedule == ScheduleCrontab {
		if _, err := ParseCrontab(s.ScheduleCrontab); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
	} else if s.ScheduleCrontab != "" {
		return fmt.Errorf("%w: schedule_crontab is only allowed with the crontab schedule", ErrValidation)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("%w: timeout cannot be negative", ErrValidation)
	}
	return nil
}
