// Package middleware holds the reference middleware set for the scraping
// pipeline: rate limiting, robots.txt compliance, user-agent injection,
// proxying, request logging and parsing helpers.
package middleware

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quarryd/quarry/internal/logger"
	"github.com/quarryd/quarry/internal/scraper"
)

// Rate limited strategies.
const (
	RateLimitedWait  = "WAIT"
	RateLimitedThrow = "THROW"
)

// RateLimiterConfig limits requests per host within a time window.
type RateLimiterConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	TimeWindow  time.Duration `mapstructure:"time_window"`
	Strategy    string        `mapstructure:"rate_limited_strategy"`
}

// DefaultRateLimiterConfig allows 60 requests per host per minute, waiting
// when the budget is exhausted.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MaxRequests: 60,
		TimeWindow:  time.Minute,
		Strategy:    RateLimitedWait,
	}
}

// RateLimiter is a leaky-bucket limiter keyed by request host.
type RateLimiter struct {
	defaults RateLimiterConfig
	log      logger.Logger

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewRateLimiter creates the rate limiter middleware.
func NewRateLimiter(defaults RateLimiterConfig, log logger.Logger) *RateLimiter {
	return &RateLimiter{
		defaults: defaults,
		log:      log,
		buckets:  make(map[string]*rate.Limiter),
	}
}

// Name implements scraper.Middleware.
func (m *RateLimiter) Name() string {
	return "rate_limiter"
}

// OnRequest admits the request to its host's bucket, either waiting for a
// slot or failing depending on the configured strategy.
func (m *RateLimiter) OnRequest(ctx context.Context, req *scraper.Request, overrides map[string]any) (*scraper.Request, error) {
	var cfg RateLimiterConfig
	if err := scraper.MergeConfig(m.defaults, overrides, &cfg); err != nil {
		return nil, err
	}
	if cfg.MaxRequests <= 0 {
		return nil, fmt.Errorf("max_requests must be positive, got %d", cfg.MaxRequests)
	}
	if cfg.TimeWindow <= 0 {
		cfg.TimeWindow = time.Minute
	}

	host, err := hostOf(req.URL)
	if err != nil {
		return nil, err
	}
	bucket := m.bucket(host, cfg)

	if cfg.Strategy == RateLimitedThrow {
		if !bucket.Allow() {
			return nil, fmt.Errorf("%w: more than %d requests to %s within %s",
				scraper.ErrRateLimited, cfg.MaxRequests, host, cfg.TimeWindow)
		}
		return req, nil
	}

	if !bucket.Allow() {
		m.log.Info("request rate limited, waiting for a slot",
			logger.String("host", host),
			logger.Int("max_requests", cfg.MaxRequests),
			logger.Duration("time_window", cfg.TimeWindow))
		if err := bucket.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// bucket returns the host's limiter, keyed by host and config so scrapers
// with different budgets do not share a bucket.
func (m *RateLimiter) bucket(host string, cfg RateLimiterConfig) *rate.Limiter {
	key := fmt.Sprintf("%s|%d|%s", host, cfg.MaxRequests, cfg.TimeWindow)

	m.mu.Lock()
	defer m.mu.Unlock()
	if bucket, ok := m.buckets[key]; ok {
		return bucket
	}
	bucket := rate.NewLimiter(rate.Every(cfg.TimeWindow/time.Duration(cfg.MaxRequests)), cfg.MaxRequests)
	m.buckets[key] = bucket
	return bucket
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return u.Hostname(), nil
}
