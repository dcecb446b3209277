package middleware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/quarryd/quarry/internal/logger"
	"github.com/quarryd/quarry/internal/scraper"
)

// Robots.txt violation strategies.
const (
	RobotsViolationLog   = "LOG"
	RobotsViolationThrow = "THROW"
)

// ErrRobotsViolation is wrapped when a request is disallowed by robots.txt
// and the strategy is THROW.
var ErrRobotsViolation = fmt.Errorf("request disallowed by robots.txt")

// RobotsConfig controls how robots.txt violations are treated.
type RobotsConfig struct {
	ViolationStrategy string `mapstructure:"violation_strategy"`
}

// DefaultRobotsConfig logs violations without blocking.
func DefaultRobotsConfig() RobotsConfig {
	return RobotsConfig{ViolationStrategy: RobotsViolationLog}
}

// robotsCacheTTL bounds how long a fetched robots.txt is reused.
const robotsCacheTTL = time.Hour

type robotsEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// Robots checks outgoing requests against the target host's robots.txt.
// When the file cannot be fetched the request is allowed.
type Robots struct {
	defaults RobotsConfig
	client   *http.Client
	log      logger.Logger

	mu    sync.Mutex
	cache map[string]robotsEntry
}

// NewRobots creates the robots.txt middleware.
func NewRobots(defaults RobotsConfig, log logger.Logger) *Robots {
	return &Robots{
		defaults: defaults,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
		cache:    make(map[string]robotsEntry),
	}
}

// Name implements scraper.Middleware.
func (m *Robots) Name() string {
	return "robots_txt"
}

// OnRequest blocks or logs requests disallowed by the host's robots.txt.
func (m *Robots) OnRequest(ctx context.Context, req *scraper.Request, overrides map[string]any) (*scraper.Request, error) {
	var cfg RobotsConfig
	if err := scraper.MergeConfig(m.defaults, overrides, &cfg); err != nil {
		return nil, err
	}

	host, err := hostOf(req.URL)
	if err != nil {
		return nil, err
	}
	data := m.load(ctx, host)
	if data == nil {
		m.log.Debug("no robots.txt retrieved, defaulting to allow", logger.String("host", host))
		return req, nil
	}

	agent := req.Header.Get("User-Agent")
	if agent == "" {
		agent = "*"
	}
	if data.FindGroup(agent).Test(pathOf(req.URL)) {
		return req, nil
	}

	if cfg.ViolationStrategy == RobotsViolationThrow {
		return nil, fmt.Errorf("%w: %s", ErrRobotsViolation, req.URL)
	}
	m.log.Error("request disallowed by robots.txt, proceeding",
		logger.String("url", req.URL),
		logger.String("strategy", cfg.ViolationStrategy))
	return req, nil
}

// load returns the host's parsed robots.txt, or nil when unavailable.
// Results, including failures, are cached for robotsCacheTTL.
func (m *Robots) load(ctx context.Context, host string) *robotstxt.RobotsData {
	m.mu.Lock()
	entry, ok := m.cache[host]
	m.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < robotsCacheTTL {
		return entry.data
	}

	data := m.fetch(ctx, host)

	m.mu.Lock()
	m.cache[host] = robotsEntry{data: data, fetchedAt: time.Now()}
	m.mu.Unlock()
	return data
}

func (m *Robots) fetch(ctx context.Context, host string) *robotstxt.RobotsData {
	for _, scheme := range []string{"https", "http"} {
		url := fmt.Sprintf("%s://%s/robots.txt", scheme, host)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			continue
		}
		resp, err := m.client.Do(req)
		if err != nil {
			m.log.Debug("failed to fetch robots.txt",
				logger.String("url", url), logger.Error(err))
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if err != nil || resp.StatusCode != http.StatusOK {
			continue
		}
		data, err := robotstxt.FromBytes(body)
		if err != nil {
			m.log.Debug("failed to parse robots.txt",
				logger.String("url", url), logger.Error(err))
			continue
		}
		return data
	}
	return nil
}

func pathOf(rawURL string) string {
	if i := strings.Index(rawURL, "://"); i >= 0 {
		rest := rawURL[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			return rest[j:]
		}
	}
	return "/"
}
