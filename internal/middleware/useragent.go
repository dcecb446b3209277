package middleware

import (
	"context"
	"math/rand"

	"github.com/quarryd/quarry/internal/scraper"
)

// UserAgentConfig selects which browser families user agents are drawn from.
type UserAgentConfig struct {
	UseExternalData bool     `mapstructure:"use_external_data"`
	Browsers        []string `mapstructure:"browsers"`
}

// DefaultUserAgentConfig draws from all known browser families.
func DefaultUserAgentConfig() UserAgentConfig {
	return UserAgentConfig{
		Browsers: []string{"chrome", "edge", "firefox", "safari", "opera"},
	}
}

// userAgents maps a browser family to a pool of plausible agent strings.
var userAgents = map[string][]string{
	"chrome": {
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	},
	"edge": {
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36 Edg/123.0.0.0",
	},
	"firefox": {
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:124.0) Gecko/20100101 Firefox/124.0",
		"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	},
	"safari": {
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
	},
	"opera": {
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36 OPR/109.0.0.0",
	},
}

// UserAgent injects a plausible User-Agent header when the request has none.
type UserAgent struct {
	defaults UserAgentConfig
}

// NewUserAgent creates the user-agent injector middleware.
func NewUserAgent(defaults UserAgentConfig) *UserAgent {
	return &UserAgent{defaults: defaults}
}

// Name implements scraper.Middleware.
func (m *UserAgent) Name() string {
	return "user_agent_injecter"
}

// OnRequest sets a User-Agent header chosen from the configured browser
// families if the request does not carry one already.
func (m *UserAgent) OnRequest(_ context.Context, req *scraper.Request, overrides map[string]any) (*scraper.Request, error) {
	var cfg UserAgentConfig
	if err := scraper.MergeConfig(m.defaults, overrides, &cfg); err != nil {
		return nil, err
	}
	if req.Header.Get("User-Agent") != "" {
		return req, nil
	}

	var pool []string
	for _, browser := range cfg.Browsers {
		pool = append(pool, userAgents[browser]...)
	}
	if len(pool) == 0 {
		pool = userAgents["chrome"]
	}
	req.Header.Set("User-Agent", pool[rand.Intn(len(pool))])
	return req, nil
}
