package middleware

import (
	"context"

	"github.com/quarryd/quarry/internal/scraper"
)

// ProxyAuth holds basic-auth credentials for the proxy.
type ProxyAuth struct {
	User string `mapstructure:"user"`
	Pass string `mapstructure:"pass"`
}

// ProxyConfig attaches a proxy to all outgoing requests.
type ProxyConfig struct {
	Proxy     string     `mapstructure:"proxy"`
	ProxyAuth *ProxyAuth `mapstructure:"proxy_auth"`
}

// Proxy sets the dispatcher's proxy hints on every request.
type Proxy struct {
	defaults ProxyConfig
}

// NewProxy creates the proxy middleware.
func NewProxy(defaults ProxyConfig) *Proxy {
	return &Proxy{defaults: defaults}
}

// Name implements scraper.Middleware.
func (m *Proxy) Name() string {
	return "proxy"
}

// OnRequest attaches the configured proxy URL and credentials as dispatcher
// extras.
func (m *Proxy) OnRequest(_ context.Context, req *scraper.Request, overrides map[string]any) (*scraper.Request, error) {
	var cfg ProxyConfig
	if err := scraper.MergeConfig(m.defaults, overrides, &cfg); err != nil {
		return nil, err
	}
	if cfg.Proxy == "" {
		return req, nil
	}

	if req.Extras == nil {
		req.Extras = make(map[string]any)
	}
	req.Extras[scraper.ExtraProxy] = cfg.Proxy
	if cfg.ProxyAuth != nil {
		req.Extras[scraper.ExtraProxyUser] = cfg.ProxyAuth.User
		req.Extras[scraper.ExtraProxyPass] = cfg.ProxyAuth.Pass
	}
	return req, nil
}
