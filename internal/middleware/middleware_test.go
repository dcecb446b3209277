package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarryd/quarry/internal/logger"
	"github.com/quarryd/quarry/internal/scraper"
)

func TestRateLimiterThrow(t *testing.T) {
	m := NewRateLimiter(RateLimiterConfig{
		MaxRequests: 2,
		TimeWindow:  time.Minute,
		Strategy:    RateLimitedThrow,
	}, logger.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := m.OnRequest(ctx, scraper.NewRequest(http.MethodGet, "https://example.com/page"), nil)
		require.NoError(t, err)
	}

	_, err := m.OnRequest(ctx, scraper.NewRequest(http.MethodGet, "https://example.com/other"), nil)
	assert.ErrorIs(t, err, scraper.ErrRateLimited)

	// A different host has its own bucket.
	_, err = m.OnRequest(ctx, scraper.NewRequest(http.MethodGet, "https://other.example.org/"), nil)
	assert.NoError(t, err)
}

func TestRateLimiterOverrides(t *testing.T) {
	m := NewRateLimiter(DefaultRateLimiterConfig(), logger.NewNop())
	ctx := context.Background()
	overrides := map[string]any{
		"max_requests":          1,
		"rate_limited_strategy": RateLimitedThrow,
	}

	_, err := m.OnRequest(ctx, scraper.NewRequest(http.MethodGet, "https://example.net/"), overrides)
	require.NoError(t, err)
	_, err = m.OnRequest(ctx, scraper.NewRequest(http.MethodGet, "https://example.net/"), overrides)
	assert.ErrorIs(t, err, scraper.ErrRateLimited)
}

func TestRateLimiterRejectsZeroBudget(t *testing.T) {
	m := NewRateLimiter(DefaultRateLimiterConfig(), logger.NewNop())

	_, err := m.OnRequest(context.Background(),
		scraper.NewRequest(http.MethodGet, "https://example.com/"),
		map[string]any{"max_requests": 0})
	assert.Error(t, err)
}

func robotsTestServer(t *testing.T, body string, status int) (*Robots, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(status)
			w.Write([]byte(body))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	m := NewRobots(DefaultRobotsConfig(), logger.NewNop())
	// Rewrite robots.txt lookups to the test server regardless of scheme.
	srvURL, err := url.Parse(srv.URL)
	require.NoError(t, err)
	m.client = &http.Client{Transport: &rewriteTransport{host: srvURL.Host}}
	return m, srv.URL
}

type rewriteTransport struct {
	host string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = "http"
	req.URL.Host = t.host
	return http.DefaultTransport.RoundTrip(req)
}

func TestRobotsThrowOnDisallow(t *testing.T) {
	m, base := robotsTestServer(t, "User-agent: *\nDisallow: /private\n", http.StatusOK)
	ctx := context.Background()
	overrides := map[string]any{"violation_strategy": RobotsViolationThrow}

	_, err := m.OnRequest(ctx, scraper.NewRequest(http.MethodGet, base+"/public"), overrides)
	assert.NoError(t, err)

	_, err = m.OnRequest(ctx, scraper.NewRequest(http.MethodGet, base+"/private/page"), overrides)
	assert.ErrorIs(t, err, ErrRobotsViolation)
}

func TestRobotsLogStrategyAllows(t *testing.T) {
	m, base := robotsTestServer(t, "User-agent: *\nDisallow: /\n", http.StatusOK)

	_, err := m.OnRequest(context.Background(), scraper.NewRequest(http.MethodGet, base+"/anything"), nil)
	assert.NoError(t, err, "LOG strategy must not block")
}

func TestRobotsUnavailableAllows(t *testing.T) {
	m, base := robotsTestServer(t, "", http.StatusInternalServerError)
	overrides := map[string]any{"violation_strategy": RobotsViolationThrow}

	_, err := m.OnRequest(context.Background(), scraper.NewRequest(http.MethodGet, base+"/private"), overrides)
	assert.NoError(t, err, "unavailable robots.txt defaults to allow")
}

func TestUserAgentInjection(t *testing.T) {
	m := NewUserAgent(DefaultUserAgentConfig())
	ctx := context.Background()

	req := scraper.NewRequest(http.MethodGet, "https://example.com/")
	out, err := m.OnRequest(ctx, req, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, out.Header.Get("User-Agent"))

	// An existing header is left alone.
	req = scraper.NewRequest(http.MethodGet, "https://example.com/")
	req.Header.Set("User-Agent", "custom-bot/1.0")
	out, err = m.OnRequest(ctx, req, nil)
	require.NoError(t, err)
	assert.Equal(t, "custom-bot/1.0", out.Header.Get("User-Agent"))
}

func TestUserAgentBrowserFilter(t *testing.T) {
	m := NewUserAgent(DefaultUserAgentConfig())

	req := scraper.NewRequest(http.MethodGet, "https://example.com/")
	out, err := m.OnRequest(context.Background(), req, map[string]any{"browsers": []any{"firefox"}})
	require.NoError(t, err)
	assert.Contains(t, out.Header.Get("User-Agent"), "Firefox")
}

func TestProxyExtras(t *testing.T) {
	m := NewProxy(ProxyConfig{})
	ctx := context.Background()

	// No proxy configured: request untouched.
	req := scraper.NewRequest(http.MethodGet, "https://example.com/")
	out, err := m.OnRequest(ctx, req, nil)
	require.NoError(t, err)
	assert.NotContains(t, out.Extras, scraper.ExtraProxy)

	out, err = m.OnRequest(ctx, scraper.NewRequest(http.MethodGet, "https://example.com/"), map[string]any{
		"proxy":      "http://proxy.internal:3128",
		"proxy_auth": map[string]any{"user": "u", "pass": "p"},
	})
	require.NoError(t, err)
	assert.Equal(t, "http://proxy.internal:3128", out.Extras[scraper.ExtraProxy])
	assert.Equal(t, "u", out.Extras[scraper.ExtraProxyUser])
	assert.Equal(t, "p", out.Extras[scraper.ExtraProxyPass])
}

func TestParserHelpers(t *testing.T) {
	m := NewParser()
	html := `<html><body>
		<h1>Title</h1>
		<a href="/a">first</a>
		<a href="/b">second</a>
	</body></html>`

	texts, err := m.Select(html, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, texts)

	hrefs, err := m.Attr(html, "a", "href")
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b"}, hrefs)

	matches, err := m.Regex("price: 42 EUR, price: 7 EUR", `price: (?P<amount>\d+)`)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "42", matches[0].Groups["amount"])
	assert.Equal(t, "7", matches[1].Groups["amount"])
}
