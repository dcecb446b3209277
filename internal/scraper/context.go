// Package scraper provides the execution context handed to handlers: typed
// HTTP verbs running through the middleware pipeline, scraper params, and
// persistent per-scraper state.
package scraper

import (
	"context"
	"net/http"

	"github.com/quarryd/quarry/internal/logger"
)

// StateStore persists the opaque per-scraper state string between runs.
type StateStore interface {
	State(ctx context.Context) (string, error)
	UpdateState(ctx context.Context, state string) (string, error)
}

// NopStateStore discards state. Used for ephemeral runs.
type NopStateStore struct{}

func (NopStateStore) State(context.Context) (string, error) { return "", nil }

func (NopStateStore) UpdateState(_ context.Context, state string) (string, error) {
	return state, nil
}

// Context is the handler-facing scraping context. All HTTP verbs run the
// full middleware pipeline and honour the task's cancellation.
type Context struct {
	ctx      context.Context
	params   map[string]any
	pipeline *Pipeline
	state    StateStore
	log      logger.Logger
}

// NewContext binds a pipeline and scraper metadata to a task's context.
func NewContext(ctx context.Context, params map[string]any, pipeline *Pipeline, state StateStore, log logger.Logger) *Context {
	if params == nil {
		params = make(map[string]any)
	}
	if state == nil {
		state = NopStateStore{}
	}
	return &Context{
		ctx:      ctx,
		params:   params,
		pipeline: pipeline,
		state:    state,
		log:      log,
	}
}

// Params returns the scraper config's params field.
func (c *Context) Params() map[string]any {
	return c.params
}

// Logger returns the task-bound logger.
func (c *Context) Logger() logger.Logger {
	return c.log
}

// StdContext returns the underlying cancellation context.
func (c *Context) StdContext() context.Context {
	return c.ctx
}

// Middleware returns a registered middleware by name, for functional
// middleware that expose helpers.
func (c *Context) Middleware(name string) (Middleware, bool) {
	return c.pipeline.Middleware(name)
}

// State returns the scraper's persisted state string.
func (c *Context) State() (string, error) {
	return c.state.State(c.ctx)
}

// UpdateState persists a new state string and returns it.
func (c *Context) UpdateState(state string) (string, error) {
	return c.state.UpdateState(c.ctx, state)
}

// Do runs an arbitrary request through the pipeline.
func (c *Context) Do(req *Request) (*Response, error) {
	return c.pipeline.Do(c.ctx, req)
}

func (c *Context) request(method, url string, opts []RequestOption) (*Response, error) {
	req := NewRequest(method, url)
	for _, opt := range opts {
		opt(req)
	}
	return c.Do(req)
}

// Get issues a GET request through the pipeline.
func (c *Context) Get(url string, opts ...RequestOption) (*Response, error) {
	return c.request(http.MethodGet, url, opts)
}

// Post issues a POST request through the pipeline.
func (c *Context) Post(url string, opts ...RequestOption) (*Response, error) {
	return c.request(http.MethodPost, url, opts)
}

// Put issues a PUT request through the pipeline.
func (c *Context) Put(url string, opts ...RequestOption) (*Response, error) {
	return c.request(http.MethodPut, url, opts)
}

// Delete issues a DELETE request through the pipeline.
func (c *Context) Delete(url string, opts ...RequestOption) (*Response, error) {
	return c.request(http.MethodDelete, url, opts)
}

// Head issues a HEAD request through the pipeline.
func (c *Context) Head(url string, opts ...RequestOption) (*Response, error) {
	return c.request(http.MethodHead, url, opts)
}

// Options issues an OPTIONS request through the pipeline.
func (c *Context) Options(url string, opts ...RequestOption) (*Response, error) {
	return c.request(http.MethodOptions, url, opts)
}

// Patch issues a PATCH request through the pipeline.
func (c *Context) Patch(url string, opts ...RequestOption) (*Response, error) {
	return c.request(http.MethodPatch, url, opts)
}
