package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/quarryd/quarry/internal/logger"
	"github.com/quarryd/quarry/internal/metrics"
)

const (
	// defaultRequestTimeout bounds a single HTTP dispatch.
	defaultRequestTimeout = 30 * time.Second

	// maxPipelineRestarts bounds how many times a retry-after middleware
	// may restart a single logical request.
	maxPipelineRestarts = 3

	// maxResponseBody caps how much of a response body is materialized.
	maxResponseBody = 32 << 20
)

// Extras keys honoured by the dispatcher.
const (
	ExtraProxy     = "proxy"
	ExtraProxyUser = "proxy_user"
	ExtraProxyPass = "proxy_pass"
)

// Pipeline runs requests through the middleware chain: request hooks in
// registration order, HTTP dispatch, response hooks in reverse order.
type Pipeline struct {
	middlewares []Middleware
	overrides   map[string]map[string]any
	client      *http.Client
	timeout     time.Duration
	log         logger.Logger
}

// PipelineOption configures a pipeline.
type PipelineOption func(*Pipeline)

// WithRequestTimeout overrides the per-request dispatch timeout.
func WithRequestTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.timeout = d }
}

// WithHTTPClient overrides the dispatch client.
func WithHTTPClient(client *http.Client) PipelineOption {
	return func(p *Pipeline) { p.client = client }
}

// NewPipeline builds a pipeline over the registered middleware with the
// scraper's middleware overrides. Override names that match no registered
// middleware are logged and ignored.
func NewPipeline(middlewares []Middleware, overrides map[string]map[string]any, log logger.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		middlewares: middlewares,
		overrides:   overrides,
		client:      &http.Client{},
		timeout:     defaultRequestTimeout,
		log:         log,
	}
	for _, opt := range opts {
		opt(p)
	}

	known := make(map[string]bool, len(middlewares))
	for _, m := range middlewares {
		known[m.Name()] = true
	}
	for name := range overrides {
		if !known[name] {
			log.Warn("middleware override for unknown middleware", logger.String("middleware", name))
		}
	}
	return p
}

// Middleware returns a registered middleware by name.
func (p *Pipeline) Middleware(name string) (Middleware, bool) {
	for _, m := range p.middlewares {
		if m.Name() == name {
			return m, true
		}
	}
	return nil, false
}

// Do runs a request through the chain and dispatches it.
func (p *Pipeline) Do(ctx context.Context, req *Request) (*Response, error) {
	for restart := 0; ; restart++ {
		resp, err := p.run(ctx, req)
		var retry *RetryAfterError
		if errors.As(err, &retry) && restart < maxPipelineRestarts {
			p.log.Debug("pipeline restart requested",
				logger.String("url", req.URL),
				logger.Duration("delay", retry.Delay))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retry.Delay):
			}
			continue
		}
		return resp, err
	}
}

func (p *Pipeline) run(ctx context.Context, req *Request) (*Response, error) {
	for _, m := range p.middlewares {
		rm, ok := m.(RequestMiddleware)
		if !ok {
			continue
		}
		metrics.MiddlewareInvocations.WithLabelValues(m.Name(), "request").Inc()
		next, err := rm.OnRequest(ctx, req, p.overrides[m.Name()])
		if err != nil {
			return nil, wrapMiddlewareErr(m.Name(), err)
		}
		if next != nil {
			req = next
		}
	}

	resp, err := p.dispatch(ctx, req)
	if err != nil {
		return nil, err
	}

	for i := len(p.middlewares) - 1; i >= 0; i-- {
		m := p.middlewares[i]
		rm, ok := m.(ResponseMiddleware)
		if !ok {
			continue
		}
		metrics.MiddlewareInvocations.WithLabelValues(m.Name(), "response").Inc()
		next, err := rm.OnResponse(ctx, req, resp, p.overrides[m.Name()])
		if err != nil {
			return nil, wrapMiddlewareErr(m.Name(), err)
		}
		if next != nil {
			resp = next
		}
	}
	return resp, nil
}

// wrapMiddlewareErr names the failing middleware while keeping control-flow
// errors detectable with errors.As/Is.
func wrapMiddlewareErr(name string, err error) error {
	var retry *RetryAfterError
	if errors.As(err, &retry) {
		return err
	}
	return &MiddlewareError{Middleware: name, Err: err}
}

func (p *Pipeline) dispatch(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range req.Header {
		httpReq.Header[key] = values
	}

	client, err := p.clientFor(req)
	if err != nil {
		return nil, err
	}
	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Header:     httpResp.Header,
		Body:       data,
		Request:    req,
	}, nil
}

// clientFor returns the shared client, or a proxy-aware copy when a proxy
// middleware attached dispatcher hints to the request.
func (p *Pipeline) clientFor(req *Request) (*http.Client, error) {
	proxyRaw, ok := req.Extras[ExtraProxy].(string)
	if !ok || proxyRaw == "" {
		return p.client, nil
	}

	proxyURL, err := url.Parse(proxyRaw)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	if user, ok := req.Extras[ExtraProxyUser].(string); ok && user != "" {
		pass, _ := req.Extras[ExtraProxyPass].(string)
		proxyURL.User = url.UserPassword(user, pass)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyURL(proxyURL)
	return &http.Client{Transport: transport, Timeout: p.client.Timeout}, nil
}
