package scraper

import "context"

// Middleware is a named pipeline plugin. A middleware that implements
// neither hook interface is functional: it only exposes helpers to handlers
// through the context's named access.
type Middleware interface {
	Name() string
}

// RequestMiddleware inspects or rewrites outgoing requests. The overrides
// map is the scraper's partial config for this middleware; implementations
// merge it over their defaults with MergeConfig.
type RequestMiddleware interface {
	Middleware
	OnRequest(ctx context.Context, req *Request, overrides map[string]any) (*Request, error)
}

// ResponseMiddleware inspects or replaces responses after dispatch.
type ResponseMiddleware interface {
	Middleware
	OnResponse(ctx context.Context, req *Request, resp *Response, overrides map[string]any) (*Response, error)
}
