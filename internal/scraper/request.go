package scraper

import (
	"encoding/json"
	"net/http"
)

// Request describes an outgoing HTTP call before dispatch. Middleware may
// mutate it in their request hooks. Extras carries middleware-to-dispatcher
// hints, such as the proxy settings.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	Extras map[string]any
}

// NewRequest builds a request with an empty header set.
func NewRequest(method, url string) *Request {
	return &Request{
		Method: method,
		URL:    url,
		Header: make(http.Header),
		Extras: make(map[string]any),
	}
}

// RequestOption mutates a request at construction time.
type RequestOption func(*Request)

// WithHeader sets a single header.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) { r.Header.Set(key, value) }
}

// WithHeaders merges the given headers into the request.
func WithHeaders(h http.Header) RequestOption {
	return func(r *Request) {
		for key, values := range h {
			for _, v := range values {
				r.Header.Add(key, v)
			}
		}
	}
}

// WithBody sets the raw request body.
func WithBody(body []byte) RequestOption {
	return func(r *Request) { r.Body = body }
}

// WithJSONBody marshals v as the request body and sets the content type.
func WithJSONBody(v any) RequestOption {
	return func(r *Request) {
		body, err := json.Marshal(v)
		if err != nil {
			return
		}
		r.Body = body
		r.Header.Set("Content-Type", "application/json")
	}
}

// WithExtra attaches a dispatcher hint.
func WithExtra(key string, value any) RequestOption {
	return func(r *Request) { r.Extras[key] = value }
}

// Response is the materialized result of a dispatched request. The body is
// fully read so middleware and handlers can inspect it repeatedly.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	Request    *Request
}

// Text returns the response body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}
