// Package handler defines scraper handlers and their registry. A handler
// receives a scraping context and returns the task result string.
package handler

import (
	"errors"
	"fmt"

	"github.com/quarryd/quarry/internal/scraper"
)

// ErrUnknownHandler is returned when a task references a handler that is
// not registered.
var ErrUnknownHandler = errors.New("unknown handler")

// Handler executes a scraper run.
type Handler interface {
	// Name uniquely identifies the handler.
	Name() string

	// Run executes the handler and returns the task result.
	Run(ctx *scraper.Context) (string, error)
}

// Registry is an immutable name-to-handler lookup, fixed at construction.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds a registry. Duplicate names fail construction.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	byName := make(map[string]Handler, len(handlers))
	for _, h := range handlers {
		if _, ok := byName[h.Name()]; ok {
			return nil, fmt.Errorf("duplicate handler %q", h.Name())
		}
		byName[h.Name()] = h
	}
	return &Registry{handlers: byName}, nil
}

// Get returns the handler or ErrUnknownHandler.
func (r *Registry) Get(name string) (Handler, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHandler, name)
	}
	return h, nil
}

// Names returns all registered handler names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
