package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"chatbridge/internal/models"
)

// ErrUnknownBackend indicates the route names a backend that is not registered.
var ErrUnknownBackend = errors.New("unknown backend")

// ErrDuplicateBackend indicates an attempt to register the same backend twice.
var ErrDuplicateBackend = errors.New("backend already registered")

// ErrSchemaMismatch indicates a body was dispatched to a backend that speaks another schema.
var ErrSchemaMismatch = errors.New("body schema does not match backend")

// Backend sends native request bodies to one upstream.
type Backend interface {
	Name() string
	Schema() models.Schema
	// Send posts body and returns the raw response. The caller owns the body.
	Send(ctx context.Context, body []byte, stream bool) (*http.Response, error)
}

// Registry maps backend names to backends. It is immutable once built.
type Registry struct {
	backends map[string]Backend
	order    []string
}

// NewRegistry constructs a registry holding the given backends.
func NewRegistry(backends ...Backend) (*Registry, error) {
	r := &Registry{
		backends: make(map[string]Backend, len(backends)),
		order:    make([]string, 0, len(backends)),
	}
	for _, b := range backends {
		if b == nil {
			return nil, errors.New("backend must not be nil")
		}
		if _, exists := r.backends[b.Name()]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBackend, b.Name())
		}
		r.backends[b.Name()] = b
		r.order = append(r.order, b.Name())
	}
	return r, nil
}

// Lookup returns the backend registered under name.
func (r *Registry) Lookup(name string) (Backend, error) {
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	return b, nil
}

// Names lists backends in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
