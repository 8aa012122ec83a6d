package provider

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"chatbridge/internal/metrics"
	"chatbridge/internal/models"
)

// Result is a successful backend call: either a fully read Body or an open
// Stream that the caller must close.
type Result struct {
	Status      int
	ContentType string
	Body        []byte
	Stream      io.ReadCloser
}

// Dispatcher sends native bodies to the backend named by a route.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

// NewDispatcher constructs a dispatcher over an immutable registry.
func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		logger:   logger,
	}
}

// Registry exposes the backend registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Call substitutes the backend-native model id into body and issues exactly
// one request. body must already be in schema, the native schema of the backend.
func (d *Dispatcher) Call(ctx context.Context, route models.Route, schema models.Schema, body []byte, stream bool) (*Result, error) {
	backend, err := d.registry.Lookup(route.Backend)
	if err != nil {
		return nil, &RoutingError{Backend: route.Backend, Err: err}
	}
	if backend.Schema() != schema {
		return nil, &RoutingError{
			Backend: route.Backend,
			Err:     fmt.Errorf("%w: %s body for %s backend", ErrSchemaMismatch, schema, backend.Schema()),
		}
	}

	payload, err := sjson.SetBytes(body, "model", route.Model)
	if err != nil {
		return nil, fmt.Errorf("substitute model %q: %w", route.Model, err)
	}

	start := time.Now()
	resp, err := backend.Send(ctx, payload, stream)
	if err != nil {
		metrics.ObserveUpstream(route.Backend, route.Model, 0, time.Since(start))
		return nil, &UpstreamError{Backend: route.Backend, Err: err}
	}
	metrics.ObserveUpstream(route.Backend, route.Model, resp.StatusCode, time.Since(start))

	contentType := resp.Header.Get("Content-Type")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		data, readErr := readBody(resp)
		d.logger.Warn("upstream returned error",
			"backend", route.Backend,
			"model", route.Model,
			"status", resp.StatusCode,
			"message", gjson.GetBytes(data, "error.message").String(),
		)
		return nil, &UpstreamError{
			Backend:     route.Backend,
			Status:      resp.StatusCode,
			Body:        data,
			ContentType: contentType,
			Err:         readErr,
		}
	}

	if stream {
		return &Result{Status: resp.StatusCode, ContentType: contentType, Stream: resp.Body}, nil
	}

	defer resp.Body.Close()
	data, err := readBody(resp)
	if err != nil {
		return nil, &UpstreamError{Backend: route.Backend, Err: fmt.Errorf("read response: %w", err)}
	}
	return &Result{Status: resp.StatusCode, ContentType: contentType, Body: data}, nil
}

// readBody reads the whole response, undoing gzip or brotli content encoding.
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("open gzip body: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}
