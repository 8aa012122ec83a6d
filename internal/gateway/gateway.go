package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"chatbridge/internal/metrics"
	"chatbridge/internal/models"
	"chatbridge/internal/provider"
	"chatbridge/internal/router"
	"chatbridge/internal/translator"
)

const contentTypeJSON = "application/json"

// Result is the outbound response for one inbound request. Exactly one of
// Body and Stream is set; the caller must close Stream.
type Result struct {
	Status      int
	ContentType string
	Body        []byte
	Stream      io.ReadCloser
	Route       models.Route
}

// Gateway runs inbound requests through routing, translation and dispatch.
type Gateway struct {
	router     *router.Router
	dispatcher *provider.Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

// New wires a gateway.
func New(rt *router.Router, dispatcher *provider.Dispatcher, logger *slog.Logger) (*Gateway, error) {
	if rt == nil {
		return nil, errors.New("router must not be nil")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		router:     rt,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Router exposes the rule table.
func (g *Gateway) Router() *router.Router {
	return g.router
}

// Handle services body, a request in schema. When the resolved backend speaks
// the same schema the body is forwarded with only the model substituted and
// the upstream response is returned verbatim. Streams are relayed untouched.
func (g *Gateway) Handle(ctx context.Context, schema models.Schema, body []byte) (*Result, error) {
	req, err := translator.DecodeRequest(schema, body)
	if err != nil {
		return nil, err
	}

	route := g.router.Resolve(req.ModelName())
	backend, err := g.dispatcher.Registry().Lookup(route.Backend)
	if err != nil {
		return nil, &provider.RoutingError{Backend: route.Backend, Err: err}
	}
	native := backend.Schema()

	g.logger.Debug("routing request",
		"requested_model", req.ModelName(),
		"backend", route.Backend,
		"model", route.Model,
		"inbound", schema,
		"native", native,
		"stream", req.Streaming(),
	)

	payload := body
	if native != schema {
		payload, err = translator.TranslateRequest(req, native)
		if err != nil {
			metrics.TranslationFailuresTotal.WithLabelValues(string(schema), string(native)).Inc()
			return nil, err
		}
	}

	res, err := g.dispatcher.Call(ctx, route, native, payload, req.Streaming())
	if err != nil {
		return nil, err
	}

	if res.Stream != nil {
		if native != schema {
			g.logger.Warn("relaying stream in backend schema",
				"backend", route.Backend,
				"inbound", schema,
				"native", native,
			)
		}
		return &Result{Status: res.Status, ContentType: res.ContentType, Stream: res.Stream, Route: route}, nil
	}

	if native == schema {
		return &Result{Status: res.Status, ContentType: res.ContentType, Body: res.Body, Route: route}, nil
	}

	out, err := translator.TranslateResponse(native, schema, res.Body, req.ModelName(), g.now().Unix())
	if err != nil {
		metrics.TranslationFailuresTotal.WithLabelValues(string(native), string(schema)).Inc()
		return nil, err
	}
	return &Result{Status: res.Status, ContentType: contentTypeJSON, Body: out, Route: route}, nil
}
