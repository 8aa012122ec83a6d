// Package metrics provides the Prometheus collectors for the gateway.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// LatencyBuckets covers LLM inference latencies from 100ms to 120s.
var LatencyBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts inbound requests by route and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbridge_requests_total",
			Help: "Inbound requests",
		},
		[]string{"route", "status"},
	)

	// RequestDuration records inbound request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatbridge_request_duration_seconds",
			Help:    "Inbound request duration",
			Buckets: LatencyBuckets,
		},
		[]string{"route"},
	)

	// StreamingConnections tracks relayed streams in flight.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatbridge_streaming_connections_active",
			Help: "Active streaming relays",
		},
	)

	// UpstreamRequestsTotal counts calls sent to backends. status is the HTTP
	// status code, or "error" when no response was received.
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbridge_upstream_requests_total",
			Help: "Upstream requests",
		},
		[]string{"backend", "model", "status"},
	)

	// UpstreamLatency records the time until upstream response headers arrive.
	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatbridge_upstream_latency_seconds",
			Help:    "Upstream latency",
			Buckets: LatencyBuckets,
		},
		[]string{"backend", "model"},
	)

	// TranslationFailuresTotal counts requests or responses that could not be
	// mapped between schemas.
	TranslationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbridge_translation_failures_total",
			Help: "Schema translation failures",
		},
		[]string{"from", "to"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		UpstreamRequestsTotal,
		UpstreamLatency,
		TranslationFailuresTotal,
	)
}

// ObserveUpstream records one upstream call. status 0 means the transport failed.
func ObserveUpstream(backend, model string, status int, elapsed time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	UpstreamRequestsTotal.WithLabelValues(backend, model, label).Inc()
	UpstreamLatency.WithLabelValues(backend, model).Observe(elapsed.Seconds())
}

// Middleware records request count and duration per matched route.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := strconv.Itoa(c.Response().Status/100) + "xx"

			RequestsTotal.WithLabelValues(route, status).Inc()
			RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
