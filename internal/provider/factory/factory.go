package factory

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"chatbridge/internal/config"
	"chatbridge/internal/models"
	"chatbridge/internal/provider"
	anthropicClient "chatbridge/internal/provider/anthropic"
	openaiClient "chatbridge/internal/provider/openai"
)

const (
	defaultHTTPTimeout     = 60 * time.Second
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// NewRegistry constructs one backend client per configured backend. Each
// backend gets a timed client for synchronous calls and an untimed client for
// streams, both sharing one transport.
func NewRegistry(cfg config.Config) (*provider.Registry, error) {
	backends := make([]provider.Backend, 0, len(cfg.Backends))

	for _, backendCfg := range cfg.Backends {
		timeout := backendCfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client := newHTTPClient(timeout)
		streamClient := &http.Client{Transport: client.Transport}

		endpoint := backendCfg.Endpoint()

		var (
			backend provider.Backend
			err     error
		)
		switch endpoint.Schema {
		case models.SchemaOpenAI:
			backend, err = openaiClient.New(endpoint, client, streamClient)
		case models.SchemaAnthropic:
			backend, err = anthropicClient.New(endpoint, client, streamClient)
		default:
			err = fmt.Errorf("unsupported api_style %q", endpoint.Schema)
		}
		if err != nil {
			return nil, fmt.Errorf("initialise backend %s: %w", endpoint.Name, err)
		}
		backends = append(backends, backend)
	}

	registry, err := provider.NewRegistry(backends...)
	if err != nil {
		return nil, fmt.Errorf("register backends: %w", err)
	}
	return registry, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
