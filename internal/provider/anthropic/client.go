package anthropic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"chatbridge/internal/models"
)

const (
	contentTypeJSON = "application/json"
	contentTypeSSE  = "text/event-stream"
	userAgent       = "chatbridge/0.1"
	apiVersion      = "2023-06-01"
)

// Client sends Anthropic Messages bodies to one backend.
type Client struct {
	name         string
	apiKey       string
	headers      map[string]string
	client       *http.Client
	streamClient *http.Client
	messagesURL  string
}

// New constructs a client for endpoint. streamClient serves streaming calls
// and should carry no overall timeout.
func New(endpoint models.BackendEndpoint, client, streamClient *http.Client) (*Client, error) {
	if client == nil || streamClient == nil {
		return nil, errors.New("http client must not be nil")
	}
	if endpoint.Schema != models.SchemaAnthropic {
		return nil, fmt.Errorf("anthropic client %q received api_style %q", endpoint.Name, endpoint.Schema)
	}
	baseURL := strings.TrimRight(endpoint.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	return &Client{
		name:         endpoint.Name,
		apiKey:       endpoint.APIKey,
		headers:      endpoint.Headers,
		client:       client,
		streamClient: streamClient,
		messagesURL:  baseURL + "/v1/messages",
	}, nil
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) Schema() models.Schema {
	return models.SchemaAnthropic
}

// Send posts body to the messages endpoint.
func (c *Client) Send(ctx context.Context, body []byte, stream bool) (*http.Response, error) {
	req, err := c.newRequest(ctx, body, stream)
	if err != nil {
		return nil, err
	}

	httpClient := c.client
	if stream {
		httpClient = c.streamClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, body []byte, stream bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("anthropic-version", apiVersion)
	if stream {
		req.Header.Set("Accept", contentTypeSSE)
	} else {
		req.Header.Set("Accept", contentTypeJSON)
		req.Header.Set("Accept-Encoding", "gzip, br")
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	return req, nil
}
