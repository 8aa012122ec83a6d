package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatbridge/internal/models"
	"chatbridge/internal/provider"
	anthropicClient "chatbridge/internal/provider/anthropic"
	openaiClient "chatbridge/internal/provider/openai"
	"chatbridge/internal/router"
	"chatbridge/internal/translator"
)

// upstream records the last request body and answers with a canned response.
type upstream struct {
	srv         *httptest.Server
	body        []byte
	path        string
	status      int
	contentType string
	response    string
}

func newUpstream(t *testing.T, response string) *upstream {
	t.Helper()
	u := &upstream{status: http.StatusOK, contentType: "application/json", response: response}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.path = r.URL.Path
		u.body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", u.contentType)
		w.WriteHeader(u.status)
		_, _ = w.Write([]byte(u.response))
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) received(t *testing.T) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(u.body, &out))
	return out
}

type fixture struct {
	gateway   *Gateway
	anthropic *upstream
	openai    *upstream
}

func newFixture(t *testing.T, anthropicResponse, openaiResponse string) *fixture {
	t.Helper()
	f := &fixture{
		anthropic: newUpstream(t, anthropicResponse),
		openai:    newUpstream(t, openaiResponse),
	}

	claude, err := anthropicClient.New(models.BackendEndpoint{
		Name:    "anthropic",
		Schema:  models.SchemaAnthropic,
		BaseURL: f.anthropic.srv.URL,
		APIKey:  "sk-ant",
	}, f.anthropic.srv.Client(), f.anthropic.srv.Client())
	require.NoError(t, err)

	local, err := openaiClient.New(models.BackendEndpoint{
		Name:    "local",
		Schema:  models.SchemaOpenAI,
		BaseURL: f.openai.srv.URL + "/v1",
	}, f.openai.srv.Client(), f.openai.srv.Client())
	require.NoError(t, err)

	registry, err := provider.NewRegistry(claude, local)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := router.New([]router.Rule{
		{Key: "claude", Route: models.Route{Backend: "anthropic", Model: "claude-sonnet-4-20250514"}},
		{Key: "ghost", Route: models.Route{Backend: "missing", Model: "ghost"}},
	}, "local")

	gw, err := New(rt, provider.NewDispatcher(registry, logger), logger)
	require.NoError(t, err)
	gw.now = func() time.Time { return time.Unix(1700000000, 0) }
	f.gateway = gw
	return f
}

const anthropicReply = `{
	"id": "msg_01",
	"type": "message",
	"role": "assistant",
	"model": "claude-sonnet-4-20250514",
	"content": [{"type": "text", "text": "Bonjour"}],
	"stop_reason": "end_turn",
	"usage": {"input_tokens": 9, "output_tokens": 3}
}`

const openaiReply = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1,
	"model": "llama-3",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hi there"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 4, "completion_tokens": 2, "total_tokens": 6}
}`

func TestHandleOpenAIToAnthropicBackend(t *testing.T) {
	f := newFixture(t, anthropicReply, openaiReply)

	res, err := f.gateway.Handle(context.Background(), models.SchemaOpenAI, []byte(`{
		"model": "claude-3-opus",
		"messages": [
			{"role": "system", "content": "Answer in French."},
			{"role": "user", "content": "Hello"}
		]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "/v1/messages", f.anthropic.path)
	sent := f.anthropic.received(t)
	assert.Equal(t, "claude-sonnet-4-20250514", sent["model"])
	assert.Equal(t, "Answer in French.", sent["system"])
	assert.Equal(t, float64(4096), sent["max_tokens"])
	assert.Equal(t, []any{map[string]any{"role": "user", "content": "Hello"}}, sent["messages"])

	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "application/json", res.ContentType)
	assert.Equal(t, models.Route{Backend: "anthropic", Model: "claude-sonnet-4-20250514"}, res.Route)
	assert.JSONEq(t, `{
		"id": "msg_01",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "claude-3-opus",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "Bonjour"}, "finish_reason": "end_turn"}],
		"usage": {"prompt_tokens": 9, "completion_tokens": 3, "total_tokens": 12}
	}`, string(res.Body))
}

func TestHandleAnthropicToOpenAIBackend(t *testing.T) {
	f := newFixture(t, anthropicReply, openaiReply)

	res, err := f.gateway.Handle(context.Background(), models.SchemaAnthropic, []byte(`{
		"model": "llama-3",
		"system": "Be brief.",
		"max_tokens": 64,
		"messages": [{"role": "user", "content": "Hi"}]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "/v1/chat/completions", f.openai.path)
	sent := f.openai.received(t)
	assert.Equal(t, "llama-3", sent["model"])
	assert.Equal(t, []any{
		map[string]any{"role": "system", "content": "Be brief."},
		map[string]any{"role": "user", "content": "Hi"},
	}, sent["messages"])

	var out map[string]any
	require.NoError(t, json.Unmarshal(res.Body, &out))
	assert.Equal(t, "chatcmpl-1", out["id"])
	assert.Equal(t, "message", out["type"])
	assert.Equal(t, "stop", out["stop_reason"])
	assert.Equal(t, []any{map[string]any{"type": "text", "text": "Hi there"}}, out["content"])
	assert.Equal(t, map[string]any{"input_tokens": float64(4), "output_tokens": float64(2)}, out["usage"])
}

func TestHandleSameSchemaPassthrough(t *testing.T) {
	f := newFixture(t, anthropicReply, openaiReply)
	f.openai.contentType = "application/json; charset=utf-8"

	res, err := f.gateway.Handle(context.Background(), models.SchemaOpenAI, []byte(`{"model":"mistral","messages":[{"role":"user","content":"Hi"}],"logprobs":true}`))
	require.NoError(t, err)

	assert.Equal(t, openaiReply, string(res.Body))
	assert.Equal(t, "application/json; charset=utf-8", res.ContentType)

	sent := f.openai.received(t)
	assert.Equal(t, "mistral", sent["model"])
	assert.Equal(t, true, sent["logprobs"])
}

func TestHandleStreamRelaysRawBody(t *testing.T) {
	const events = "event: message_start\ndata: {}\n\nevent: message_stop\ndata: {}\n\n"
	f := newFixture(t, events, openaiReply)
	f.anthropic.contentType = "text/event-stream"

	res, err := f.gateway.Handle(context.Background(), models.SchemaOpenAI, []byte(`{"model":"claude-3","stream":true,"messages":[{"role":"user","content":"Hi"}]}`))
	require.NoError(t, err)
	require.NotNil(t, res.Stream)
	defer res.Stream.Close()

	assert.Nil(t, res.Body)
	assert.Equal(t, "text/event-stream", res.ContentType)
	data, err := io.ReadAll(res.Stream)
	require.NoError(t, err)
	assert.Equal(t, events, string(data))
	assert.Equal(t, true, f.anthropic.received(t)["stream"])
}

func TestHandleErrors(t *testing.T) {
	f := newFixture(t, anthropicReply, openaiReply)

	t.Run("validation", func(t *testing.T) {
		_, err := f.gateway.Handle(context.Background(), models.SchemaOpenAI, []byte(`{"model":"x","messages":[]}`))
		var validationErr *translator.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "messages", validationErr.Path)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := f.gateway.Handle(context.Background(), models.SchemaOpenAI, []byte(`{"model":"ghost","messages":[{"role":"user","content":"Hi"}]}`))
		var routingErr *provider.RoutingError
		require.ErrorAs(t, err, &routingErr)
		assert.Equal(t, "missing", routingErr.Backend)
	})

	t.Run("upstream failure", func(t *testing.T) {
		f.anthropic.status = http.StatusUnauthorized
		f.anthropic.response = `{"type":"error","error":{"type":"authentication_error","message":"bad key"}}`
		defer func() { f.anthropic.status = http.StatusOK }()

		_, err := f.gateway.Handle(context.Background(), models.SchemaOpenAI, []byte(`{"model":"claude-3","messages":[{"role":"user","content":"Hi"}]}`))
		var upstreamErr *provider.UpstreamError
		require.ErrorAs(t, err, &upstreamErr)
		assert.Equal(t, http.StatusUnauthorized, upstreamErr.Status)
		assert.Contains(t, string(upstreamErr.Body), "authentication_error")
	})

	t.Run("untranslatable response", func(t *testing.T) {
		f.openai.response = `{"id":"x","choices":[]}`
		defer func() { f.openai.response = openaiReply }()

		_, err := f.gateway.Handle(context.Background(), models.SchemaAnthropic, []byte(`{"model":"llama","max_tokens":5,"messages":[{"role":"user","content":"Hi"}]}`))
		var translationErr *translator.TranslationError
		require.ErrorAs(t, err, &translationErr)
	})
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, nil, nil)
	assert.Error(t, err)
}

func TestHandleForwardsStructurallyValidBodies(t *testing.T) {
	tests := []struct {
		name     string
		schema   models.Schema
		body     string
		upstream func(f *fixture) *upstream
	}{
		{
			name:     "developer role",
			schema:   models.SchemaOpenAI,
			body:     `{"model":"mistral","messages":[{"role":"developer","content":"Be terse."},{"role":"user","content":"Hi"}]}`,
			upstream: func(f *fixture) *upstream { return f.openai },
		},
		{
			name:     "audio part",
			schema:   models.SchemaOpenAI,
			body:     `{"model":"mistral","messages":[{"role":"user","content":[{"type":"input_audio","input_audio":{"data":"AAA=","format":"wav"}}]}]}`,
			upstream: func(f *fixture) *upstream { return f.openai },
		},
		{
			name:     "remote image",
			schema:   models.SchemaOpenAI,
			body:     `{"model":"mistral","messages":[{"role":"user","content":[{"type":"text","text":"What?"},{"type":"image_url","image_url":{"url":"https://example.com/cat.png"}}]}]}`,
			upstream: func(f *fixture) *upstream { return f.openai },
		},
		{
			name:     "url image source",
			schema:   models.SchemaAnthropic,
			body:     `{"model":"claude-3","max_tokens":5,"messages":[{"role":"user","content":[{"type":"image","source":{"type":"url","url":"https://example.com/cat.png"}}]}]}`,
			upstream: func(f *fixture) *upstream { return f.anthropic },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, anthropicReply, openaiReply)

			res, err := f.gateway.Handle(context.Background(), tt.schema, []byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, res.Status)

			sent := tt.upstream(f).received(t)
			var original map[string]any
			require.NoError(t, json.Unmarshal([]byte(tt.body), &original))
			assert.Equal(t, original["messages"], sent["messages"])
		})
	}
}

func TestStreamCancellationClosesUpstream(t *testing.T) {
	started := make(chan struct{})
	closed := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
		close(closed)
	}))
	t.Cleanup(srv.Close)

	local, err := openaiClient.New(models.BackendEndpoint{
		Name:    "local",
		Schema:  models.SchemaOpenAI,
		BaseURL: srv.URL + "/v1",
	}, srv.Client(), srv.Client())
	require.NoError(t, err)
	registry, err := provider.NewRegistry(local)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := New(router.New(nil, "local"), provider.NewDispatcher(registry, logger), logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := gw.Handle(ctx, models.SchemaOpenAI, []byte(`{"model":"llama","stream":true,"messages":[{"role":"user","content":"Hi"}]}`))
	require.NoError(t, err)
	require.NotNil(t, res.Stream)
	defer res.Stream.Close()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream never started streaming")
	}

	select {
	case <-closed:
		t.Fatal("upstream closed before cancellation")
	default:
	}

	cancel()

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream connection was not closed after cancellation")
	}
}
