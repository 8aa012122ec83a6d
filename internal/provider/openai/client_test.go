package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatbridge/internal/models"
)

func TestSendSetsHeaders(t *testing.T) {
	var (
		gotPath   string
		gotHeader http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Clone()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, err := New(models.BackendEndpoint{
		Name:    "openai",
		Schema:  models.SchemaOpenAI,
		BaseURL: srv.URL + "/v1",
		APIKey:  "sk-test",
		Headers: map[string]string{"OpenAI-Organization": "org-1"},
	}, srv.Client(), srv.Client())
	require.NoError(t, err)

	resp, err := client.Send(context.Background(), []byte(`{"model":"gpt-4"}`), false)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotHeader.Get("Authorization"))
	assert.Empty(t, gotHeader.Get("x-api-key"))
	assert.Equal(t, "gzip, br", gotHeader.Get("Accept-Encoding"))
	assert.Equal(t, "org-1", gotHeader.Get("OpenAI-Organization"))
	assert.Equal(t, userAgent, gotHeader.Get("User-Agent"))
}

func TestSendStreamUsesStreamClient(t *testing.T) {
	var gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
	}))
	defer srv.Close()

	unusable := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		t.Fatal("synchronous client used for a stream")
		return nil, nil
	})}

	client, err := New(models.BackendEndpoint{Name: "local", Schema: models.SchemaOpenAI, BaseURL: srv.URL}, unusable, srv.Client())
	require.NoError(t, err)

	resp, err := client.Send(context.Background(), []byte(`{}`), true)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, contentTypeSSE, gotAccept)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestNewRejectsWrongSchema(t *testing.T) {
	_, err := New(models.BackendEndpoint{Name: "x", Schema: models.SchemaAnthropic, BaseURL: "http://x"}, http.DefaultClient, http.DefaultClient)
	assert.Error(t, err)
}
