package anthropic

import (
	"context"
	"io"
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
		gotBody   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, err := New(models.BackendEndpoint{
		Name:    "claude",
		Schema:  models.SchemaAnthropic,
		BaseURL: srv.URL + "/",
		APIKey:  "sk-ant",
		Headers: map[string]string{"X-Tenant": "team-a"},
	}, srv.Client(), srv.Client())
	require.NoError(t, err)
	assert.Equal(t, "claude", client.Name())
	assert.Equal(t, models.SchemaAnthropic, client.Schema())

	resp, err := client.Send(context.Background(), []byte(`{"model":"m"}`), false)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "/v1/messages", gotPath)
	assert.Equal(t, `{"model":"m"}`, string(gotBody))
	assert.Equal(t, "sk-ant", gotHeader.Get("x-api-key"))
	assert.Equal(t, "Bearer sk-ant", gotHeader.Get("Authorization"))
	assert.Equal(t, apiVersion, gotHeader.Get("anthropic-version"))
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "application/json", gotHeader.Get("Accept"))
	assert.Equal(t, "gzip, br", gotHeader.Get("Accept-Encoding"))
	assert.Equal(t, "team-a", gotHeader.Get("X-Tenant"))
}

func TestSendStreamAndNoKey(t *testing.T) {
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		w.Header().Set("Content-Type", "text/event-stream")
	}))
	defer srv.Close()

	client, err := New(models.BackendEndpoint{
		Name:    "claude",
		Schema:  models.SchemaAnthropic,
		BaseURL: srv.URL,
	}, srv.Client(), srv.Client())
	require.NoError(t, err)

	resp, err := client.Send(context.Background(), []byte(`{}`), true)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "text/event-stream", gotHeader.Get("Accept"))
	assert.Empty(t, gotHeader.Get("x-api-key"))
	assert.Empty(t, gotHeader.Get("Authorization"))
}

func TestNewRejectsInvalidEndpoint(t *testing.T) {
	_, err := New(models.BackendEndpoint{Name: "x", Schema: models.SchemaOpenAI, BaseURL: "http://x"}, http.DefaultClient, http.DefaultClient)
	assert.Error(t, err)

	_, err = New(models.BackendEndpoint{Name: "x", Schema: models.SchemaAnthropic}, http.DefaultClient, http.DefaultClient)
	assert.Error(t, err)

	_, err = New(models.BackendEndpoint{Name: "x", Schema: models.SchemaAnthropic, BaseURL: "http://x"}, nil, http.DefaultClient)
	assert.Error(t, err)
}
