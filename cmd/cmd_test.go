package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "chatbridge v0.1.0\n", out)
}

func TestRouteCommand(t *testing.T) {
	tests := []struct {
		model    string
		want     string
		fallback bool
	}{
		{model: "claude-3-opus", want: "claude-3-opus -> backend=anthropic model=claude-sonnet-4-20250514\n"},
		{model: "gpt-4-turbo", want: "gpt-4-turbo -> backend=openai model=gpt-4\n"},
		{model: "big-pickle", want: "big-pickle -> backend=custom model=big-pickle\n"},
		{model: "mistral-large", want: "mistral-large -> backend=custom model=mistral-large\n", fallback: true},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			out, err := runCommand(t, "route", tt.model)
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
			if tt.fallback {
				assert.Contains(t, out, "no rule matched")
			} else {
				assert.NotContains(t, out, "no rule matched")
			}
		})
	}
}

func TestRouteCommandWithConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backends:
  - name: vllm
    api_style: openai
    base_url: http://localhost:8000/v1
routes:
  - match: qwen
    backend: vllm
    model: Qwen/Qwen2.5-7B-Instruct
default_backend: vllm
`), 0o600))

	out, err := runCommand(t, "--config", path, "route", "qwen-7b")
	require.NoError(t, err)
	assert.Equal(t, "qwen-7b -> backend=vllm model=Qwen/Qwen2.5-7B-Instruct\n", out)
}

func TestRouteCommandRequiresModel(t *testing.T) {
	_, err := runCommand(t, "route")
	assert.Error(t, err)
}

func TestServeRejectsBadConfig(t *testing.T) {
	_, err := runCommand(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "serve")
	assert.Error(t, err)
}
