package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentForms(t *testing.T) {
	text := TextContent("hello")
	assert.True(t, text.IsText())
	assert.Equal(t, "hello", text.Text())
	assert.Equal(t, []ContentBlock{TextBlock{Text: "hello"}}, text.Blocks())

	assert.Nil(t, TextContent("").Blocks())

	blocks := BlockContent(TextBlock{Text: "a"}, ToolUseBlock{ID: "t"}, TextBlock{Text: "b"})
	assert.False(t, blocks.IsText())
	assert.Equal(t, "ab", blocks.Text())
	assert.Len(t, blocks.Blocks(), 3)

	empty := BlockContent()
	assert.False(t, empty.IsText())
	assert.NotNil(t, empty.Blocks())
	assert.Empty(t, empty.Blocks())

	var zero Content
	assert.True(t, zero.IsText())
	assert.Equal(t, "", zero.Text())
}

func TestToolResultText(t *testing.T) {
	tests := []struct {
		name    string
		content json.RawMessage
		want    string
	}{
		{name: "string", content: json.RawMessage(`"done"`), want: "done"},
		{name: "structured", content: json.RawMessage(`[{"type":"text","text":"x"}]`), want: `[{"type":"text","text":"x"}]`},
		{name: "null", content: json.RawMessage(`null`), want: ""},
		{name: "absent", content: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToolResultBlock{Content: tt.content}.ResultText())
		})
	}
}

func TestBlockTypes(t *testing.T) {
	blocks := map[string]ContentBlock{
		"text":              TextBlock{},
		"image":             ImageBlock{},
		"tool_use":          ToolUseBlock{},
		"tool_result":       ToolResultBlock{},
		"thinking":          ThinkingBlock{},
		"redacted_thinking": RedactedThinkingBlock{},
		"document":          RawBlock{Type: "document"},
	}
	for want, block := range blocks {
		assert.Equal(t, want, block.BlockType())
	}
}

func TestUsageTotal(t *testing.T) {
	assert.Equal(t, 15, Usage{InputTokens: 10, OutputTokens: 5}.Total())
	assert.Equal(t, 0, Usage{}.Total())
}

func TestSchemaValid(t *testing.T) {
	assert.True(t, SchemaOpenAI.Valid())
	assert.True(t, SchemaAnthropic.Valid())
	assert.False(t, Schema("gemini").Valid())
}
