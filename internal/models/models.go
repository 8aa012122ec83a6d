package models

import (
	"encoding/json"
	"strings"
)

// Schema identifies one of the public chat APIs, which is also the native API of a backend.
type Schema string

const (
	SchemaOpenAI    Schema = "openai"
	SchemaAnthropic Schema = "anthropic"
)

// Valid reports whether s names a known schema.
func (s Schema) Valid() bool {
	return s == SchemaOpenAI || s == SchemaAnthropic
}

// Role is the author of a message in the canonical model.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	// RoleDeveloper is the OpenAI successor of the system role.
	RoleDeveloper Role = "developer"
	// RoleFunction is the legacy OpenAI function-result role.
	RoleFunction Role = "function"
)

// Message represents a single conversational message in the canonical schema.
type Message struct {
	Role    Role
	Content Content
}

// Content is either plain text or an ordered sequence of blocks.
// The zero value is empty text.
type Content struct {
	text   string
	blocks []ContentBlock
	isList bool
}

// TextContent builds plain-text content.
func TextContent(text string) Content {
	return Content{text: text}
}

// BlockContent builds block content. A nil or empty slice is still block-shaped.
func BlockContent(blocks ...ContentBlock) Content {
	if blocks == nil {
		blocks = []ContentBlock{}
	}
	return Content{blocks: blocks, isList: true}
}

// IsText reports whether the content was given as a plain string.
func (c Content) IsText() bool { return !c.isList }

// Text returns the plain string for text content, or the concatenated text blocks otherwise.
func (c Content) Text() string {
	if !c.isList {
		return c.text
	}
	var b strings.Builder
	for _, block := range c.blocks {
		if t, ok := block.(TextBlock); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// Blocks returns the content as blocks; plain text becomes a single text block
// unless it is empty.
func (c Content) Blocks() []ContentBlock {
	if c.isList {
		return c.blocks
	}
	if c.text == "" {
		return nil
	}
	return []ContentBlock{TextBlock{Text: c.text}}
}

// ContentBlock is a closed sum type: only the block types in this package implement it.
type ContentBlock interface {
	BlockType() string
	isContentBlock()
}

// TextBlock is a run of text.
type TextBlock struct {
	Text string
}

// ImageBlock is an image given either inline as base64 data or by URL.
// URL is set only for referenced images and is kept opaque.
type ImageBlock struct {
	MediaType string
	Data      string
	URL       string
}

// ToolUseBlock is a model-issued tool invocation. Input is kept as opaque JSON.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResultBlock carries the output of a tool call back to the model.
// Content is either a JSON string or an opaque structured value.
type ToolResultBlock struct {
	ToolUseID string
	Content   json.RawMessage
	IsError   *bool
}

// ThinkingBlock is a signed reasoning trace.
type ThinkingBlock struct {
	Thinking  string
	Signature string
}

// RedactedThinkingBlock is an encrypted reasoning trace.
type RedactedThinkingBlock struct {
	Data string
}

// RawBlock preserves a block of a type this gateway does not model. Schema
// is the wire format Raw was read from; it is only re-emitted into that schema.
type RawBlock struct {
	Type   string
	Schema Schema
	Raw    json.RawMessage
}

func (TextBlock) BlockType() string             { return "text" }
func (ImageBlock) BlockType() string            { return "image" }
func (ToolUseBlock) BlockType() string          { return "tool_use" }
func (ToolResultBlock) BlockType() string       { return "tool_result" }
func (ThinkingBlock) BlockType() string         { return "thinking" }
func (RedactedThinkingBlock) BlockType() string { return "redacted_thinking" }
func (b RawBlock) BlockType() string            { return b.Type }

func (TextBlock) isContentBlock()             {}
func (ImageBlock) isContentBlock()            {}
func (ToolUseBlock) isContentBlock()          {}
func (ToolResultBlock) isContentBlock()       {}
func (ThinkingBlock) isContentBlock()         {}
func (RedactedThinkingBlock) isContentBlock() {}
func (RawBlock) isContentBlock()              {}

// ResultText returns the tool result as a flat string: JSON strings are unquoted,
// anything else is returned as compact JSON text.
func (b ToolResultBlock) ResultText() string {
	if len(b.Content) == 0 || string(b.Content) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	return string(b.Content)
}

// ToolDefinition describes a function the model may call. Parameters is an
// opaque JSON schema copied verbatim between schemas.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToolChoiceMode enumerates the tool-choice directives.
type ToolChoiceMode int

const (
	ToolChoiceUnset ToolChoiceMode = iota
	ToolChoiceAuto
	ToolChoiceNone
	ToolChoiceAny
	ToolChoiceTool
)

// ToolChoice constrains tool invocation. Name is set only for ToolChoiceTool.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

// ThinkingConfig enables extended reasoning with a token budget.
type ThinkingConfig struct {
	Type         string
	BudgetTokens int
}

// ChatRequest is the canonical representation of a chat completion request.
type ChatRequest struct {
	Model         string
	System        string
	Messages      []Message
	MaxTokens     *int
	Temperature   *float64
	TopP          *float64
	TopK          *int
	Stream        bool
	StopSequences []string
	Tools         []ToolDefinition
	ToolChoice    ToolChoice
	Thinking      *ThinkingConfig
}

// ChatResponse captures a backend response in the canonical schema.
type ChatResponse struct {
	ID           string
	Model        string
	Content      []ContentBlock
	StopReason   string
	StopSequence string
	Usage        Usage
}

// Usage records token accounting information. Totals are always derived.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns InputTokens + OutputTokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Route is the resolved backend and backend-native model id for a requested model.
type Route struct {
	Backend string
	Model   string
}

// BackendEndpoint identifies a configured upstream.
type BackendEndpoint struct {
	Name    string
	Schema  Schema
	BaseURL string
	APIKey  string
	Headers map[string]string
}
