package translator

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"chatbridge/internal/models"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicRequest models the Anthropic /v1/messages payload.
type AnthropicRequest struct {
	Model         string             `json:"model" validate:"required"`
	System        string             `json:"system,omitempty"`
	Messages      []AnthropicMessage `json:"messages" validate:"required,min=1"`
	MaxTokens     *int               `json:"max_tokens,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	TopK          *int               `json:"top_k,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
	StopSequences StopSequences      `json:"stop_sequences,omitempty"`
	Tools         []AnthropicTool    `json:"tools,omitempty" validate:"omitempty,dive"`
	ToolChoice    json.RawMessage    `json:"tool_choice,omitempty"`
	Thinking      *ThinkingParam     `json:"thinking,omitempty"`
}

// UnmarshalJSON enforces validation and normalises the system and stop unions.
func (r *AnthropicRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model         string            `json:"model"`
		System        json.RawMessage   `json:"system"`
		Messages      []json.RawMessage `json:"messages"`
		MaxTokens     *int              `json:"max_tokens"`
		Temperature   *float64          `json:"temperature"`
		TopP          *float64          `json:"top_p"`
		TopK          *int              `json:"top_k"`
		Stream        bool              `json:"stream"`
		StopSequences json.RawMessage   `json:"stop_sequences"`
		Tools         []AnthropicTool   `json:"tools"`
		ToolChoice    json.RawMessage   `json:"tool_choice"`
		Thinking      *ThinkingParam    `json:"thinking"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return asValidationError(err)
	}

	system, err := parseAnthropicSystem(raw.System)
	if err != nil {
		return withPrefix("system", err)
	}

	var stops StopSequences
	if err := stops.UnmarshalJSON(raw.StopSequences); err != nil {
		return withPrefix("stop_sequences", err)
	}

	messages := make([]AnthropicMessage, 0, len(raw.Messages))
	for i, rawMsg := range raw.Messages {
		var msg AnthropicMessage
		if err := msg.UnmarshalJSON(rawMsg); err != nil {
			return withPrefix(indexPath("messages", i), err)
		}
		messages = append(messages, msg)
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.System = system
	r.Messages = messages
	r.MaxTokens = raw.MaxTokens
	r.Temperature = raw.Temperature
	r.TopP = raw.TopP
	r.TopK = raw.TopK
	r.Stream = raw.Stream
	r.StopSequences = stops
	r.Tools = raw.Tools
	r.ToolChoice = raw.ToolChoice
	r.Thinking = raw.Thinking

	return checkStruct("", r)
}

// ModelName returns the requested model.
func (r *AnthropicRequest) ModelName() string { return r.Model }

// Streaming reports whether incremental delivery was requested.
func (r *AnthropicRequest) Streaming() bool { return r.Stream }

// Schema identifies the public schema of the request.
func (r *AnthropicRequest) Schema() models.Schema { return models.SchemaAnthropic }

// parseAnthropicSystem accepts a string or an array of strings and text blocks.
func parseAnthropicSystem(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return "", invalid("", "must be a string or an array of text blocks")
	}

	parts := make([]string, 0, len(items))
	for i, item := range items {
		var text string
		if err := json.Unmarshal(item, &text); err == nil {
			parts = append(parts, text)
			continue
		}

		var block struct {
			Type string  `json:"type"`
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(item, &block); err != nil {
			return "", invalid(indexPath("", i), "must be a string or a text block")
		}
		if block.Type != "text" {
			return "", invalid(indexPath("", i)+".type", "unsupported system block type %q", block.Type)
		}
		if block.Text == nil {
			return "", invalid(indexPath("", i)+".text", "is required")
		}
		parts = append(parts, *block.Text)
	}
	return strings.Join(parts, "\n"), nil
}

// AnthropicMessage represents a single message in the request payload.
type AnthropicMessage struct {
	Role    string           `json:"role" validate:"required,oneof=user assistant"`
	Content AnthropicContent `json:"content"`
}

// UnmarshalJSON decodes the message and its content union.
func (m *AnthropicMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return asValidationError(err)
	}

	m.Role = strings.TrimSpace(raw.Role)
	if err := checkStruct("", m); err != nil {
		return err
	}

	var content AnthropicContent
	if err := content.UnmarshalJSON(raw.Content); err != nil {
		return withPrefix("content", err)
	}
	m.Content = content
	return nil
}

// AnthropicContent is message content: a plain string or an array of blocks.
type AnthropicContent struct {
	models.Content
}

// MarshalJSON keeps the string or block form the content was built with.
func (c AnthropicContent) MarshalJSON() ([]byte, error) {
	if c.IsText() {
		return json.Marshal(c.Text())
	}
	return AnthropicBlocks(c.Blocks()).MarshalJSON()
}

// UnmarshalJSON validates the content union.
func (c *AnthropicContent) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return invalid("", "is required")
	}

	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Content = models.TextContent(text)
		return nil
	}

	var blocks AnthropicBlocks
	if err := blocks.UnmarshalJSON(data); err != nil {
		return err
	}
	c.Content = models.BlockContent(blocks...)
	return nil
}

// AnthropicBlocks is an array of content blocks in Anthropic wire form.
type AnthropicBlocks []models.ContentBlock

// MarshalJSON encodes each block by its type. A nil slice encodes as [].
// Raw blocks read from another schema are skipped.
func (b AnthropicBlocks) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(b))
	for _, block := range b {
		if foreignRaw(block) {
			continue
		}
		data, err := encodeAnthropicBlock(block)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes and validates every block. Unknown block types are kept raw.
func (b *AnthropicBlocks) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return invalid("", "must be a string or an array of content blocks")
	}

	blocks := make(AnthropicBlocks, 0, len(items))
	for i, item := range items {
		block, err := decodeAnthropicBlock(item)
		if err != nil {
			return withPrefix(indexPath("", i), err)
		}
		blocks = append(blocks, block)
	}
	*b = blocks
	return nil
}

type anthropicTextBlock struct {
	Type string  `json:"type"`
	Text *string `json:"text" validate:"required"`
}

type anthropicImageSource struct {
	Type      string `json:"type" validate:"required"`
	MediaType string `json:"media_type,omitempty" validate:"required_if=Type base64"`
	Data      string `json:"data,omitempty" validate:"required_if=Type base64"`
	URL       string `json:"url,omitempty" validate:"required_if=Type url"`
}

type anthropicImageBlock struct {
	Type   string                `json:"type"`
	Source *anthropicImageSource `json:"source" validate:"required"`
}

type anthropicToolUseBlock struct {
	Type  string          `json:"type"`
	ID    string          `json:"id" validate:"required"`
	Name  string          `json:"name" validate:"required"`
	Input json.RawMessage `json:"input"`
}

type anthropicToolResultBlock struct {
	Type      string          `json:"type"`
	ToolUseID string          `json:"tool_use_id" validate:"required"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   *bool           `json:"is_error,omitempty"`
}

type anthropicThinkingBlock struct {
	Type      string `json:"type"`
	Thinking  string `json:"thinking"`
	Signature string `json:"signature,omitempty"`
}

type anthropicRedactedThinkingBlock struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

func decodeAnthropicBlock(data []byte) (models.ContentBlock, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, asValidationError(err)
	}

	switch head.Type {
	case "":
		return nil, invalid("type", "is required")
	case "text":
		var b anthropicTextBlock
		if err := decodeChecked(data, &b); err != nil {
			return nil, err
		}
		return models.TextBlock{Text: *b.Text}, nil
	case "image":
		var b anthropicImageBlock
		if err := decodeChecked(data, &b); err != nil {
			return nil, err
		}
		switch b.Source.Type {
		case "base64":
			return models.ImageBlock{MediaType: b.Source.MediaType, Data: b.Source.Data}, nil
		case "url":
			return models.ImageBlock{URL: b.Source.URL}, nil
		default:
			return models.RawBlock{Type: head.Type, Schema: models.SchemaAnthropic, Raw: copyRaw(data)}, nil
		}
	case "tool_use":
		var b anthropicToolUseBlock
		if err := decodeChecked(data, &b); err != nil {
			return nil, err
		}
		input := copyRaw(b.Input)
		if isNull(input) {
			input = json.RawMessage("{}")
		}
		return models.ToolUseBlock{ID: b.ID, Name: b.Name, Input: input}, nil
	case "tool_result":
		var b anthropicToolResultBlock
		if err := decodeChecked(data, &b); err != nil {
			return nil, err
		}
		if !isNull(b.Content) {
			var probe any
			_ = json.Unmarshal(b.Content, &probe)
			switch probe.(type) {
			case string, []any:
			default:
				return nil, invalid("content", "must be a string or an array of content blocks")
			}
		}
		return models.ToolResultBlock{ToolUseID: b.ToolUseID, Content: copyRaw(b.Content), IsError: b.IsError}, nil
	case "thinking":
		var b anthropicThinkingBlock
		if err := decodeChecked(data, &b); err != nil {
			return nil, err
		}
		return models.ThinkingBlock{Thinking: b.Thinking, Signature: b.Signature}, nil
	case "redacted_thinking":
		var b anthropicRedactedThinkingBlock
		if err := decodeChecked(data, &b); err != nil {
			return nil, err
		}
		return models.RedactedThinkingBlock{Data: b.Data}, nil
	default:
		return models.RawBlock{Type: head.Type, Schema: models.SchemaAnthropic, Raw: copyRaw(data)}, nil
	}
}

func foreignRaw(block models.ContentBlock) bool {
	raw, ok := block.(models.RawBlock)
	return ok && raw.Schema != models.SchemaAnthropic
}

func decodeChecked(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return asValidationError(err)
	}
	return checkStruct("", v)
}

func encodeAnthropicBlock(block models.ContentBlock) ([]byte, error) {
	switch b := block.(type) {
	case models.TextBlock:
		text := b.Text
		return json.Marshal(anthropicTextBlock{Type: b.BlockType(), Text: &text})
	case models.ImageBlock:
		source := &anthropicImageSource{Type: "base64", MediaType: b.MediaType, Data: b.Data}
		if b.URL != "" {
			source = &anthropicImageSource{Type: "url", URL: b.URL}
		}
		return json.Marshal(anthropicImageBlock{Type: b.BlockType(), Source: source})
	case models.ToolUseBlock:
		input := b.Input
		if isNull(input) {
			input = json.RawMessage("{}")
		}
		return json.Marshal(anthropicToolUseBlock{Type: b.BlockType(), ID: b.ID, Name: b.Name, Input: input})
	case models.ToolResultBlock:
		return json.Marshal(anthropicToolResultBlock{
			Type:      b.BlockType(),
			ToolUseID: b.ToolUseID,
			Content:   b.Content,
			IsError:   b.IsError,
		})
	case models.ThinkingBlock:
		return json.Marshal(anthropicThinkingBlock{Type: b.BlockType(), Thinking: b.Thinking, Signature: b.Signature})
	case models.RedactedThinkingBlock:
		return json.Marshal(anthropicRedactedThinkingBlock{Type: b.BlockType(), Data: b.Data})
	case models.RawBlock:
		return copyRaw(b.Raw), nil
	default:
		return nil, &TranslationError{Op: "encode content block", Err: errUnknownBlock}
	}
}

// AnthropicTool is a client tool definition.
type AnthropicTool struct {
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToCanonical converts the Anthropic request into the canonical format.
func (r *AnthropicRequest) ToCanonical() (models.ChatRequest, error) {
	messages := make([]models.Message, 0, len(r.Messages))
	for _, msg := range r.Messages {
		messages = append(messages, models.Message{Role: models.Role(msg.Role), Content: msg.Content.Content})
	}

	tools := make([]models.ToolDefinition, 0, len(r.Tools))
	for _, tool := range r.Tools {
		tools = append(tools, models.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  copyRaw(tool.InputSchema),
		})
	}

	return models.ChatRequest{
		Model:         r.Model,
		System:        r.System,
		Messages:      messages,
		MaxTokens:     r.MaxTokens,
		Temperature:   r.Temperature,
		TopP:          r.TopP,
		TopK:          r.TopK,
		Stream:        r.Stream,
		StopSequences: copyStops(r.StopSequences),
		Tools:         nilIfEmpty(tools),
		ToolChoice:    parseAnthropicToolChoice(r.ToolChoice),
		Thinking:      r.Thinking.toCanonical(),
	}, nil
}

// AnthropicRequestFromCanonical builds an Anthropic request from the canonical format.
func AnthropicRequestFromCanonical(req models.ChatRequest) (*AnthropicRequest, error) {
	messages := make([]AnthropicMessage, 0, len(req.Messages))
	for i, msg := range req.Messages {
		if msg.Role != models.RoleUser && msg.Role != models.RoleAssistant {
			continue
		}
		content := msg.Content
		if !content.IsText() {
			blocks := make([]models.ContentBlock, 0, len(content.Blocks()))
			for _, block := range content.Blocks() {
				if !foreignRaw(block) {
					blocks = append(blocks, block)
				}
			}
			if len(blocks) == 0 && len(content.Blocks()) > 0 {
				return nil, &TranslationError{Op: indexPath("messages", i), Err: errNoContentSlot}
			}
			content = models.BlockContent(blocks...)
		}
		messages = append(messages, AnthropicMessage{Role: string(msg.Role), Content: AnthropicContent{content}})
	}

	tools := make([]AnthropicTool, 0, len(req.Tools))
	for _, tool := range req.Tools {
		tools = append(tools, AnthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: copyRaw(tool.Parameters),
		})
	}

	maxTokens := defaultAnthropicMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	out := &AnthropicRequest{
		Model:         req.Model,
		System:        req.System,
		Messages:      messages,
		MaxTokens:     &maxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		Stream:        req.Stream,
		StopSequences: copyStops(req.StopSequences),
		ToolChoice:    anthropicToolChoice(req.ToolChoice),
		Thinking:      thinkingFromCanonical(req.Thinking),
	}
	if len(tools) > 0 {
		out.Tools = tools
	}
	return out, nil
}

func parseAnthropicToolChoice(raw json.RawMessage) models.ToolChoice {
	if isNull(raw) {
		return models.ToolChoice{}
	}

	var choice struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &choice); err != nil {
		return models.ToolChoice{}
	}

	switch choice.Type {
	case "auto":
		return models.ToolChoice{Mode: models.ToolChoiceAuto}
	case "none":
		return models.ToolChoice{Mode: models.ToolChoiceNone}
	case "any":
		return models.ToolChoice{Mode: models.ToolChoiceAny}
	case "tool":
		if choice.Name != "" {
			return models.ToolChoice{Mode: models.ToolChoiceTool, Name: choice.Name}
		}
	}
	return models.ToolChoice{}
}

func anthropicToolChoice(choice models.ToolChoice) json.RawMessage {
	var v map[string]string
	switch choice.Mode {
	case models.ToolChoiceAuto:
		v = map[string]string{"type": "auto"}
	case models.ToolChoiceNone:
		v = map[string]string{"type": "none"}
	case models.ToolChoiceAny:
		v = map[string]string{"type": "any"}
	case models.ToolChoiceTool:
		v = map[string]string{"type": "tool", "name": choice.Name}
	default:
		return nil
	}
	data, _ := json.Marshal(v)
	return data
}

// AnthropicResponse models the Anthropic response payload.
type AnthropicResponse struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Role         string          `json:"role"`
	Model        string          `json:"model"`
	Content      AnthropicBlocks `json:"content"`
	StopReason   string          `json:"stop_reason"`
	StopSequence *string         `json:"stop_sequence"`
	Usage        AnthropicUsage  `json:"usage"`
}

// AnthropicUsage mirrors Anthropic usage format.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToCanonical converts the response into canonical form.
func (r *AnthropicResponse) ToCanonical() models.ChatResponse {
	resp := models.ChatResponse{
		ID:         r.ID,
		Model:      r.Model,
		Content:    []models.ContentBlock(r.Content),
		StopReason: r.StopReason,
		Usage: models.Usage{
			InputTokens:  r.Usage.InputTokens,
			OutputTokens: r.Usage.OutputTokens,
		},
	}
	if r.StopSequence != nil {
		resp.StopSequence = *r.StopSequence
	}
	return resp
}

// AnthropicResponseFromCanonical converts the canonical response to Anthropic format.
func AnthropicResponseFromCanonical(resp models.ChatResponse) *AnthropicResponse {
	id := resp.ID
	if id == "" {
		id = "msg_" + uuid.NewString()
	}

	stopReason := resp.StopReason
	if stopReason == "" {
		stopReason = defaultFinishReason
	}

	out := &AnthropicResponse{
		ID:         id,
		Type:       "message",
		Role:       string(models.RoleAssistant),
		Model:      resp.Model,
		Content:    AnthropicBlocks(resp.Content),
		StopReason: stopReason,
		Usage: AnthropicUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	if resp.StopSequence != "" {
		seq := resp.StopSequence
		out.StopSequence = &seq
	}
	return out
}
