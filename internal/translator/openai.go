package translator

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"chatbridge/internal/models"
)

// OpenAIChatRequest models the OpenAI chat/completions request payload.
type OpenAIChatRequest struct {
	Model       string          `json:"model" validate:"required"`
	Messages    []OpenAIMessage `json:"messages" validate:"required,min=1"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Stop        StopSequences   `json:"stop,omitempty"`
	Tools       []OpenAITool    `json:"tools,omitempty" validate:"omitempty,dive"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
	Thinking    *ThinkingParam  `json:"thinking,omitempty"`
}

// UnmarshalJSON decodes and structurally validates the request.
func (r *OpenAIChatRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model               string            `json:"model"`
		Messages            []json.RawMessage `json:"messages"`
		MaxTokens           *int              `json:"max_tokens"`
		MaxCompletionTokens *int              `json:"max_completion_tokens"`
		Temperature         *float64          `json:"temperature"`
		TopP                *float64          `json:"top_p"`
		Stream              bool              `json:"stream"`
		Stop                json.RawMessage   `json:"stop"`
		Tools               []OpenAITool      `json:"tools"`
		ToolChoice          json.RawMessage   `json:"tool_choice"`
		Thinking            *ThinkingParam    `json:"thinking"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return asValidationError(err)
	}

	var stop StopSequences
	if err := stop.UnmarshalJSON(raw.Stop); err != nil {
		return withPrefix("stop", err)
	}

	messages := make([]OpenAIMessage, 0, len(raw.Messages))
	for i, rawMsg := range raw.Messages {
		var msg OpenAIMessage
		if err := msg.UnmarshalJSON(rawMsg); err != nil {
			return withPrefix(indexPath("messages", i), err)
		}
		messages = append(messages, msg)
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Messages = messages
	r.MaxTokens = raw.MaxTokens
	if r.MaxTokens == nil {
		r.MaxTokens = raw.MaxCompletionTokens
	}
	r.Temperature = raw.Temperature
	r.TopP = raw.TopP
	r.Stream = raw.Stream
	r.Stop = stop
	r.Tools = raw.Tools
	r.ToolChoice = raw.ToolChoice
	r.Thinking = raw.Thinking

	return checkStruct("", r)
}

// ModelName returns the requested model.
func (r *OpenAIChatRequest) ModelName() string { return r.Model }

// Streaming reports whether incremental delivery was requested.
func (r *OpenAIChatRequest) Streaming() bool { return r.Stream }

// Schema identifies the public schema of the request.
func (r *OpenAIChatRequest) Schema() models.Schema { return models.SchemaOpenAI }

// OpenAIMessage captures a single message within the chat request or response.
type OpenAIMessage struct {
	Role       string           `json:"role" validate:"required,oneof=system developer user assistant tool function"`
	Content    OpenAIContent    `json:"content"`
	Name       string           `json:"name,omitempty"`
	ToolCalls  []OpenAIToolCall `json:"tool_calls,omitempty" validate:"omitempty,dive"`
	ToolCallID string           `json:"tool_call_id,omitempty" validate:"required_if=Role tool"`
}

// UnmarshalJSON supports string, null and array-of-parts content formats.
func (m *OpenAIMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role       string           `json:"role"`
		Content    json.RawMessage  `json:"content"`
		Name       string           `json:"name"`
		ToolCalls  []OpenAIToolCall `json:"tool_calls"`
		ToolCallID string           `json:"tool_call_id"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return asValidationError(err)
	}

	var content OpenAIContent
	if err := content.UnmarshalJSON(raw.Content); err != nil {
		return withPrefix("content", err)
	}

	m.Role = strings.TrimSpace(raw.Role)
	m.Content = content
	m.Name = raw.Name
	m.ToolCalls = raw.ToolCalls
	m.ToolCallID = raw.ToolCallID

	return checkStruct("", m)
}

// OpenAIContent is either a string, null, or an array of content parts.
type OpenAIContent struct {
	Text  *string
	Parts []OpenAIContentPart
}

// OpenAIText builds string content.
func OpenAIText(s string) OpenAIContent {
	return OpenAIContent{Text: &s}
}

// MarshalJSON emits the union in its original shape.
func (c OpenAIContent) MarshalJSON() ([]byte, error) {
	switch {
	case c.Parts != nil:
		return json.Marshal(c.Parts)
	case c.Text != nil:
		return json.Marshal(*c.Text)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON validates the content union.
func (c *OpenAIContent) UnmarshalJSON(data []byte) error {
	*c = OpenAIContent{}
	if isNull(data) {
		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = &text
		return nil
	}

	var rawParts []json.RawMessage
	if err := json.Unmarshal(data, &rawParts); err != nil {
		return invalid("", "must be a string, null, or an array of content parts")
	}

	parts := make([]OpenAIContentPart, 0, len(rawParts))
	for i, rawPart := range rawParts {
		part, err := decodeOpenAIPart(rawPart)
		if err != nil {
			return withPrefix(indexPath("", i), err)
		}
		parts = append(parts, part)
	}
	c.Parts = parts
	return nil
}

// String returns the text of the content, concatenating text parts.
func (c OpenAIContent) String() string {
	if c.Text != nil {
		return *c.Text
	}
	var b strings.Builder
	for _, part := range c.Parts {
		if part.Type == "text" && part.Text != nil {
			b.WriteString(*part.Text)
		}
	}
	return b.String()
}

// OpenAIContentPart is one element of array-form content. Parts of a type
// other than text and image_url keep their original encoding in Raw.
type OpenAIContentPart struct {
	Type     string          `json:"type"`
	Text     *string         `json:"text,omitempty"`
	ImageURL *OpenAIImageURL `json:"image_url,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

// OpenAIImageURL references an image by remote URL or base64 data URL.
type OpenAIImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// MarshalJSON re-emits raw parts verbatim.
func (p OpenAIContentPart) MarshalJSON() ([]byte, error) {
	if p.Raw != nil {
		return copyRaw(p.Raw), nil
	}
	type plain OpenAIContentPart
	return json.Marshal(plain(p))
}

func decodeOpenAIPart(data []byte) (OpenAIContentPart, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return OpenAIContentPart{}, asValidationError(err)
	}

	switch head.Type {
	case "":
		return OpenAIContentPart{}, invalid("type", "is required")
	case "text", "image_url":
	default:
		return OpenAIContentPart{Type: head.Type, Raw: copyRaw(data)}, nil
	}

	var part struct {
		Type     string          `json:"type"`
		Text     *string         `json:"text"`
		ImageURL *OpenAIImageURL `json:"image_url"`
	}
	if err := json.Unmarshal(data, &part); err != nil {
		return OpenAIContentPart{}, asValidationError(err)
	}
	if part.Type == "text" && part.Text == nil {
		return OpenAIContentPart{}, invalid("text", "is required")
	}
	if part.Type == "image_url" && (part.ImageURL == nil || part.ImageURL.URL == "") {
		return OpenAIContentPart{}, invalid("image_url.url", "is required")
	}
	return OpenAIContentPart{Type: part.Type, Text: part.Text, ImageURL: part.ImageURL}, nil
}

// parseDataURL splits "data:<media type>;base64,<data>".
func parseDataURL(url string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(url, "data:")
	if !found {
		return "", "", false
	}
	mediaType, data, found = strings.Cut(rest, ";base64,")
	if !found || mediaType == "" {
		return "", "", false
	}
	return mediaType, data, true
}

func dataURL(mediaType, data string) string {
	return "data:" + mediaType + ";base64," + data
}

// OpenAIToolCall is a function invocation issued by the assistant.
type OpenAIToolCall struct {
	ID       string             `json:"id" validate:"required"`
	Type     string             `json:"type"`
	Function OpenAIFunctionCall `json:"function"`
}

// OpenAIFunctionCall carries the function name and its JSON-encoded arguments.
type OpenAIFunctionCall struct {
	Name      string `json:"name" validate:"required"`
	Arguments string `json:"arguments"`
}

// OpenAITool is a function tool definition.
type OpenAITool struct {
	Type     string            `json:"type"`
	Function OpenAIFunctionDef `json:"function"`
}

// OpenAIFunctionDef describes a callable function. Parameters is opaque JSON schema.
type OpenAIFunctionDef struct {
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToCanonical converts the OpenAI request into the canonical format.
func (r *OpenAIChatRequest) ToCanonical() (models.ChatRequest, error) {
	var systemParts []string
	messages := make([]models.Message, 0, len(r.Messages))
	mergeToolResults := false

	for i, msg := range r.Messages {
		switch models.Role(msg.Role) {
		case models.RoleSystem, models.RoleDeveloper:
			systemParts = append(systemParts, msg.Content.String())
			mergeToolResults = false
		case models.RoleUser:
			messages = append(messages, models.Message{
				Role:    models.RoleUser,
				Content: userContentToCanonical(msg.Content),
			})
			mergeToolResults = false
		case models.RoleAssistant:
			blocks := make([]models.ContentBlock, 0, 1+len(msg.ToolCalls))
			if text := msg.Content.String(); text != "" {
				blocks = append(blocks, models.TextBlock{Text: text})
			}
			for j, call := range msg.ToolCalls {
				input, err := inputFromArguments(call.Function.Arguments)
				if err != nil {
					return models.ChatRequest{}, &TranslationError{
						Op:  "messages[" + strconv.Itoa(i) + "].tool_calls[" + strconv.Itoa(j) + "]",
						Err: err,
					}
				}
				blocks = append(blocks, models.ToolUseBlock{ID: call.ID, Name: call.Function.Name, Input: input})
			}
			content := models.TextContent("")
			if len(blocks) > 0 {
				content = models.BlockContent(blocks...)
			}
			messages = append(messages, models.Message{Role: models.RoleAssistant, Content: content})
			mergeToolResults = false
		case models.RoleTool:
			result := models.ToolResultBlock{
				ToolUseID: msg.ToolCallID,
				Content:   stringJSON(msg.Content.String()),
			}
			if mergeToolResults {
				last := &messages[len(messages)-1]
				last.Content = models.BlockContent(append(last.Content.Blocks(), result)...)
				continue
			}
			messages = append(messages, models.Message{Role: models.RoleUser, Content: models.BlockContent(result)})
			mergeToolResults = true
		default:
			return models.ChatRequest{}, &TranslationError{
				Op:  "messages[" + strconv.Itoa(i) + "]",
				Err: fmt.Errorf("%w: %q", errNoRoleEquivalent, msg.Role),
			}
		}
	}

	tools := make([]models.ToolDefinition, 0, len(r.Tools))
	for _, tool := range r.Tools {
		tools = append(tools, models.ToolDefinition{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  copyRaw(tool.Function.Parameters),
		})
	}

	return models.ChatRequest{
		Model:         r.Model,
		System:        strings.Join(systemParts, "\n"),
		Messages:      messages,
		MaxTokens:     r.MaxTokens,
		Temperature:   r.Temperature,
		TopP:          r.TopP,
		Stream:        r.Stream,
		StopSequences: copyStops(r.Stop),
		Tools:         nilIfEmpty(tools),
		ToolChoice:    parseOpenAIToolChoice(r.ToolChoice),
		Thinking:      r.Thinking.toCanonical(),
	}, nil
}

func userContentToCanonical(content OpenAIContent) models.Content {
	if content.Parts == nil {
		return models.TextContent(content.String())
	}
	blocks := make([]models.ContentBlock, 0, len(content.Parts))
	for _, part := range content.Parts {
		switch part.Type {
		case "text":
			blocks = append(blocks, models.TextBlock{Text: *part.Text})
		case "image_url":
			if mediaType, data, ok := parseDataURL(part.ImageURL.URL); ok {
				blocks = append(blocks, models.ImageBlock{MediaType: mediaType, Data: data})
			} else {
				blocks = append(blocks, models.ImageBlock{URL: part.ImageURL.URL})
			}
		default:
			blocks = append(blocks, models.RawBlock{Type: part.Type, Schema: models.SchemaOpenAI, Raw: copyRaw(part.Raw)})
		}
	}
	return models.BlockContent(blocks...)
}

// OpenAIRequestFromCanonical builds an OpenAI request from the canonical format.
func OpenAIRequestFromCanonical(req models.ChatRequest) (*OpenAIChatRequest, error) {
	messages := make([]OpenAIMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, OpenAIMessage{Role: string(models.RoleSystem), Content: OpenAIText(req.System)})
	}

	for _, msg := range req.Messages {
		if msg.Content.IsText() {
			messages = append(messages, OpenAIMessage{Role: string(msg.Role), Content: OpenAIText(msg.Content.Text())})
			continue
		}

		var (
			text      strings.Builder
			parts     []OpenAIContentPart
			hasMedia  bool
			toolCalls []OpenAIToolCall
		)
		for _, block := range msg.Content.Blocks() {
			switch b := block.(type) {
			case models.TextBlock:
				text.WriteString(b.Text)
				t := b.Text
				parts = append(parts, OpenAIContentPart{Type: "text", Text: &t})
			case models.ImageBlock:
				hasMedia = true
				url := b.URL
				if url == "" {
					url = dataURL(b.MediaType, b.Data)
				}
				parts = append(parts, OpenAIContentPart{Type: "image_url", ImageURL: &OpenAIImageURL{URL: url}})
			case models.ToolUseBlock:
				args, err := argumentsFromInput(b.Input)
				if err != nil {
					return nil, err
				}
				toolCalls = append(toolCalls, OpenAIToolCall{
					ID:       b.ID,
					Type:     "function",
					Function: OpenAIFunctionCall{Name: b.Name, Arguments: args},
				})
			case models.ToolResultBlock:
				messages = append(messages, OpenAIMessage{
					Role:       string(models.RoleTool),
					Content:    OpenAIText(b.ResultText()),
					ToolCallID: b.ToolUseID,
				})
			case models.RawBlock:
				if b.Schema == models.SchemaOpenAI {
					hasMedia = true
					parts = append(parts, OpenAIContentPart{Type: b.Type, Raw: copyRaw(b.Raw)})
				}
			case models.ThinkingBlock, models.RedactedThinkingBlock:
				// No slot in the flat schema.
			}
		}

		out := OpenAIMessage{Role: string(msg.Role), ToolCalls: toolCalls}
		switch {
		case hasMedia && msg.Role == models.RoleUser:
			out.Content = OpenAIContent{Parts: parts}
		case text.Len() > 0:
			out.Content = OpenAIText(text.String())
		case len(toolCalls) > 0:
			// content stays null alongside tool calls
		default:
			continue
		}
		messages = append(messages, out)
	}

	tools := make([]OpenAITool, 0, len(req.Tools))
	for _, tool := range req.Tools {
		tools = append(tools, OpenAITool{
			Type: "function",
			Function: OpenAIFunctionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  copyRaw(tool.Parameters),
			},
		})
	}

	out := &OpenAIChatRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
		Stop:        copyStops(req.StopSequences),
		ToolChoice:  openAIToolChoice(req.ToolChoice),
		Thinking:    thinkingFromCanonical(req.Thinking),
	}
	if len(tools) > 0 {
		out.Tools = tools
	}
	return out, nil
}

func parseOpenAIToolChoice(raw json.RawMessage) models.ToolChoice {
	if isNull(raw) {
		return models.ToolChoice{}
	}

	var mode string
	if err := json.Unmarshal(raw, &mode); err == nil {
		switch mode {
		case "auto":
			return models.ToolChoice{Mode: models.ToolChoiceAuto}
		case "none":
			return models.ToolChoice{Mode: models.ToolChoiceNone}
		case "required":
			return models.ToolChoice{Mode: models.ToolChoiceAny}
		}
		return models.ToolChoice{}
	}

	var forced struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &forced); err == nil && forced.Function.Name != "" {
		return models.ToolChoice{Mode: models.ToolChoiceTool, Name: forced.Function.Name}
	}
	return models.ToolChoice{}
}

func openAIToolChoice(choice models.ToolChoice) json.RawMessage {
	switch choice.Mode {
	case models.ToolChoiceAuto:
		return json.RawMessage(`"auto"`)
	case models.ToolChoiceNone:
		return json.RawMessage(`"none"`)
	case models.ToolChoiceAny:
		return json.RawMessage(`"required"`)
	case models.ToolChoiceTool:
		data, _ := json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]string{"name": choice.Name},
		})
		return data
	default:
		return nil
	}
}

// OpenAIChatResponse models the OpenAI-compatible chat response.
type OpenAIChatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   OpenAIUsage    `json:"usage"`
}

// OpenAIChoice represents a single choice in the response payload.
type OpenAIChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// OpenAIUsage mirrors the token usage block in OpenAI responses.
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToCanonical converts the first choice of the response into canonical form.
// Upstream totals are ignored; the canonical usage derives them.
func (r *OpenAIChatResponse) ToCanonical() (models.ChatResponse, error) {
	if len(r.Choices) == 0 {
		return models.ChatResponse{}, &TranslationError{Op: "decode openai response", Err: errNoChoices}
	}
	choice := r.Choices[0]

	var blocks []models.ContentBlock
	if text := choice.Message.Content.String(); text != "" {
		blocks = append(blocks, models.TextBlock{Text: text})
	}
	for j, call := range choice.Message.ToolCalls {
		input, err := inputFromArguments(call.Function.Arguments)
		if err != nil {
			return models.ChatResponse{}, &TranslationError{Op: "choices[0].message.tool_calls[" + strconv.Itoa(j) + "]", Err: err}
		}
		blocks = append(blocks, models.ToolUseBlock{ID: call.ID, Name: call.Function.Name, Input: input})
	}

	stopReason := choice.FinishReason
	if stopReason == finishReasonTool {
		stopReason = stopReasonToolUse
	}

	return models.ChatResponse{
		ID:         r.ID,
		Model:      r.Model,
		Content:    blocks,
		StopReason: stopReason,
		Usage: models.Usage{
			InputTokens:  r.Usage.PromptTokens,
			OutputTokens: r.Usage.CompletionTokens,
		},
	}, nil
}

// OpenAIResponseFromCanonical constructs the OpenAI response shape. model is the
// name the client asked for; created is the unix timestamp to report.
func OpenAIResponseFromCanonical(resp models.ChatResponse, model string, created int64) (*OpenAIChatResponse, error) {
	var (
		text      strings.Builder
		toolCalls []OpenAIToolCall
	)
	for _, block := range resp.Content {
		switch b := block.(type) {
		case models.TextBlock:
			text.WriteString(b.Text)
		case models.ToolUseBlock:
			args, err := argumentsFromInput(b.Input)
			if err != nil {
				return nil, err
			}
			toolCalls = append(toolCalls, OpenAIToolCall{
				ID:       b.ID,
				Type:     "function",
				Function: OpenAIFunctionCall{Name: b.Name, Arguments: args},
			})
		}
	}

	message := OpenAIMessage{Role: string(models.RoleAssistant), ToolCalls: toolCalls}
	if text.Len() > 0 || len(toolCalls) == 0 {
		message.Content = OpenAIText(text.String())
	}

	finishReason := resp.StopReason
	switch finishReason {
	case stopReasonToolUse:
		finishReason = finishReasonTool
	case "":
		finishReason = defaultFinishReason
	}

	id := resp.ID
	if id == "" {
		id = "chatcmpl-" + uuid.NewString()
	}

	return &OpenAIChatResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []OpenAIChoice{{
			Index:        0,
			Message:      message,
			FinishReason: finishReason,
		}},
		Usage: OpenAIUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.Total(),
		},
	}, nil
}

func nilIfEmpty[T any](s []T) []T {
	if len(s) == 0 {
		return nil
	}
	return s
}
