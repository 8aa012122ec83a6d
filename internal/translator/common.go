package translator

import (
	"bytes"
	"encoding/json"
	"strings"

	"chatbridge/internal/models"
)

// StopSequences accepts a single string or an array of strings and always
// marshals as an array.
type StopSequences []string

// UnmarshalJSON normalises the string | []string union.
func (s *StopSequences) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*s = nil
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StopSequences{single}
		return nil
	}

	var multi []string
	if err := json.Unmarshal(data, &multi); err != nil {
		return invalid("", "must be a string or an array of strings")
	}
	*s = multi
	return nil
}

// ThinkingParam is the extended reasoning configuration.
type ThinkingParam struct {
	Type         string `json:"type" validate:"required"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

func (p *ThinkingParam) toCanonical() *models.ThinkingConfig {
	if p == nil {
		return nil
	}
	return &models.ThinkingConfig{Type: p.Type, BudgetTokens: p.BudgetTokens}
}

func thinkingFromCanonical(cfg *models.ThinkingConfig) *ThinkingParam {
	if cfg == nil {
		return nil
	}
	return &ThinkingParam{Type: cfg.Type, BudgetTokens: cfg.BudgetTokens}
}

func isNull(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || string(trimmed) == "null"
}

// argumentsFromInput renders a tool_use input as a compact JSON string.
func argumentsFromInput(input json.RawMessage) (string, error) {
	if isNull(input) {
		return "{}", nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, input); err != nil {
		return "", &TranslationError{Op: "encode tool input", Err: err}
	}
	return buf.String(), nil
}

// inputFromArguments parses a tool-call argument string back into structured
// JSON. An empty string means no arguments.
func inputFromArguments(arguments string) (json.RawMessage, error) {
	if strings.TrimSpace(arguments) == "" {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid([]byte(arguments)) {
		return nil, &TranslationError{Op: "decode tool call arguments", Err: errInvalidArguments}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(arguments)); err != nil {
		return nil, &TranslationError{Op: "decode tool call arguments", Err: err}
	}
	return json.RawMessage(buf.Bytes()), nil
}

func stringJSON(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}

func copyRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

func copyStops(stops []string) []string {
	if len(stops) == 0 {
		return nil
	}
	out := make([]string, len(stops))
	copy(out, stops)
	return out
}

// Stop reasons shared by the canonical model. Everything else passes through by name.
const (
	stopReasonToolUse   = "tool_use"
	finishReasonTool    = "tool_calls"
	defaultFinishReason = "stop"
)
