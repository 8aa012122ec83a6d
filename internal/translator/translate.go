package translator

import (
	"encoding/json"
	"fmt"

	"chatbridge/internal/models"
)

// Request is a decoded, validated inbound request in one of the public schemas.
type Request interface {
	ModelName() string
	Streaming() bool
	Schema() models.Schema
	ToCanonical() (models.ChatRequest, error)
}

// DecodeOpenAIRequest decodes and validates an OpenAI chat/completions body.
func DecodeOpenAIRequest(data []byte) (*OpenAIChatRequest, error) {
	var req OpenAIChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, asValidationError(err)
	}
	return &req, nil
}

// DecodeAnthropicRequest decodes and validates an Anthropic messages body.
func DecodeAnthropicRequest(data []byte) (*AnthropicRequest, error) {
	var req AnthropicRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, asValidationError(err)
	}
	return &req, nil
}

// DecodeRequest decodes data as a request in the given schema.
func DecodeRequest(schema models.Schema, data []byte) (Request, error) {
	switch schema {
	case models.SchemaOpenAI:
		return DecodeOpenAIRequest(data)
	case models.SchemaAnthropic:
		return DecodeAnthropicRequest(data)
	default:
		return nil, fmt.Errorf("decode request: unknown schema %q", schema)
	}
}

// OpenAIToAnthropicRequest translates an OpenAI request into an Anthropic request.
func OpenAIToAnthropicRequest(req *OpenAIChatRequest) (*AnthropicRequest, error) {
	canonical, err := req.ToCanonical()
	if err != nil {
		return nil, err
	}
	return AnthropicRequestFromCanonical(canonical)
}

// AnthropicToOpenAIRequest translates an Anthropic request into an OpenAI request.
func AnthropicToOpenAIRequest(req *AnthropicRequest) (*OpenAIChatRequest, error) {
	canonical, err := req.ToCanonical()
	if err != nil {
		return nil, err
	}
	return OpenAIRequestFromCanonical(canonical)
}

// OpenAIToAnthropicResponse translates an OpenAI response into an Anthropic response.
func OpenAIToAnthropicResponse(resp *OpenAIChatResponse) (*AnthropicResponse, error) {
	canonical, err := resp.ToCanonical()
	if err != nil {
		return nil, err
	}
	return AnthropicResponseFromCanonical(canonical), nil
}

// AnthropicToOpenAIResponse translates an Anthropic response into an OpenAI
// response reporting requestedModel and created.
func AnthropicToOpenAIResponse(resp *AnthropicResponse, requestedModel string, created int64) (*OpenAIChatResponse, error) {
	return OpenAIResponseFromCanonical(resp.ToCanonical(), requestedModel, created)
}

// TranslateRequest re-encodes req in the target schema.
func TranslateRequest(req Request, target models.Schema) ([]byte, error) {
	if req.Schema() == target {
		return nil, &TranslationError{Op: "translate request", Err: errSameSchema}
	}

	var (
		out any
		err error
	)
	switch r := req.(type) {
	case *OpenAIChatRequest:
		out, err = OpenAIToAnthropicRequest(r)
	case *AnthropicRequest:
		out, err = AnthropicToOpenAIRequest(r)
	default:
		return nil, &TranslationError{Op: "translate request", Err: fmt.Errorf("unsupported request type %T", req)}
	}
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, &TranslationError{Op: "encode " + string(target) + " request", Err: err}
	}
	return data, nil
}

// TranslateResponse converts a non-streaming response body from one schema to
// the other. requestedModel and created are only used for OpenAI output.
func TranslateResponse(from, to models.Schema, body []byte, requestedModel string, created int64) ([]byte, error) {
	if from == to {
		return nil, &TranslationError{Op: "translate response", Err: errSameSchema}
	}

	var (
		out any
		err error
	)
	switch from {
	case models.SchemaOpenAI:
		var resp OpenAIChatResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, &TranslationError{Op: "decode openai response", Err: err}
		}
		out, err = OpenAIToAnthropicResponse(&resp)
	case models.SchemaAnthropic:
		var resp AnthropicResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, &TranslationError{Op: "decode anthropic response", Err: err}
		}
		out, err = AnthropicToOpenAIResponse(&resp, requestedModel, created)
	default:
		return nil, &TranslationError{Op: "translate response", Err: fmt.Errorf("unknown schema %q", from)}
	}
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, &TranslationError{Op: "encode " + string(to) + " response", Err: err}
	}
	return data, nil
}
