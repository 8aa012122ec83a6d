package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"chatbridge/internal/models"
	"chatbridge/internal/provider"
	"chatbridge/internal/translator"
)

type requestError struct {
	Status  int
	Message string
	Type    string
	Code    string
}

func (e requestError) Error() string {
	return e.Message
}

type openAIErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

type anthropicErrorBody struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(c echo.Context, schema models.Schema, reqErr requestError) error {
	if schema == models.SchemaAnthropic {
		var payload anthropicErrorBody
		payload.Type = "error"
		payload.Error.Type = anthropicErrorType(reqErr.Status)
		payload.Error.Message = reqErr.Message
		return c.JSON(reqErr.Status, payload)
	}

	var payload openAIErrorBody
	payload.Error.Message = reqErr.Message
	payload.Error.Type = reqErr.Type
	payload.Error.Code = reqErr.Code
	return c.JSON(reqErr.Status, payload)
}

func anthropicErrorType(status int) string {
	switch {
	case status == http.StatusNotFound:
		return "not_found_error"
	case status == http.StatusRequestEntityTooLarge:
		return "request_too_large"
	case status < 500:
		return "invalid_request_error"
	default:
		return "api_error"
	}
}

// schemaFor picks the error shape from the endpoint family of the request.
func schemaFor(c echo.Context) models.Schema {
	if strings.HasPrefix(c.Request().URL.Path, "/v1/messages") {
		return models.SchemaAnthropic
	}
	return models.SchemaOpenAI
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var upstreamErr *provider.UpstreamError
	if errors.As(err, &upstreamErr) && upstreamErr.Status != 0 {
		contentType := upstreamErr.ContentType
		if contentType == "" {
			contentType = echo.MIMEApplicationJSON
		}
		_ = c.Blob(upstreamErr.Status, contentType, upstreamErr.Body)
		return
	}

	_ = writeError(c, schemaFor(c), toRequestError(err))
}

// toRequestError classifies err into a status and error type.
func toRequestError(err error) requestError {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	var translationErr *translator.TranslationError
	if errors.As(err, &translationErr) {
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: translationErr.Error(),
			Type:    "server_error",
			Code:    "translation_error",
		}
	}

	var validationErr *translator.ValidationError
	if errors.As(err, &validationErr) {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: validationErr.Error(),
			Type:    "invalid_request_error",
			Code:    "invalid_request",
		}
	}

	var routingErr *provider.RoutingError
	if errors.As(err, &routingErr) {
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: routingErr.Error(),
			Type:    "server_error",
			Code:    "routing_error",
		}
	}

	var upstreamErr *provider.UpstreamError
	if errors.As(err, &upstreamErr) {
		return requestError{
			Status:  upstreamErr.HTTPStatus(),
			Message: upstreamErr.Error(),
			Type:    "upstream_error",
			Code:    "upstream_unreachable",
		}
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return requestError{
			Status:  httpErr.Code,
			Message: fmt.Sprint(httpErr.Message),
			Type:    "invalid_request_error",
		}
	}

	return requestError{
		Status:  http.StatusInternalServerError,
		Message: "internal server error",
		Type:    "server_error",
	}
}
