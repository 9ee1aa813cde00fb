// Package http serves the allowance JSON API.
//
// This file implements the builder used for every JSON response, plus the
// translation of domain errors into status codes.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"allowance/internal/amqp"
	"allowance/internal/core"
	"allowance/internal/records"
	"allowance/internal/records/remote"
	"allowance/internal/services"
	"allowance/internal/session"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response. A nil body writes headers only.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}

	payload, err := json.Marshal(b.body)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(payload, '\n'))
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// ErrorResponse creates a standard {"error": ...} response.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Body(errorBody{Error: message})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

// UnprocessableEntityError creates a 422 Unprocessable Entity error response.
func UnprocessableEntityError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusUnprocessableEntity, message)
}

// UnauthorizedError creates a 401 Unauthorized error response.
func UnauthorizedError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusUnauthorized, message)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, message)
}

// statusForError maps an error from the service layer to a status code and a
// message that is safe to show to the client.
var errExportDisabled = errors.New("report export is not configured")

func statusForError(err error) (int, string) {
	var (
		reqErr *requestError
		apiErr *remote.APIError
	)
	switch {
	case errors.As(err, &reqErr):
		return reqErr.status, reqErr.msg
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, records.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid email or password"
	case errors.Is(err, records.ErrUnauthorized),
		errors.Is(err, session.ErrSessionExpired),
		errors.Is(err, session.ErrSessionNotFound):
		return http.StatusUnauthorized, "session expired, sign in again"
	case errors.Is(err, records.ErrUserNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, services.ErrInvalidArgument), errors.Is(err, core.ErrInvalidMonth):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrReportNotAvailable):
		return http.StatusConflict, err.Error()
	case errors.Is(err, services.ErrPublisherUnavailable), errors.Is(err, amqp.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "report queue unavailable, try again later"
	case errors.Is(err, errExportDisabled):
		return http.StatusServiceUnavailable, err.Error()
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, "upstream service error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "upstream service timed out"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
