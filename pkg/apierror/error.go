package apierror

import (
	"encoding/json"
	"net/http"
)

// Error codes carried in the "code" field of an error envelope.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeValidation         = "VALIDATION_ERROR"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeNotFound           = "NOT_FOUND"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// Error is an API error as written to the wire.
type Error struct {
	StatusCode int          `json:"-"`
	Code       string       `json:"code"`
	Message    string       `json:"message"`
	Details    []FieldError `json:"details,omitempty"`
}

// FieldError points at one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// WithDetails replaces the field-level details.
func (e *Error) WithDetails(details ...FieldError) *Error {
	e.Details = details
	return e
}

type envelope struct {
	Success bool   `json:"success"`
	Error   *Error `json:"error"`
}

// ToJSON renders the {"success": false, "error": {...}} envelope.
func (e *Error) ToJSON() []byte {
	data, _ := json.Marshal(envelope{Success: false, Error: e})
	return data
}

// Parse decodes an envelope written by ToJSON. The status code is not part of
// the body, so the caller passes the one from the HTTP response.
// Returns nil if body is not an error envelope.
func Parse(statusCode int, body []byte) *Error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		return nil
	}
	env.Error.StatusCode = statusCode
	return env.Error
}

func newError(status int, code, message, fallback string) *Error {
	if message == "" {
		message = fallback
	}
	return &Error{StatusCode: status, Code: code, Message: message}
}

// BadRequest is a 400 for malformed input.
func BadRequest(message string) *Error {
	return newError(http.StatusBadRequest, CodeBadRequest, message, "Bad request")
}

// ValidationError is a 400 listing the rejected fields.
func ValidationError(message string, details ...FieldError) *Error {
	return newError(http.StatusBadRequest, CodeValidation, message, "Validation failed").WithDetails(details...)
}

// Unauthorized is a 401.
func Unauthorized(message string) *Error {
	return newError(http.StatusUnauthorized, CodeUnauthorized, message, "Authentication required")
}

// NotFound is a 404.
func NotFound(message string) *Error {
	return newError(http.StatusNotFound, CodeNotFound, message, "Resource not found")
}

// TooManyRequests is a 429.
func TooManyRequests(message string) *Error {
	return newError(http.StatusTooManyRequests, CodeRateLimited, message, "Rate limit exceeded")
}

// InternalError is a 500. The message is shown to clients, so keep causes out of it.
func InternalError(message string) *Error {
	return newError(http.StatusInternalServerError, CodeInternal, message, "An unexpected error occurred")
}

// ServiceUnavailable is a 503.
func ServiceUnavailable(message string) *Error {
	return newError(http.StatusServiceUnavailable, CodeServiceUnavailable, message, "Service temporarily unavailable")
}
