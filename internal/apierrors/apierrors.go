// Package apierrors implements the error envelope returned by every HTTP
// handler: {detail, error:{code, message, request_id}} with x-correlation-id
// always present on the response (spec.md §6/§7).
package apierrors

import (
	"encoding/json"
	"net/http"
)

// Code is one of the closed vocabulary of error codes used in the envelope.
type Code string

const (
	CodeValidationError     Code = "VALIDATION_ERROR"
	CodeRequestFailed       Code = "REQUEST_FAILED"
	CodeLengthRequired      Code = "LENGTH_REQUIRED"
	CodeInvalidContentLen   Code = "INVALID_CONTENT_LENGTH"
	CodePayloadTooLarge     Code = "PAYLOAD_TOO_LARGE"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeServiceUnavailable  Code = "SERVICE_UNAVAILABLE"
	CodeRequestTimeout      Code = "REQUEST_TIMEOUT"
	CodeInternalError       Code = "INTERNAL_ERROR"
	CodeNotFound            Code = "NOT_FOUND"
	CodeConflict            Code = "CONFLICT"
	CodeAuthenticationError Code = "AUTHENTICATION_ERROR"
	CodeAuthorizationError  Code = "AUTHORIZATION_ERROR"
)

// statusCodes maps each Code to its HTTP status, the way the teacher's
// APIError.StatusCode() does.
var statusCodes = map[Code]int{
	CodeValidationError:     http.StatusUnprocessableEntity,
	CodeRequestFailed:       http.StatusBadRequest,
	CodeLengthRequired:      http.StatusLengthRequired,
	CodeInvalidContentLen:   http.StatusBadRequest,
	CodePayloadTooLarge:     http.StatusRequestEntityTooLarge,
	CodeRateLimited:         http.StatusTooManyRequests,
	CodeServiceUnavailable:  http.StatusServiceUnavailable,
	CodeRequestTimeout:      http.StatusGatewayTimeout,
	CodeInternalError:       http.StatusInternalServerError,
	CodeNotFound:            http.StatusNotFound,
	CodeConflict:            http.StatusConflict,
	CodeAuthenticationError: http.StatusUnauthorized,
	CodeAuthorizationError:  http.StatusForbidden,
}

// Detail is the inner "error" object of the envelope.
type Detail struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Error is the full response body and also satisfies the error interface so
// it can be returned/wrapped through ordinary Go call chains.
type Error struct {
	DetailText string `json:"detail"`
	Err        Detail `json:"error"`
}

func (e *Error) Error() string {
	return e.DetailText
}

// StatusCode resolves the HTTP status for this error's code, defaulting to
// 500 for an unrecognized code.
func (e *Error) StatusCode() int {
	if status, ok := statusCodes[e.Err.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New builds an Error with detail and message set to the same text, which is
// the common case for this API.
func New(code Code, message string) *Error {
	return &Error{
		DetailText: message,
		Err:        Detail{Code: code, Message: message},
	}
}

// WithRequestID attaches the correlation ID to the error's inner detail.
func (e *Error) WithRequestID(requestID string) *Error {
	e.Err.RequestID = requestID
	return e
}

// Write serializes err as the response body and sets the status code. The
// caller is responsible for having already set x-correlation-id.
func Write(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode())
	_ = json.NewEncoder(w).Encode(err)
}

// Helper constructors for the codes handlers reach for most often.

func ValidationError(message string) *Error    { return New(CodeValidationError, message) }
func RequestFailed(message string) *Error      { return New(CodeRequestFailed, message) }
func NotFound(resource string) *Error          { return New(CodeNotFound, resource+" not found") }
func Conflict(message string) *Error           { return New(CodeConflict, message) }
func RateLimited() *Error                      { return New(CodeRateLimited, "rate limit exceeded, retry later") }
func ServiceUnavailable(message string) *Error { return New(CodeServiceUnavailable, message) }
func RequestTimeout() *Error                   { return New(CodeRequestTimeout, "request timed out") }
func Internal(message string) *Error           { return New(CodeInternalError, message) }
func LengthRequired() *Error {
	return New(CodeLengthRequired, "Content-Length header is required for mutating requests")
}
func InvalidContentLength() *Error {
	return New(CodeInvalidContentLen, "Content-Length header is not a valid non-negative integer")
}
func PayloadTooLarge(limit int64) *Error {
	return New(CodePayloadTooLarge, "request body exceeds the configured size limit")
}
func AuthenticationError(message string) *Error { return New(CodeAuthenticationError, message) }
func AuthorizationError(message string) *Error  { return New(CodeAuthorizationError, message) }
