// Package apierror defines the coded error taxonomy shared by the core
// packages and the HTTP surface.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes.
const (
	// CodeQuery means the engine rejected or faulted on a statement. The
	// engine's message is passed through verbatim.
	CodeQuery = "query_error"

	// CodeRange means a page number outside [0, total_pages).
	CodeRange = "range_error"

	// CodeBusy means an executor under the reject policy already had an
	// execution in flight.
	CodeBusy = "busy_error"

	// CodeResource means a materialization would exceed the configured
	// row cap.
	CodeResource = "resource_error"

	// CodeCancelled means cancellation was acknowledged; any late outcome
	// is discarded.
	CodeCancelled = "cancelled"

	CodeInvalidParameter = "invalid_parameter"
	CodeNotFound         = "not_found"
	CodeInternal         = "internal_error"
)

// HTTPStatus returns the HTTP status code for a given error code.
func HTTPStatus(code string) int {
	switch code {
	case CodeQuery, CodeInvalidParameter, CodeRange:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeBusy:
		return http.StatusConflict
	case CodeResource:
		return http.StatusUnprocessableEntity
	case CodeCancelled:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// Error is a coded error carried across component boundaries.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is matches errors by code so callers can use errors.Is with sentinel
// instances.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// ErrorResponse is the JSON envelope returned for failed requests.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ToResponse converts the error to its response envelope.
func (e *Error) ToResponse() *ErrorResponse {
	return &ErrorResponse{Success: false, Code: e.Code, Message: e.Message}
}

// NewQueryError wraps an engine failure. The message is the engine's own,
// verbatim.
func NewQueryError(message string) *Error {
	return &Error{Code: CodeQuery, Message: message}
}

// NewRangeError reports a page request outside the valid window.
func NewRangeError(page, totalPages int) *Error {
	return &Error{
		Code:    CodeRange,
		Message: fmt.Sprintf("page %d out of range [0, %d)", page, totalPages),
	}
}

// NewBusyError reports a rejected submission under the reject policy.
func NewBusyError() *Error {
	return &Error{Code: CodeBusy, Message: "an execution is already in flight"}
}

// NewResourceError reports a materialization above the configured cap.
func NewResourceError(rows, limit int64) *Error {
	return &Error{
		Code:    CodeResource,
		Message: fmt.Sprintf("result has %d rows, exceeding the materialization cap of %d", rows, limit),
	}
}

// NewCancelledError reports an acknowledged cancellation.
func NewCancelledError() *Error {
	return &Error{Code: CodeCancelled, Message: "execution cancelled"}
}

// NewInvalidParameterError reports a rejected argument.
func NewInvalidParameterError(param, reason string) *Error {
	return &Error{
		Code:    CodeInvalidParameter,
		Message: fmt.Sprintf("invalid parameter '%s': %s", param, reason),
	}
}

// NewNotFoundError reports a missing object.
func NewNotFoundError(objectType, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", objectType, id),
	}
}

// NewInternalError reports an unexpected failure.
func NewInternalError(message string) *Error {
	return &Error{Code: CodeInternal, Message: message}
}

// FromError converts any error to a coded Error. Coded errors pass through
// unchanged; everything else becomes a query error, since the engine is the
// only collaborator whose failures reach callers unwrapped.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded
	}
	return NewQueryError(err.Error())
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code == code
	}
	return false
}
