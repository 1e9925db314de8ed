package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes surfaced to the overlay and logs
type ErrorCode string

const (
	// OutOfBounds indicates a position or offset outside the document
	OutOfBounds ErrorCode = "OUT_OF_BOUNDS"
	// InvalidRange indicates a range whose end precedes its start
	InvalidRange ErrorCode = "INVALID_RANGE"
	// AmbiguousEdit indicates a text change that could not be reduced to one edit
	AmbiguousEdit ErrorCode = "AMBIGUOUS_EDIT"
	// UnknownSuggestion indicates a suggestion id that is not (or no longer) known
	UnknownSuggestion ErrorCode = "UNKNOWN_SUGGESTION"
	// StaleSuggestion indicates the suggestion target changed since it was computed
	StaleSuggestion ErrorCode = "STALE_SUGGESTION"
	// SuggestionNotSelected indicates apply was requested without a prior select
	SuggestionNotSelected ErrorCode = "SUGGESTION_NOT_SELECTED"
	// AnalysisFailed indicates the analysis collaborator returned an error
	AnalysisFailed ErrorCode = "ANALYSIS_FAILED"
	// QueryFailed indicates a feasibility query failed
	QueryFailed ErrorCode = "QUERY_FAILED"
	// DocumentTooLarge indicates the parser gave up on the document
	DocumentTooLarge ErrorCode = "DOCUMENT_TOO_LARGE"
	// DocumentClosed indicates a message for a window that was destroyed
	DocumentClosed ErrorCode = "DOCUMENT_CLOSED"
	// UnknownDocument indicates a message for a window that was never created
	UnknownDocument ErrorCode = "UNKNOWN_DOCUMENT"
	// UnknownMessage indicates an inbound message with an unrecognized type
	UnknownMessage ErrorCode = "UNKNOWN_MESSAGE"
	// InvalidMessage indicates an inbound message that could not be decoded
	InvalidMessage ErrorCode = "INVALID_MESSAGE"
	// QueueFull indicates the job runner rejected work
	QueueFull ErrorCode = "QUEUE_FULL"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// Error carries a stable code alongside a human readable message
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error
}

// New creates an Error without an underlying cause
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around cause
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or InternalError.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return InternalError
}

// HasCode reports whether err's chain contains an *Error with code.
func HasCode(err error, code ErrorCode) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Expected reports whether code describes a benign race between the overlay
// and the document (for example acting on a suggestion that was just removed).
// These are logged at debug level rather than surfaced as failures.
func Expected(code ErrorCode) bool {
	switch code {
	case UnknownSuggestion, StaleSuggestion, DocumentClosed:
		return true
	}
	return false
}
