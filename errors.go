package tenantclient

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the stable taxonomy of client failures.
type Kind string

const (
	// KindAuth covers 401/403 responses. Never retryable; the caller must re-authenticate.
	KindAuth Kind = "auth"

	// KindValidation covers 400/422 responses. Never retryable; the caller must fix its input.
	KindValidation Kind = "validation"

	// KindNetwork covers transport failures, timeouts, 5xx responses and an open circuit.
	KindNetwork Kind = "network"

	// KindBusiness covers every other failure, including 2xx bodies that report success=false.
	KindBusiness Kind = "business"
)

// Machine-readable sub-codes carried in Error.Code.
const (
	CodeTimeout            = "TIMEOUT"
	CodeNetworkError       = "NETWORK_ERROR"
	CodeCircuitOpen        = "CIRCUIT_BREAKER_OPEN"
	CodeRetryDelayFailure  = "RETRY_DELAY_FAILURE"
	CodeInvalidContentType = "INVALID_CONTENT_TYPE"
	CodeJSONParseError     = "JSON_PARSE_ERROR"
	CodeRequestCanceled    = "REQUEST_CANCELED"
	CodeRequestBuildFailed = "REQUEST_BUILD_FAILED"
	CodeResponseTooLarge   = "RESPONSE_TOO_LARGE"
)

// Error is the typed failure returned by every client operation.
// Callers can render a generic message from Kind/Message or a field-specific one from Details
// without inspecting the underlying transport error.
type Error struct {
	// Kind is the failure category.
	Kind Kind `json:"kind"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Code is an optional machine-readable sub-code such as TIMEOUT.
	Code string `json:"code,omitempty"`

	// Status is the HTTP status when the error was derived from a response, otherwise 0.
	Status int `json:"statusCode,omitempty"`

	// Retryable reports whether repeating the request may succeed.
	Retryable bool `json:"retryable"`

	// Details carries structured context such as field-level validation messages.
	Details map[string]any `json:"details,omitempty"`

	// Cause is the underlying error, if any.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Kind)
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// StatusCode returns the HTTP status code, or 0 when the error did not come from a response.
// This lets *Error satisfy HTTP-status aware classifiers that look for a StatusCode() method.
func (e *Error) StatusCode() int {
	return e.Status
}

// IsRetryable reports whether the error represents a transient failure.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// MarshalJSON includes the cause message so CLI output keeps the transport detail.
func (e *Error) MarshalJSON() ([]byte, error) {
	type plain Error
	out := struct {
		*plain
		Cause string `json:"cause,omitempty"`
	}{plain: (*plain)(e)}
	if e.Cause != nil {
		out.Cause = e.Cause.Error()
	}
	return json.Marshal(out)
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == kind
}

// HasCode reports whether err is a *Error carrying the given code.
func HasCode(err error, code string) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

func networkError(code, message string, retryable bool, cause error) *Error {
	return &Error{
		Kind:      KindNetwork,
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

func businessError(code, message string, cause error) *Error {
	return &Error{
		Kind:    KindBusiness,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}
