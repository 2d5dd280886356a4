package tenantclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	jperrors "github.com/JohnPlummer/jp-go-errors"
)

// Classifier converts raw failure signals into typed errors.
// It is a pure function of its inputs and holds no state beyond the configured timeout,
// which is only used to describe TIMEOUT failures.
type Classifier struct {
	// Timeout is the per-attempt deadline reported in TIMEOUT errors.
	Timeout time.Duration
}

// ClassifyTransport converts an error returned by the transport (or by reading the response
// body) into a typed error.
//
// parent is the caller's context and attempt is the per-attempt context derived from it.
// Rules, in priority order:
//   - the caller's context ended: network/REQUEST_CANCELED, not retryable
//   - the attempt deadline fired or the transport reports a timeout: network/TIMEOUT, retryable
//   - anything else (DNS, connection refused, TLS): network/NETWORK_ERROR, retryable
func (c Classifier) ClassifyTransport(parent, attempt context.Context, err error) *Error {
	if err == nil {
		return nil
	}

	if typed, ok := AsError(err); ok {
		return typed
	}

	// The caller gave up. Retrying against a dead context would fail immediately,
	// and the caller no longer wants the result.
	if parent != nil && parent.Err() != nil {
		return networkError(CodeRequestCanceled, "request canceled by caller", false, parent.Err())
	}

	if isTimeout(attempt, err) {
		return networkError(
			CodeTimeout,
			fmt.Sprintf("request timed out after %s", c.Timeout),
			true,
			jperrors.NewTimeoutError("request timed out", "execute", c.Timeout),
		)
	}

	return networkError(CodeNetworkError, "network request failed: "+err.Error(), true, err)
}

// ClassifyStatus converts a non-2xx HTTP status into a typed error.
// env is the decoded error body, or nil when the body was absent or not JSON.
//
//   - 401, 403: auth, not retryable
//   - 400, 422: validation, not retryable, Details taken from the body
//   - >= 500: network, retryable
//   - anything else: business, not retryable
func (c Classifier) ClassifyStatus(status int, env *Envelope) *Error {
	e := &Error{
		Status:  status,
		Message: env.message(http.StatusText(status)),
		Code:    env.code(),
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindAuth
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		e.Kind = KindValidation
		e.Details = env.fieldErrors()
	case status >= http.StatusInternalServerError:
		e.Kind = KindNetwork
		e.Retryable = true
	default:
		e.Kind = KindBusiness
		e.Details = env.details()
	}

	if e.Message == "" {
		e.Message = fmt.Sprintf("request failed with status %d", status)
	}

	return e
}

// isTimeout reports whether a transport failure was caused by a deadline.
func isTimeout(attempt context.Context, err error) bool {
	if attempt != nil && errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if jperrors.IsTimeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// fieldErrors extracts field-level validation messages from an error body.
// Backends report them either as a "details" object, an "errors" object,
// or an "errors" array of {field, message} entries.
func (e *Envelope) fieldErrors() map[string]any {
	if e == nil {
		return nil
	}
	if len(e.Details) > 0 {
		return e.Details
	}
	if len(e.Errors) == 0 {
		return nil
	}

	var byField map[string]any
	if err := json.Unmarshal(e.Errors, &byField); err == nil {
		return byField
	}

	var list []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(e.Errors, &list); err == nil {
		out := make(map[string]any, len(list))
		for _, item := range list {
			if item.Field == "" {
				continue
			}
			out[item.Field] = item.Message
		}
		if len(out) > 0 {
			return out
		}
	}

	var raw any
	if err := json.Unmarshal(e.Errors, &raw); err == nil {
		return map[string]any{"errors": raw}
	}
	return nil
}

func (e *Envelope) details() map[string]any {
	if e == nil || len(e.Details) == 0 {
		return nil
	}
	return e.Details
}

func (e *Envelope) code() string {
	if e == nil {
		return ""
	}
	return e.Code
}
