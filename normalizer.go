package tenantclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// DefaultMaxBodyBytes caps how much of a response body is read.
const DefaultMaxBodyBytes int64 = 10 << 20

// Envelope is the conventional response wrapper used by the backend:
// {success, data, message} on success and {message, code, details} on failure.
// A field is only taken when it has the expected JSON type; a bare payload that happens
// to use one of these keys for its own data leaves the field empty.
type Envelope struct {
	Success *bool           `json:"success,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Err     json.RawMessage `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
	Details map[string]any  `json:"details,omitempty"`
	Errors  json.RawMessage `json:"errors,omitempty"`
}

// Response is a normalized successful response.
type Response struct {
	// StatusCode is the HTTP status of the final attempt.
	StatusCode int `json:"statusCode"`

	// Header is the response header of the final attempt.
	Header http.Header `json:"-"`

	// Message is the optional message carried by the success envelope.
	Message string `json:"message,omitempty"`

	// Data is the unwrapped "data" field, or the whole body when the body had no envelope.
	// It is nil for empty bodies.
	Data json.RawMessage `json:"data,omitempty"`
}

// Result is the value every client operation returns: either a Value or a typed Err.
type Result[T any] struct {
	Value T
	Err   *Error
}

// OK reports whether the result is a success.
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// Unwrap returns the value and the error in the conventional Go form.
// The returned error is nil on success, never a typed nil pointer.
func (r Result[T]) Unwrap() (T, error) {
	if r.Err != nil {
		return r.Value, r.Err
	}
	return r.Value, nil
}

func ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

func fail[T any](err *Error) Result[T] {
	return Result[T]{Err: err}
}

// Decode unmarshals the Data of a successful response into T.
// A failed result is passed through unchanged; a Data payload that does not fit T
// becomes business/JSON_PARSE_ERROR.
func Decode[T any](r Result[*Response]) Result[T] {
	if r.Err != nil {
		return fail[T](r.Err)
	}

	var out T
	if r.Value == nil || len(r.Value.Data) == 0 {
		return ok(out)
	}
	if err := json.Unmarshal(r.Value.Data, &out); err != nil {
		return fail[T](businessError(CodeJSONParseError, "response data does not match the expected shape", err))
	}
	return ok(out)
}

// normalizer turns a completed HTTP exchange into a uniform result.
type normalizer struct {
	classifier Classifier
}

// readBody reads at most limit bytes of the response body and always closes it.
// A body longer than limit is reported as an error rather than silently truncated.
func readBody(resp *http.Response, limit int64) ([]byte, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, &Error{
			Kind:    KindBusiness,
			Code:    CodeResponseTooLarge,
			Message: fmt.Sprintf("response body exceeds %d bytes", limit),
		}
	}
	return body, nil
}

// normalize interprets status, headers and body.
// Non-2xx statuses are classified first so that, for example, an HTML 503 page from a proxy
// stays a retryable network failure instead of becoming a content-type error.
func (n normalizer) normalize(status int, header http.Header, body []byte) (*Response, *Error) {
	if !isSuccessStatus(status) {
		var env *Envelope
		if isJSONContentType(header.Get("Content-Type")) {
			// Best effort: an unparseable error body still yields a status-based error.
			env, _ = decodeEnvelope(body)
		}
		return nil, n.classifier.ClassifyStatus(status, env)
	}

	trimmed := bytes.TrimSpace(body)
	if status == http.StatusNoContent || len(trimmed) == 0 {
		return &Response{StatusCode: status, Header: header}, nil
	}

	contentType := header.Get("Content-Type")
	if !isJSONContentType(contentType) {
		if contentType == "" {
			contentType = "none"
		}
		return nil, businessError(
			CodeInvalidContentType,
			fmt.Sprintf("expected a JSON response, got content type %q", contentType),
			nil,
		)
	}

	env, err := decodeEnvelope(trimmed)
	if err != nil {
		return nil, businessError(CodeJSONParseError, "response body is not valid JSON", err)
	}

	// Not an object: there is no envelope, the whole body is the payload.
	if env == nil {
		return &Response{StatusCode: status, Header: header, Data: json.RawMessage(trimmed)}, nil
	}

	if env.Success != nil && !*env.Success {
		e := businessError(env.Code, env.message("request reported failure"), nil)
		e.Status = status
		e.Details = env.fieldErrors()
		return nil, e
	}

	resp := &Response{StatusCode: status, Header: header, Message: env.Message}
	if env.Data != nil {
		resp.Data = env.Data
	} else {
		resp.Data = json.RawMessage(trimmed)
	}
	return resp, nil
}

// decodeEnvelope validates body as JSON and reads the envelope fields when it is an object.
// It returns (nil, nil) for valid JSON that is not an object. Only invalid JSON is an error.
func decodeEnvelope(body []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("invalid JSON document of %d bytes", len(trimmed))
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("decoding response object: %w", err)
	}

	env := &Envelope{
		Data:   fields["data"],
		Err:    fields["error"],
		Errors: fields["errors"],
	}

	// null decodes into a bool without error, so match the literals.
	switch string(fields["success"]) {
	case "true":
		success := true
		env.Success = &success
	case "false":
		success := false
		env.Success = &success
	}
	env.Message = stringField(fields, "message")
	env.Code = stringField(fields, "code")

	if raw, ok := fields["details"]; ok {
		var details map[string]any
		if json.Unmarshal(raw, &details) == nil {
			env.Details = details
		}
	}
	return env, nil
}

// stringField returns fields[key] when it is a JSON string, otherwise "".
func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// message returns the best human-readable message in the envelope, or fallback.
func (e *Envelope) message(fallback string) string {
	if e == nil {
		return fallback
	}
	if e.Message != "" {
		return e.Message
	}
	if msg := e.errorText(); msg != "" {
		return msg
	}
	return fallback
}

// errorText reads "error" as either a string or an object with a message.
func (e *Envelope) errorText() string {
	if len(e.Err) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(e.Err, &text); err == nil {
		return text
	}
	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(e.Err, &nested); err == nil {
		return nested.Message
	}
	return ""
}

func isSuccessStatus(status int) bool {
	return status >= 200 && status < 300
}

// isJSONContentType accepts application/json and structured-syntax suffixes like
// application/problem+json.
func isJSONContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
