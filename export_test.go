package tenantclient

import (
	"net/http"
	"time"
)

// Normalize runs the response normalizer outside of a client.
func Normalize(status int, header http.Header, body []byte, timeout time.Duration) (*Response, *Error) {
	return normalizer{classifier: Classifier{Timeout: timeout}}.normalize(status, header, body)
}
