package tenantclient

import "time"

// HealthStatus represents the health of a client's circuit breaker.
// It is what `tenantctl probe` prints and what a service health endpoint can embed.
type HealthStatus struct {
	// Name identifies the client.
	Name string `json:"name"`

	// Healthy is true for closed and half-open states, false for open.
	Healthy bool `json:"healthy"`

	// State is "closed", "half-open" or "open".
	State string `json:"state"`

	// FailureCount is the number of consecutive failed calls since the last success or reset.
	FailureCount uint32 `json:"failure_count"`

	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold uint32 `json:"failure_threshold"`

	// LastFailureTime is when the most recent failed call was recorded.
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`

	// Requests is the number of calls admitted in the current breaker generation.
	Requests uint32 `json:"requests"`

	// TotalSuccesses is the number of successful calls in the current generation.
	TotalSuccesses uint32 `json:"total_successes"`

	// TotalFailures is the number of failed calls in the current generation.
	TotalFailures uint32 `json:"total_failures"`

	// ConsecutiveFailures is the breaker's own consecutive failure counter.
	ConsecutiveFailures uint32 `json:"consecutive_failures"`

	// ConsecutiveSuccesses is the breaker's own consecutive success counter.
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
}
