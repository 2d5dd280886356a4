package tenantclient

import (
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

// maxRetryBound caps MaxAttempts before it is converted to go-retry's uint64 retry count.
const maxRetryBound = 1000

// Scheduler computes the delay between attempts of one logical call.
// The delay after completed attempt N is min(BaseDelay * 2^(N-1), MaxDelay),
// optionally randomized by Jitter. The attempt loop waits through policy; an interrupted
// wait ends the call with network/RETRY_DELAY_FAILURE.
type Scheduler struct {
	config RetryConfig
}

// NewScheduler creates a scheduler for the given retry policy.
func NewScheduler(config RetryConfig) *Scheduler {
	return &Scheduler{config: config}
}

// Delay returns the delay to apply after the given completed attempt (1-indexed).
// It returns 0 for attempt < 1.
func (s *Scheduler) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	b := s.backoff()
	var next time.Duration
	for i := 0; i < attempt; i++ {
		next, _ = b.Next()
	}
	return next
}

// backoff builds a fresh capped exponential sequence. go-retry backoffs are stateful,
// so every logical call needs its own.
func (s *Scheduler) backoff() retry.Backoff {
	var b retry.Backoff = retry.NewExponential(s.config.BaseDelay)
	if s.config.Jitter > 0 {
		b = retry.WithJitter(s.config.Jitter, b)
	}
	return retry.WithCappedDuration(s.config.MaxDelay, b)
}

// policy returns the backoff used by the attempt loop of one logical call.
// It stops after MaxAttempts-1 retries and reports each chosen delay to onDelay
// together with the attempt that just completed.
func (s *Scheduler) policy(onDelay func(attempt int, delay time.Duration)) retry.Backoff {
	maxAttempts := s.config.MaxAttempts
	if maxAttempts > maxRetryBound {
		maxAttempts = maxRetryBound
	}
	maxRetries := maxAttempts - 1
	if maxRetries < 0 {
		maxRetries = 0
	}

	b := retry.WithMaxRetries(uint64(maxRetries), s.backoff()) // #nosec G115 - bounds checked above
	completed := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := b.Next()
		if stop {
			return 0, true
		}
		completed++
		if onDelay != nil {
			onDelay(completed, next)
		}
		return next, false
	})
}

func retryDelayFailure(attempt int, cause error) *Error {
	return networkError(
		CodeRetryDelayFailure,
		fmt.Sprintf("retry delay after attempt %d was interrupted", attempt),
		false,
		cause,
	)
}
