package tenantclient

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds the immutable policy of one client instance.
// A caller wanting a different policy builds a new client; Client.With is a shortcut for that.
type Config struct {
	// Timeout is the hard deadline of each attempt. Exceeding it aborts the transport call.
	// Default: 30 seconds
	Timeout time.Duration `koanf:"timeout" validate:"required,min=1ms"`

	// Retry configures the attempt loop.
	Retry RetryConfig `koanf:"retry" validate:"required"`

	// CircuitBreaker configures the breaker gating every logical call.
	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker" validate:"required"`

	// MaxBodyBytes caps the size of a response body.
	// Default: 10 MiB
	MaxBodyBytes int64 `koanf:"max_body_bytes" validate:"required,min=1"`
}

// RetryConfig holds retry configuration options.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	// Default: 3
	MaxAttempts int `koanf:"max_attempts" validate:"required,min=1,max=100"`

	// BaseDelay is the delay after the first failed attempt. Each further delay doubles.
	// Default: 1 second
	BaseDelay time.Duration `koanf:"base_delay" validate:"required,min=1ms"`

	// MaxDelay caps every delay.
	// Default: 10 seconds
	MaxDelay time.Duration `koanf:"max_delay" validate:"required,gtefield=BaseDelay"`

	// Jitter adds a random +/- offset of up to this duration to each delay. Zero disables it.
	// Default: 0
	Jitter time.Duration `koanf:"jitter" validate:"min=0"`
}

// CircuitBreakerConfig holds circuit breaker configuration options.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failed calls that opens the circuit.
	// Default: 5
	FailureThreshold uint32 `koanf:"failure_threshold" validate:"required,min=1"`

	// ResetTimeout is how long the circuit stays open before a single probe is allowed.
	// Default: 60 seconds
	ResetTimeout time.Duration `koanf:"reset_timeout" validate:"required,min=1ms"`
}

// DefaultConfig returns client configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    10 * time.Second,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     60 * time.Second,
		},
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration and reports every invalid field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	msgs := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		field := fieldPath(e.Namespace())
		switch e.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, e.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", field, e.Param()))
		case "gtefield":
			msgs = append(msgs, fmt.Sprintf("%s must not be less than %s", field, strings.ToLower(e.Param())))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed validation: %s", field, e.Tag()))
		}
	}
	return fmt.Errorf("invalid client config: %s", strings.Join(msgs, "; "))
}

// fieldPath converts "Config.Retry.MaxAttempts" to "retry.maxattempts".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.ToLower(strings.Join(parts, "."))
}

// options collects everything New needs besides the policy.
type options struct {
	config        Config
	transport     Transport
	credentials   CredentialSource
	tenant        TenantSource
	logger        *slog.Logger
	metrics       *Metrics
	onStateChange func(from, to CircuitState)
	name          string
}

// Option is a functional option for configuring a Client.
type Option func(*options)

// WithConfig replaces the whole policy. Options applied after it still override single fields.
//
// Example:
//
//	cfg, err := config.Load("tenantctl.yaml", "", nil)
//	client, err := tenantclient.New(cfg.BaseURL, tenantclient.WithConfig(cfg.Client))
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithTimeout sets the per-attempt deadline.
//
// Example:
//
//	tenantclient.WithTimeout(5 * time.Second)
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.config.Timeout = timeout
	}
}

// WithMaxAttempts sets the maximum number of attempts per logical call.
// The total number of transport calls will be at most MaxAttempts (including the initial attempt).
//
// Example:
//
//	tenantclient.WithMaxAttempts(1) // fail fast, no retries
func WithMaxAttempts(attempts int) Option {
	return func(o *options) {
		o.config.Retry.MaxAttempts = attempts
	}
}

// WithExponentialBackoff configures the delay between attempts.
// The delay after attempt N is min(baseDelay * 2^(N-1), maxDelay).
//
// Example:
//
//	tenantclient.WithExponentialBackoff(time.Second, 10*time.Second)
//	// Delays: 1s, 2s, 4s, 8s, 10s (capped)
func WithExponentialBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(o *options) {
		o.config.Retry.BaseDelay = baseDelay
		o.config.Retry.MaxDelay = maxDelay
	}
}

// WithJitter randomizes each delay by up to +/- jitter.
func WithJitter(jitter time.Duration) Option {
	return func(o *options) {
		o.config.Retry.Jitter = jitter
	}
}

// WithFailureThreshold sets how many consecutive failed calls open the circuit.
func WithFailureThreshold(threshold uint32) Option {
	return func(o *options) {
		o.config.CircuitBreaker.FailureThreshold = threshold
	}
}

// WithResetTimeout sets how long the circuit stays open before a probe is allowed.
func WithResetTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.config.CircuitBreaker.ResetTimeout = timeout
	}
}

// WithMaxBodyBytes caps the size of response bodies.
func WithMaxBodyBytes(limit int64) Option {
	return func(o *options) {
		o.config.MaxBodyBytes = limit
	}
}

// WithTransport replaces the HTTP transport. Tests use it to inject a mock.
func WithTransport(transport Transport) Option {
	return func(o *options) {
		o.transport = transport
	}
}

// WithCredentials sets the bearer token lookup.
//
// Example:
//
//	tenantclient.WithCredentials(tenantclient.NewKeyringStore("tenantctl"))
func WithCredentials(source CredentialSource) Option {
	return func(o *options) {
		o.credentials = source
	}
}

// WithTenant sets the tenant lookup used for the X-Tenant-ID header.
func WithTenant(source TenantSource) Option {
	return func(o *options) {
		o.tenant = source
	}
}

// WithLogger sets a custom logger.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	tenantclient.WithLogger(logger)
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records request and breaker metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithStateChangeHandler sets a callback for circuit breaker state changes.
// fn runs synchronously during the transition and must not query the breaker.
//
// Example:
//
//	tenantclient.WithStateChangeHandler(func(from, to tenantclient.CircuitState) {
//	    log.Printf("circuit changed from %s to %s", from, to)
//	})
func WithStateChangeHandler(fn func(from, to CircuitState)) Option {
	return func(o *options) {
		o.onStateChange = fn
	}
}

// WithName names the client in logs, metrics and traces.
// Default: "tenant-api"
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}
