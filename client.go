// Package tenantclient provides a resilient JSON API client for multi-tenant backends.
// Every call passes through a circuit breaker, runs each attempt under a hard timeout,
// retries transient failures with capped exponential backoff, injects tenant and bearer
// headers, and normalizes the response into a typed Result instead of returning bare errors.
package tenantclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Header names set on every outgoing request.
const (
	HeaderTenantID  = "X-Tenant-ID"
	HeaderRequestID = "X-Request-ID"
)

const (
	defaultName = "tenant-api"

	instrumentationName = "github.com/JohnPlummer/jp-go-tenantclient"

	transportMaxIdleConns        = 100
	transportMaxIdleConnsPerHost = 10
	transportIdleConnTimeout     = 90 * time.Second
)

// Transport executes a single HTTP attempt.
// The context carries the per-attempt deadline and must be honored; the client also stops
// waiting on its own once the deadline passes.
//
// Example:
//
//	type recordingTransport struct{ next tenantclient.Transport }
//
//	func (t *recordingTransport) Execute(ctx context.Context, req *http.Request) (*http.Response, error) {
//	    log.Printf("%s %s", req.Method, req.URL)
//	    return t.next.Execute(ctx, req)
//	}
type Transport interface {
	Execute(ctx context.Context, req *http.Request) (*http.Response, error)
}

// HTTPTransport adapts an *http.Client to Transport.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport wraps client. A nil client gets a pooled transport without a client-level
// timeout, since deadlines are applied per attempt through the request context.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        transportMaxIdleConns,
				MaxIdleConnsPerHost: transportMaxIdleConnsPerHost,
				IdleConnTimeout:     transportIdleConnTimeout,
			},
		}
	}
	return &HTTPTransport{client: client}
}

// Execute implements Transport.
func (t *HTTPTransport) Execute(ctx context.Context, req *http.Request) (*http.Response, error) {
	return t.client.Do(req.WithContext(ctx))
}

// Client is a resilient, tenant-aware JSON API client.
// Its circuit breaker is owned by this instance alone: call sites that should share breaker
// state share the *Client.
type Client struct {
	baseURL     string
	name        string
	config      Config
	opts        options
	transport   Transport
	credentials CredentialSource
	tenant      TenantSource
	logger      *slog.Logger
	metrics     *Metrics
	breaker     *CircuitBreaker
	scheduler   *Scheduler
	classifier  Classifier
	normalizer  normalizer
	tracer      trace.Tracer
}

// New creates a client for the API rooted at baseURL.
//
// Example:
//
//	client, err := tenantclient.New(
//	    "https://api.example.com/v1",
//	    tenantclient.WithCredentials(tenantclient.StaticCredentials(token)),
//	    tenantclient.WithTenant(tenantclient.StaticTenant("acme")),
//	    tenantclient.WithMaxAttempts(3),
//	    tenantclient.WithExponentialBackoff(time.Second, 10*time.Second),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	o := options{
		config: DefaultConfig(),
		name:   defaultName,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return newClient(baseURL, o)
}

func newClient(baseURL string, o options) (*Client, error) {
	if err := validateBaseURL(baseURL); err != nil {
		return nil, err
	}
	if err := o.config.Validate(); err != nil {
		return nil, err
	}

	if o.name == "" {
		o.name = defaultName
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.transport == nil {
		o.transport = NewHTTPTransport(nil)
	}

	logger := o.logger.With("component", "tenantclient", "client", o.name)
	classifier := Classifier{Timeout: o.config.Timeout}

	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		name:        o.name,
		config:      o.config,
		opts:        o,
		transport:   o.transport,
		credentials: o.credentials,
		tenant:      o.tenant,
		logger:      logger,
		metrics:     o.metrics,
		breaker:     NewCircuitBreaker(o.name, o.config.CircuitBreaker, logger, o.metrics, o.onStateChange),
		scheduler:   NewScheduler(o.config.Retry),
		classifier:  classifier,
		normalizer:  normalizer{classifier: classifier},
		tracer:      otel.Tracer(instrumentationName),
	}, nil
}

// With builds an independent client from this client's settings with opts applied on top.
// The new client has its own circuit breaker; this client is not affected.
//
// Example:
//
//	fastFail, err := client.With(tenantclient.WithMaxAttempts(1), tenantclient.WithTimeout(time.Second))
func (c *Client) With(opts ...Option) (*Client, error) {
	o := c.opts
	for _, opt := range opts {
		opt(&o)
	}
	return newClient(c.baseURL, o)
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, endpoint string) Result[*Response] {
	return c.Execute(ctx, http.MethodGet, endpoint, nil)
}

// Post performs a POST request with body encoded as JSON.
func (c *Client) Post(ctx context.Context, endpoint string, body any) Result[*Response] {
	return c.Execute(ctx, http.MethodPost, endpoint, body)
}

// Put performs a PUT request with body encoded as JSON.
func (c *Client) Put(ctx context.Context, endpoint string, body any) Result[*Response] {
	return c.Execute(ctx, http.MethodPut, endpoint, body)
}

// Delete performs a DELETE request. body may be nil.
func (c *Client) Delete(ctx context.Context, endpoint string, body any) Result[*Response] {
	return c.Execute(ctx, http.MethodDelete, endpoint, body)
}

// ResetCircuitBreaker forces the circuit back to closed with a zero failure count.
func (c *Client) ResetCircuitBreaker() {
	c.breaker.Reset()
}

// CircuitState returns the current state of the circuit breaker.
func (c *Client) CircuitState() CircuitState {
	return c.breaker.State()
}

// CircuitBreaker exposes the client's breaker for inspection.
func (c *Client) CircuitBreaker() *CircuitBreaker {
	return c.breaker
}

// Health returns the health status of the client's circuit breaker.
func (c *Client) Health() HealthStatus {
	return c.breaker.Health()
}

// Config returns the client's policy.
func (c *Client) Config() Config {
	return c.config
}

// Name returns the client's name.
func (c *Client) Name() string {
	return c.name
}

// buildURL joins the base URL and endpoint. Absolute endpoints are used as-is.
func (c *Client) buildURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return c.baseURL + endpoint
}

func validateBaseURL(baseURL string) error {
	if baseURL == "" {
		return errors.New("base URL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("base URL scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("base URL must include a host")
	}
	return nil
}
