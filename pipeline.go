package tenantclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Execute performs one logical call: breaker check, header injection, the attempt loop and a
// single breaker update with the final outcome.
//
// The result is always a value: failures of any kind come back as a typed Error in Result.Err.
// A rejected call (open circuit) is returned immediately, without dispatch and without retries.
// Retryable failures are retried up to MaxAttempts with backoff; when attempts run out the
// last error is returned. Only the logical call's final outcome updates the breaker.
func (c *Client) Execute(ctx context.Context, method, endpoint string, body any) Result[*Response] {
	start := time.Now()
	if ctx == nil {
		ctx = context.Background()
	}

	payload, buildErr := encodeBody(body)
	if buildErr != nil {
		c.metrics.observeCall(c.name, method, buildErr, time.Since(start))
		return fail[*Response](buildErr)
	}

	// A call the caller already abandoned must not consume a half-open probe.
	if err := ctx.Err(); err != nil {
		canceled := networkError(CodeRequestCanceled, "request canceled by caller", false, err)
		c.metrics.observeCall(c.name, method, canceled, time.Since(start))
		return fail[*Response](canceled)
	}

	permit, rejected := c.breaker.Evaluate()
	if rejected != nil {
		c.metrics.observeRejection(c.name)
		c.metrics.observeCall(c.name, method, rejected, time.Since(start))
		return fail[*Response](rejected)
	}

	requestID := uuid.NewString()
	target := c.buildURL(endpoint)
	logger := c.logger.With("method", method, "endpoint", endpoint, "request_id", requestID)

	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("HTTP %s %s", method, c.name),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", target),
			attribute.String("peer.service", c.name),
			attribute.String("request.id", requestID),
		),
	)
	defer span.End()

	header := c.buildHeader(ctx, requestID)

	resp, attempts, callErr := c.run(ctx, method, target, payload, header, logger)

	permit.RecordOutcome(callErr == nil)

	elapsed := time.Since(start)
	c.metrics.observeCall(c.name, method, callErr, elapsed)
	span.SetAttributes(attribute.Int("retry.attempts", attempts))

	if callErr != nil {
		span.SetStatus(codes.Error, callErr.Error())
		if callErr.Status != 0 {
			span.SetAttributes(attribute.Int("http.status_code", callErr.Status))
		}
		logger.Warn("request failed",
			"attempts", attempts,
			"duration", elapsed,
			"kind", callErr.Kind,
			"code", callErr.Code,
			"status", callErr.Status,
			"error", callErr)
		return fail[*Response](callErr)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if attempts > 1 {
		logger.Info("request succeeded after retry", "attempts", attempts, "duration", elapsed)
	} else {
		logger.Debug("request completed", "status", resp.StatusCode, "duration", elapsed)
	}
	return ok(resp)
}

// run drives the attempt loop. Attempts are strictly sequential: attempt N+1 starts only after
// attempt N's outcome and its backoff delay are known.
func (c *Client) run(
	ctx context.Context,
	method, target string,
	payload []byte,
	header http.Header,
	logger *slog.Logger,
) (*Response, int, *Error) {
	var (
		attempts int
		result   *Response
		lastErr  *Error
	)

	backoff := c.scheduler.policy(func(attempt int, delay time.Duration) {
		c.metrics.observeRetry(c.name, method)
		logger.Debug("retrying request after delay",
			"attempt", attempt,
			"delay", delay,
			"error", lastErr)
	})

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++

		resp, typed := c.attempt(ctx, method, target, payload, header, attempts, logger)
		if typed == nil {
			result = resp
			return nil
		}

		lastErr = typed
		if !typed.Retryable {
			logger.Debug("non-retryable error, giving up",
				"attempt", attempts,
				"error", typed)
			return typed
		}
		return retry.RetryableError(typed)
	})
	if err == nil {
		return result, attempts, nil
	}

	if typed, ok := AsError(err); ok {
		return nil, attempts, typed
	}

	// go-retry gave up on its own: the context ended before the first attempt or during a delay.
	if attempts == 0 {
		return nil, 0, networkError(CodeRequestCanceled, "request canceled by caller", false, err)
	}
	return nil, attempts, retryDelayFailure(attempts, err)
}

type transportOutcome struct {
	resp *http.Response
	err  error
}

// attempt dispatches one request under the per-attempt deadline and normalizes the response.
// The deadline is enforced here as well as in the transport, so a transport that ignores its
// context still cannot hold the call past Timeout.
func (c *Client) attempt(
	parent context.Context,
	method, target string,
	payload []byte,
	header http.Header,
	attempt int,
	logger *slog.Logger,
) (*Response, *Error) {
	ctx, cancel := context.WithTimeout(parent, c.config.Timeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &Error{
			Kind:    KindBusiness,
			Code:    CodeRequestBuildFailed,
			Message: "building request: " + err.Error(),
			Cause:   err,
		}
	}
	req.Header = header.Clone()

	done := make(chan transportOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- transportOutcome{err: fmt.Errorf("transport panicked: %v", r)}
			}
		}()
		resp, err := c.transport.Execute(ctx, req)
		done <- transportOutcome{resp: resp, err: err}
	}()

	var out transportOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		// Whatever the transport eventually returns is discarded; its body must still be closed.
		go func() {
			if late := <-done; late.resp != nil {
				_ = late.resp.Body.Close()
			}
		}()
		out = transportOutcome{err: ctx.Err()}
	}

	if out.err == nil && out.resp == nil {
		out.err = fmt.Errorf("transport returned neither response nor error")
	}
	if out.err != nil {
		c.metrics.observeAttempt(c.name, method, 0)
		typed := c.classifier.ClassifyTransport(parent, ctx, out.err)
		logger.Debug("attempt failed", "attempt", attempt, "error", typed)
		return nil, typed
	}

	c.metrics.observeAttempt(c.name, method, out.resp.StatusCode)

	raw, err := readBody(out.resp, c.config.MaxBodyBytes)
	if err != nil {
		typed := c.classifier.ClassifyTransport(parent, ctx, err)
		logger.Debug("reading response failed", "attempt", attempt, "error", typed)
		return nil, typed
	}

	resp, typed := c.normalizer.normalize(out.resp.StatusCode, out.resp.Header, raw)
	if typed != nil {
		logger.Debug("attempt returned error response",
			"attempt", attempt,
			"status", out.resp.StatusCode,
			"error", typed)
		return nil, typed
	}
	return resp, nil
}

// buildHeader assembles the headers shared by every attempt of one logical call.
// Missing credentials or tenant are not errors: the server decides what to do with them.
func (c *Client) buildHeader(ctx context.Context, requestID string) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set(HeaderRequestID, requestID)

	if c.credentials != nil {
		if token, ok := c.credentials.Token(); ok {
			h.Set("Authorization", "Bearer "+token)
		}
	}
	if c.tenant != nil {
		if tenantID, ok := c.tenant.TenantID(); ok {
			h.Set(HeaderTenantID, tenantID)
		}
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
	return h
}

// encodeBody turns a request body into bytes that can be replayed on every attempt.
// []byte and json.RawMessage are sent as-is; nil means no body.
func encodeBody(body any) ([]byte, *Error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{
			Kind:    KindBusiness,
			Code:    CodeRequestBuildFailed,
			Message: "request body is not JSON-encodable",
			Cause:   err,
		}
	}
	return data, nil
}
