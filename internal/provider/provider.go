// Package provider owns the OpenAI client handle and the call policy every
// external request goes through.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sethvargo/go-retry"
)

// NewClient constructs the OpenAI client shared by all adapters. The SDK's
// own retries are disabled; Policy is the single retry layer.
func NewClient(apiKey, baseURL string) *openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return openai.NewClient(opts...)
}

// Policy bounds every attempt with Timeout and retries transient failures up
// to Retries times, waiting Backoff between attempts.
type Policy struct {
	Timeout time.Duration
	Retries uint64
	Backoff time.Duration
}

// DefaultPolicy is a 30 second timeout with a single retry.
func DefaultPolicy() Policy {
	return Policy{
		Timeout: 30 * time.Second,
		Retries: 1,
		Backoff: 500 * time.Millisecond,
	}
}

// Do runs fn under the policy. op names the call in logs.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(p.Retries, retry.NewConstant(p.backoff()))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := p.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() == nil && IsTransient(err) {
			slog.Warn("provider call failed, retrying",
				"component", "provider",
				"op", op,
				"attempt", attempt,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (p Policy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.Timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	return fn(attemptCtx)
}

func (p Policy) backoff() time.Duration {
	if p.Backoff <= 0 {
		return time.Millisecond
	}
	return p.Backoff
}

// IsTransient reports whether err is worth one more attempt: timeouts,
// network failures and HTTP 408, 409, 429 or 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return isRetryableStatus(apiErr.StatusCode)
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func isRetryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout,
		code == http.StatusConflict,
		code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

// ErrorKind classifies err into a short label for logs and results.
func ErrorKind(err error) string {
	var apiErr *openai.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &apiErr):
		return fmt.Sprintf("api_error_%d", apiErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return "connection_error"
	}
	return "error"
}
