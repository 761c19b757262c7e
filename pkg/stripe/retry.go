package stripe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stripe/stripe-go/v83"
)

const (
	defaultAttempts    = 3
	defaultBaseBackoff = 200 * time.Millisecond
	defaultCallTimeout = 10 * time.Second
)

// RetryPolicy bounds how long and how often a provider call is attempted.
type RetryPolicy struct {
	MaxAttempts uint64
	BaseBackoff time.Duration
	CallTimeout time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = defaultAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = defaultBaseBackoff
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = defaultCallTimeout
	}
	return p
}

// Do runs fn with a per-attempt timeout, retrying transient failures with
// jittered exponential backoff. The last error is returned once attempts run out.
func Do(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	policy = policy.normalized()

	backoff := retry.NewExponential(policy.BaseBackoff)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithMaxRetries(policy.MaxAttempts-1, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, policy.CallTimeout)
		defer cancel()

		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() == nil && IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// IsTransient reports whether err is worth retrying: rate limits, provider
// 5xx responses, timeouts and network failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
