package stripe

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/angelmondragon/subsync/pkg/config"
)

func TestNewClientValidatesKeysAgainstEnv(t *testing.T) {
	ctx := context.Background()

	if _, err := NewClient(ctx, config.StripeConfig{APIKey: "sk_live_123", Secret: "whsec", Env: "test"}, nil); err == nil {
		t.Fatal("expected live key to be rejected in test env")
	}
	if _, err := NewClient(ctx, config.StripeConfig{APIKey: "sk_test_123", Env: "test"}, nil); !errors.Is(err, errSecretRequired) {
		t.Fatalf("expected missing secret error, got %v", err)
	}
	if _, err := NewClient(ctx, config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec", Env: "staging"}, nil); !errors.Is(err, errInvalidStripeEnv) {
		t.Fatalf("expected invalid env error, got %v", err)
	}

	client, err := NewClient(ctx, config.StripeConfig{APIKey: "rk_test_123", Secret: " whsec_abc ", Env: ""}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.Environment() != "test" {
		t.Fatalf("expected test env, got %s", client.Environment())
	}
	if client.SigningSecret() != "whsec_abc" {
		t.Fatalf("expected trimmed secret, got %q", client.SigningSecret())
	}
}

func TestEmailSearchQueryEscapesQuotes(t *testing.T) {
	got := EmailSearchQuery(" o'brien@example.com ")
	want := `email:'o\'brien@example.com'`
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}, true},
		{"server error", &stripe.Error{HTTPStatusCode: http.StatusBadGateway}, true},
		{"not found", &stripe.Error{HTTPStatusCode: http.StatusNotFound}, false},
		{"timeout", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Fatalf("%s: expected %v got %v", tc.name, tc.want, got)
		}
	}
}

func TestDoRetriesTransientFailures(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond, CallTimeout: time.Second}

	calls := 0
	err := Do(context.Background(), policy, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &stripe.Error{HTTPStatusCode: http.StatusServiceUnavailable}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanentFailure(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseBackoff: time.Millisecond}

	calls := 0
	permanent := &stripe.Error{HTTPStatusCode: http.StatusBadRequest}
	err := Do(context.Background(), policy, func(ctx context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("permanent errors must not be retried, got %d calls", calls)
	}
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, BaseBackoff: time.Millisecond}

	calls := 0
	err := Do(context.Background(), policy, func(ctx context.Context) error {
		calls++
		return &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if !IsTransient(err) {
		t.Fatalf("expected last transient error to surface, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}
