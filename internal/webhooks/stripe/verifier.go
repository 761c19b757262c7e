package stripewebhook

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"
)

// ErrInvalidSignature covers a missing, malformed, stale or non-matching
// Stripe-Signature header.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Verifier authenticates raw webhook bodies against the signing secret.
type Verifier struct {
	secret                   string
	tolerance                time.Duration
	ignoreAPIVersionMismatch bool
}

// NewVerifier builds a verifier. A zero tolerance uses Stripe's default.
func NewVerifier(secret string, tolerance time.Duration, ignoreAPIVersionMismatch bool) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("webhook signing secret required")
	}
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Verifier{
		secret:                   secret,
		tolerance:                tolerance,
		ignoreAPIVersionMismatch: ignoreAPIVersionMismatch,
	}, nil
}

// Verify checks header against payload and returns the parsed event. The
// payload is not interpreted before the signature passes.
func (v *Verifier) Verify(payload []byte, header string) (*stripe.Event, error) {
	if strings.TrimSpace(header) == "" {
		return nil, fmt.Errorf("%w: header missing", ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: v.ignoreAPIVersionMismatch,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return &event, nil
}
