package stripewebhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v83"
)

// ErrMalformedEvent marks an allow-listed event without a usable customer
// reference. Redelivery cannot fix it.
var ErrMalformedEvent = errors.New("malformed webhook event")

var trackedEvents = map[stripe.EventType]struct{}{
	stripe.EventTypeCustomerSubscriptionCreated:  {},
	stripe.EventTypeCustomerSubscriptionUpdated:  {},
	stripe.EventTypeCustomerSubscriptionDeleted:  {},
	stripe.EventTypeCustomerSubscriptionPaused:   {},
	stripe.EventTypeCustomerSubscriptionResumed:  {},
	stripe.EventTypeCheckoutSessionCompleted:     {},
	stripe.EventTypeInvoicePaid:                  {},
	stripe.EventTypeInvoicePaymentFailed:         {},
	stripe.EventTypeInvoicePaymentActionRequired: {},
	stripe.EventTypeInvoiceUpcoming:              {},
	stripe.EventTypeInvoiceMarkedUncollectible:   {},
	stripe.EventTypeInvoicePaymentSucceeded:      {},
	stripe.EventTypePaymentIntentSucceeded:       {},
	stripe.EventTypePaymentIntentPaymentFailed:   {},
	stripe.EventTypePaymentIntentCanceled:        {},
	stripe.EventTypeChargeRefunded:               {},
}

// IsTracked reports whether events of this type affect subscription state.
func IsTracked(eventType stripe.EventType) bool {
	_, ok := trackedEvents[eventType]
	return ok
}

// Classification is the part of an event the reconciler needs.
type Classification struct {
	EventID           string
	EventType         string
	Tracked           bool
	CustomerID        string
	ClientReferenceID string
}

// eventObject is the subset of any tracked object read by the classifier.
// customer is expanded on some payloads and a bare id on others.
type eventObject struct {
	Customer          json.RawMessage `json:"customer"`
	ClientReferenceID string          `json:"client_reference_id"`
}

// Classify filters event against the allow-list and extracts the customer
// reference. Untracked events return Tracked=false and no error.
func Classify(event *stripe.Event) (Classification, error) {
	if event == nil {
		return Classification{}, fmt.Errorf("%w: event is nil", ErrMalformedEvent)
	}
	out := Classification{EventID: event.ID, EventType: string(event.Type)}
	if !IsTracked(event.Type) {
		return out, nil
	}
	out.Tracked = true

	if event.Data == nil || len(event.Data.Raw) == 0 {
		return out, fmt.Errorf("%w: %s has no data object", ErrMalformedEvent, event.Type)
	}
	var obj eventObject
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return out, fmt.Errorf("%w: decode %s object: %v", ErrMalformedEvent, event.Type, err)
	}

	customerID, err := customerReference(obj.Customer)
	if err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, event.Type, err)
	}
	out.CustomerID = customerID
	if event.Type == stripe.EventTypeCheckoutSessionCompleted {
		out.ClientReferenceID = strings.TrimSpace(obj.ClientReferenceID)
	}
	return out, nil
}

// customerReference accepts either "cus_123" or {"id": "cus_123", ...}.
func customerReference(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", errors.New("customer missing")
	}

	var id string
	switch trimmed[0] {
	case '"':
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", fmt.Errorf("customer id: %w", err)
		}
	case '{':
		var expanded struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &expanded); err != nil {
			return "", fmt.Errorf("customer object: %w", err)
		}
		id = expanded.ID
	default:
		return "", fmt.Errorf("customer has unexpected shape %q", trimmed)
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("customer id empty")
	}
	return id, nil
}
