// Package entitlement decides whether an account gets premium features.
// Nothing else in the codebase should interpret provider status strings.
package entitlement

import "github.com/angelmondragon/subsync/pkg/enums"

// Projection is the application-facing view of a subscription status.
type Projection struct {
	Subscribed    bool                     `json:"subscribed"`
	DisplayStatus enums.SubscriptionStatus `json:"status"`
}

// Project maps a provider status onto the local entitlement. Unknown and empty
// statuses project to the unsubscribed "none" state.
func Project(status enums.SubscriptionStatus) Projection {
	if !status.IsValid() {
		return Projection{Subscribed: false, DisplayStatus: enums.SubscriptionStatusNone}
	}
	return Projection{
		Subscribed:    IsEntitled(status),
		DisplayStatus: status,
	}
}

// IsEntitled is true only for active and trialing subscriptions.
func IsEntitled(status enums.SubscriptionStatus) bool {
	switch status {
	case enums.SubscriptionStatusActive, enums.SubscriptionStatusTrialing:
		return true
	default:
		return false
	}
}
