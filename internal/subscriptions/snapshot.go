package subscriptions

import (
	"sort"
	"time"

	"github.com/angelmondragon/subsync/pkg/enums"
)

// Snapshot is the provider's current view of one subscription. It is built
// fresh on every synchronization and never merged with stored state.
type Snapshot struct {
	CustomerID         string
	SubscriptionID     string
	Status             enums.SubscriptionStatus
	PriceID            string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	Created            time.Time
	PaymentMethod      *PaymentMethod
	LatestInvoice      *InvoiceRef
}

// PaymentMethod describes the default payment method without sensitive data.
type PaymentMethod struct {
	Brand string
	Last4 string
}

// InvoiceRef points at the most recent invoice of a subscription.
type InvoiceRef struct {
	ID        string
	Status    string
	AmountDue int64
	Currency  string
}

// relevanceRank orders statuses: live first, then recoverable, then terminal.
func relevanceRank(status enums.SubscriptionStatus) int {
	switch {
	case status == enums.SubscriptionStatusActive || status == enums.SubscriptionStatusTrialing:
		return 0
	case status.IsTerminal():
		return 2
	default:
		return 1
	}
}

// SelectRelevant picks the subscription that defines the customer's state.
// Lower rank wins, then the most recently created, then the greatest id so
// the choice never depends on input order. ok is false for an empty input.
func SelectRelevant(snapshots []Snapshot) (Snapshot, bool) {
	if len(snapshots) == 0 {
		return Snapshot{}, false
	}

	ordered := make([]Snapshot, len(snapshots))
	copy(ordered, snapshots)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if ra, rb := relevanceRank(a.Status), relevanceRank(b.Status); ra != rb {
			return ra < rb
		}
		if !a.Created.Equal(b.Created) {
			return a.Created.After(b.Created)
		}
		return a.SubscriptionID > b.SubscriptionID
	})
	return ordered[0], true
}
