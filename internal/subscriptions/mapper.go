package subscriptions

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"

	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/enums"
)

// SnapshotFromStripe maps a provider subscription into a Snapshot. Unknown
// statuses are rejected so a new provider state never reads as entitled.
func SnapshotFromStripe(sub *stripe.Subscription) (Snapshot, error) {
	if sub == nil {
		return Snapshot{}, fmt.Errorf("subscription is nil")
	}
	status, err := enums.ParseSubscriptionStatus(string(sub.Status))
	if err != nil || status == enums.SubscriptionStatusNone {
		return Snapshot{}, fmt.Errorf("%w: %q on %s", ErrUnknownStatus, sub.Status, sub.ID)
	}

	snap := Snapshot{
		SubscriptionID:    sub.ID,
		Status:            status,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CanceledAt:        toTimePtr(sub.CanceledAt),
		Created:           toTime(sub.Created),
		PaymentMethod:     paymentMethodFromStripe(sub.DefaultPaymentMethod),
		LatestInvoice:     invoiceFromStripe(sub.LatestInvoice),
	}
	if sub.Customer != nil {
		snap.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		snap.CurrentPeriodStart = toTimePtr(item.CurrentPeriodStart)
		snap.CurrentPeriodEnd = toTimePtr(item.CurrentPeriodEnd)
		if item.Price != nil {
			snap.PriceID = item.Price.ID
		}
	}
	return snap, nil
}

func paymentMethodFromStripe(pm *stripe.PaymentMethod) *PaymentMethod {
	if pm == nil {
		return nil
	}
	if pm.Card != nil {
		return &PaymentMethod{Brand: string(pm.Card.Brand), Last4: pm.Card.Last4}
	}
	if pm.Type == "" {
		return nil
	}
	return &PaymentMethod{Brand: string(pm.Type)}
}

func invoiceFromStripe(inv *stripe.Invoice) *InvoiceRef {
	if inv == nil || inv.ID == "" {
		return nil
	}
	return &InvoiceRef{
		ID:        inv.ID,
		Status:    string(inv.Status),
		AmountDue: inv.AmountDue,
		Currency:  string(inv.Currency),
	}
}

// MirrorRow builds the full replacement row for a customer's mirror. A nil
// snapshot yields the "no subscription" row.
func MirrorRow(customerID string, userID uuid.UUID, snap *Snapshot, syncedAt time.Time) *models.Subscription {
	row := &models.Subscription{
		StripeCustomerID: customerID,
		UserID:           userID,
		Status:           enums.SubscriptionStatusNone,
		SyncedAt:         syncedAt,
	}
	if snap == nil {
		return row
	}

	row.StripeSubscriptionID = trimmedPtr(snap.SubscriptionID)
	row.Status = snap.Status
	row.PriceID = trimmedPtr(snap.PriceID)
	row.CurrentPeriodStart = snap.CurrentPeriodStart
	row.CurrentPeriodEnd = snap.CurrentPeriodEnd
	row.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
	row.CanceledAt = snap.CanceledAt
	if pm := snap.PaymentMethod; pm != nil {
		row.PaymentMethodBrand = trimmedPtr(pm.Brand)
		row.PaymentMethodLast4 = trimmedPtr(pm.Last4)
	}
	if inv := snap.LatestInvoice; inv != nil {
		row.LatestInvoiceID = trimmedPtr(inv.ID)
		row.LatestInvoiceStatus = trimmedPtr(inv.Status)
		row.LatestInvoiceAmount = inv.AmountDue
		row.LatestInvoiceCurrency = trimmedPtr(strings.ToLower(inv.Currency))
	}
	return row
}

func toTime(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

func toTimePtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

func trimmedPtr(value string) *string {
	if s := strings.TrimSpace(value); s != "" {
		return &s
	}
	return nil
}
