package billing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/subsync/internal/entitlement"
	"github.com/angelmondragon/subsync/internal/users"
	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/enums"
)

// SubscriptionView is the account-facing billing state.
type SubscriptionView struct {
	Subscribed         bool                     `json:"subscribed"`
	Status             enums.SubscriptionStatus `json:"status"`
	CustomerID         *string                  `json:"customer_id,omitempty"`
	SubscriptionID     *string                  `json:"subscription_id,omitempty"`
	PriceID            *string                  `json:"price_id,omitempty"`
	CurrentPeriodStart *time.Time               `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time               `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool                     `json:"cancel_at_period_end"`
	CanceledAt         *time.Time               `json:"canceled_at,omitempty"`
	PaymentMethod      *PaymentMethodView       `json:"payment_method,omitempty"`
	LatestInvoice      *InvoiceView             `json:"latest_invoice,omitempty"`
	SyncedAt           *time.Time               `json:"synced_at,omitempty"`
}

type PaymentMethodView struct {
	Brand string `json:"brand"`
	Last4 string `json:"last4"`
}

type InvoiceView struct {
	ID        string `json:"id"`
	Status    string `json:"status,omitempty"`
	AmountDue string `json:"amount_due"`
	Currency  string `json:"currency,omitempty"`
}

// SessionView is a hosted provider page the client should redirect to.
type SessionView struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ResyncView is returned by the administrative resync.
type ResyncView struct {
	User         *users.UserDTO    `json:"user"`
	Subscription *SubscriptionView `json:"subscription"`
}

// unsubscribedView is what callers see when no billing customer exists.
func unsubscribedView() *SubscriptionView {
	projection := entitlement.Project(enums.SubscriptionStatusNone)
	return &SubscriptionView{
		Subscribed: projection.Subscribed,
		Status:     projection.DisplayStatus,
	}
}

// newSubscriptionView combines the user's projection with the mirrored
// subscription details. The projection always comes from the user row.
func newSubscriptionView(user *models.User, mirror *models.Subscription) *SubscriptionView {
	view := &SubscriptionView{
		Subscribed: user.Subscribed,
		Status:     user.SubscriptionStatus,
		CustomerID: user.PaymentCustomerID,
		SyncedAt:   user.SubscriptionSyncedAt,
	}
	if mirror == nil {
		return view
	}

	view.SubscriptionID = mirror.StripeSubscriptionID
	view.PriceID = mirror.PriceID
	view.CurrentPeriodStart = mirror.CurrentPeriodStart
	view.CurrentPeriodEnd = mirror.CurrentPeriodEnd
	view.CancelAtPeriodEnd = mirror.CancelAtPeriodEnd
	view.CanceledAt = mirror.CanceledAt

	if mirror.PaymentMethodBrand != nil || mirror.PaymentMethodLast4 != nil {
		view.PaymentMethod = &PaymentMethodView{
			Brand: deref(mirror.PaymentMethodBrand),
			Last4: deref(mirror.PaymentMethodLast4),
		}
	}
	if mirror.LatestInvoiceID != nil {
		currency := deref(mirror.LatestInvoiceCurrency)
		view.LatestInvoice = &InvoiceView{
			ID:        *mirror.LatestInvoiceID,
			Status:    deref(mirror.LatestInvoiceStatus),
			AmountDue: FormatMinorUnits(mirror.LatestInvoiceAmount, currency),
			Currency:  currency,
		}
	}
	return view
}

// Currencies Stripe bills without a minor unit.
var zeroDecimalCurrencies = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {}, "krw": {}, "mga": {},
	"pyg": {}, "rwf": {}, "ugx": {}, "vnd": {}, "vuv": {}, "xaf": {}, "xof": {}, "xpf": {},
}

// FormatMinorUnits renders a provider amount (in the currency's smallest
// unit) as a fixed-point decimal string.
func FormatMinorUnits(amount int64, currency string) string {
	if _, ok := zeroDecimalCurrencies[strings.ToLower(currency)]; ok {
		return decimal.New(amount, 0).StringFixed(0)
	}
	return decimal.New(amount, -2).StringFixed(2)
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
