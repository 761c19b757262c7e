package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/subsync/pkg/enums"
)

// Subscription is the local mirror of the provider's most relevant subscription
// for one customer. The row is replaced wholesale on every synchronization.
type Subscription struct {
	StripeCustomerID      string                   `gorm:"column:stripe_customer_id;primaryKey"`
	UserID                uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	StripeSubscriptionID  *string                  `gorm:"column:stripe_subscription_id"`
	Status                enums.SubscriptionStatus `gorm:"column:status;not null;default:'none'"`
	PriceID               *string                  `gorm:"column:price_id"`
	CurrentPeriodStart    *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd      *time.Time               `gorm:"column:current_period_end"`
	CancelAtPeriodEnd     bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CanceledAt            *time.Time               `gorm:"column:canceled_at"`
	PaymentMethodBrand    *string                  `gorm:"column:payment_method_brand"`
	PaymentMethodLast4    *string                  `gorm:"column:payment_method_last4"`
	LatestInvoiceID       *string                  `gorm:"column:latest_invoice_id"`
	LatestInvoiceStatus   *string                  `gorm:"column:latest_invoice_status"`
	LatestInvoiceAmount   int64                    `gorm:"column:latest_invoice_amount_due;not null;default:0"`
	LatestInvoiceCurrency *string                  `gorm:"column:latest_invoice_currency"`
	SyncedAt              time.Time                `gorm:"column:synced_at;not null"`
	CreatedAt             time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
