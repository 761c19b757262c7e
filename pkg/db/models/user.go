package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/subsync/pkg/enums"
)

// User is the local account whose entitlement mirrors the billing provider.
// Only the synchronizer writes Subscribed and SubscriptionStatus.
type User struct {
	ID                   uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email                string                   `gorm:"type:text;not null;uniqueIndex"`
	PaymentCustomerID    *string                  `gorm:"column:payment_customer_id;uniqueIndex"`
	Subscribed           bool                     `gorm:"column:subscribed;not null;default:false"`
	SubscriptionStatus   enums.SubscriptionStatus `gorm:"column:subscription_status;not null;default:'none'"`
	SubscriptionSyncedAt *time.Time               `gorm:"column:subscription_synced_at"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
