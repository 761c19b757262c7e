package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/enums"
)

// UserDTO is the billing view of a user returned by admin endpoints.
type UserDTO struct {
	ID                   uuid.UUID                `json:"id"`
	Email                string                   `json:"email"`
	PaymentCustomerID    *string                  `json:"payment_customer_id,omitempty"`
	Subscribed           bool                     `json:"subscribed"`
	SubscriptionStatus   enums.SubscriptionStatus `json:"subscription_status"`
	SubscriptionSyncedAt *time.Time               `json:"subscription_synced_at,omitempty"`
}

func FromModel(u *models.User) *UserDTO {
	if u == nil {
		return nil
	}

	return &UserDTO{
		ID:                   u.ID,
		Email:                u.Email,
		PaymentCustomerID:    u.PaymentCustomerID,
		Subscribed:           u.Subscribed,
		SubscriptionStatus:   u.SubscriptionStatus,
		SubscriptionSyncedAt: u.SubscriptionSyncedAt,
	}
}
