package subscriptions

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/subsync/pkg/db/models"
)

var mirrorColumns = []string{
	"user_id",
	"stripe_subscription_id",
	"status",
	"price_id",
	"current_period_start",
	"current_period_end",
	"cancel_at_period_end",
	"canceled_at",
	"payment_method_brand",
	"payment_method_last4",
	"latest_invoice_id",
	"latest_invoice_status",
	"latest_invoice_amount_due",
	"latest_invoice_currency",
	"synced_at",
	"updated_at",
}

// MirrorRepository persists the per-customer subscription mirror.
type MirrorRepository struct {
	db *gorm.DB
}

// NewMirrorRepository constructs a mirror repo bound to the provided GORM DB.
func NewMirrorRepository(db *gorm.DB) *MirrorRepository {
	return &MirrorRepository{db: db}
}

// WithTx returns a repository bound to the supplied transaction.
func (r *MirrorRepository) WithTx(tx *gorm.DB) *MirrorRepository {
	if tx == nil {
		return r
	}
	return &MirrorRepository{db: tx}
}

// Upsert replaces every mirrored field of the customer's row in one statement.
func (r *MirrorRepository) Upsert(ctx context.Context, row *models.Subscription) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stripe_customer_id"}},
			DoUpdates: clause.AssignmentColumns(mirrorColumns),
		}).
		Create(row).Error
}

// FindByCustomerID loads the mirror row for a provider customer.
func (r *MirrorRepository) FindByCustomerID(ctx context.Context, customerID string) (*models.Subscription, error) {
	var row models.Subscription
	if err := r.db.WithContext(ctx).First(&row, "stripe_customer_id = ?", customerID).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// FindByUserID loads the most recently synced mirror row for a user.
func (r *MirrorRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var row models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("synced_at DESC").
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}
