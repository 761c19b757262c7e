package users

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/enums"
)

// Repository exposes the billing-relevant user persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the supplied transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindByID loads a user by their UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByPaymentCustomerID returns the user mapped to the provider customer.
func (r *Repository) FindByPaymentCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).
		Where("payment_customer_id = ?", customerID).
		First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// AssignCustomerIfUnset stores the mapping only when the user has none yet.
// It reports whether the row was changed.
func (r *Repository) AssignCustomerIfUnset(ctx context.Context, userID uuid.UUID, customerID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND payment_customer_id IS NULL", userID).
		Updates(map[string]any{
			"payment_customer_id": customerID,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SetPaymentCustomerID overwrites the user's mapping.
func (r *Repository) SetPaymentCustomerID(ctx context.Context, userID uuid.UUID, customerID string) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"payment_customer_id": customerID,
			"updated_at":          time.Now().UTC(),
		}).Error
}

// ReleaseCustomer clears the mapping from every user other than keepUserID.
// The entitlement fields are reset since they were derived from that customer.
func (r *Repository) ReleaseCustomer(ctx context.Context, customerID string, keepUserID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("payment_customer_id = ? AND id <> ?", customerID, keepUserID).
		Updates(map[string]any{
			"payment_customer_id": gorm.Expr("NULL"),
			"subscribed":          false,
			"subscription_status": enums.SubscriptionStatusNone,
			"updated_at":          time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// UpdateSubscriptionState writes the projected entitlement for a user that is
// still mapped to customerID. gorm.ErrRecordNotFound means the mapping moved.
func (r *Repository) UpdateSubscriptionState(ctx context.Context, userID uuid.UUID, customerID string, status enums.SubscriptionStatus, subscribed bool, syncedAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND payment_customer_id = ?", userID, customerID).
		Updates(map[string]any{
			"subscribed":             subscribed,
			"subscription_status":    status,
			"subscription_synced_at": syncedAt,
			"updated_at":             time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListStaleMapped returns mapped users whose entitlement has not been synced
// since before the cutoff, never-synced users first.
func (r *Repository) ListStaleMapped(ctx context.Context, cutoff time.Time, limit int) ([]models.User, error) {
	var out []models.User
	query := r.db.WithContext(ctx).
		Where("payment_customer_id IS NOT NULL").
		Where("subscription_synced_at IS NULL OR subscription_synced_at < ?", cutoff).
		Order("subscription_synced_at IS NOT NULL").
		Order("subscription_synced_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
