// Package dbtest opens throwaway sqlite databases carrying the billing schema.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/subsync/pkg/db"
	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/enums"
)

const usersDDL = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  payment_customer_id TEXT UNIQUE,
  subscribed INTEGER NOT NULL DEFAULT 0,
  subscription_status TEXT NOT NULL DEFAULT 'none',
  subscription_synced_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`

const subscriptionsDDL = `
CREATE TABLE IF NOT EXISTS subscriptions (
  stripe_customer_id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  stripe_subscription_id TEXT,
  status TEXT NOT NULL DEFAULT 'none',
  price_id TEXT,
  current_period_start DATETIME,
  current_period_end DATETIME,
  cancel_at_period_end INTEGER NOT NULL DEFAULT 0,
  canceled_at DATETIME,
  payment_method_brand TEXT,
  payment_method_last4 TEXT,
  latest_invoice_id TEXT,
  latest_invoice_status TEXT,
  latest_invoice_amount_due INTEGER NOT NULL DEFAULT 0,
  latest_invoice_currency TEXT,
  synced_at DATETIME NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`

// Open returns a client over a private in-memory database with the users and
// subscriptions tables created.
func Open(t *testing.T) *db.Client {
	t.Helper()

	dsn := "file:subsync_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	for _, stmt := range []string{usersDDL, subscriptionsDDL} {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	// sqlite serializes writers; a single connection keeps concurrent tests off "table is locked".
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db.NewFromGorm(conn)
}

// SeedUser inserts a user with the given email and optional customer mapping.
func SeedUser(t *testing.T, client *db.Client, email string, customerID *string) models.User {
	t.Helper()

	user := models.User{
		ID:                 uuid.New(),
		Email:              email,
		PaymentCustomerID:  customerID,
		SubscriptionStatus: enums.SubscriptionStatusNone,
	}
	if err := client.DB().Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

// StringPtr is a small helper for optional columns in fixtures.
func StringPtr(v string) *string {
	return &v
}
