// Package bootstrap builds the synchronization stack shared by the api,
// worker and cron-worker binaries.
package bootstrap

import (
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/subsync/internal/customers"
	"github.com/angelmondragon/subsync/internal/reconcile"
	"github.com/angelmondragon/subsync/internal/subscriptions"
	"github.com/angelmondragon/subsync/internal/users"
	"github.com/angelmondragon/subsync/pkg/config"
	"github.com/angelmondragon/subsync/pkg/db"
	"github.com/angelmondragon/subsync/pkg/logger"
	"github.com/angelmondragon/subsync/pkg/metrics"
	pkgstripe "github.com/angelmondragon/subsync/pkg/stripe"
)

// providerAttempts is kept small: whole tasks are retried by the reconcile
// pool or by Pub/Sub redelivery on top of it.
const providerAttempts = 2

// SyncStack holds the components that turn a customer id into local state.
type SyncStack struct {
	Users    *users.Repository
	Mirror   *subscriptions.MirrorRepository
	Resolver *customers.Resolver
	Syncer   *subscriptions.Syncer
	Handler  *reconcile.Handler
}

// ProviderPolicy derives the per-call provider retry policy from config.
func ProviderPolicy(cfg config.ReconcileConfig) pkgstripe.RetryPolicy {
	backoff := cfg.BaseBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return pkgstripe.RetryPolicy{
		MaxAttempts: providerAttempts,
		BaseBackoff: backoff,
		CallTimeout: cfg.ProviderTimeout,
	}
}

// NewSyncStack wires repositories, resolver, synchronizer and task handler.
func NewSyncStack(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, stripeClient *pkgstripe.Client, m *metrics.BillingMetrics) (*SyncStack, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if dbClient == nil {
		return nil, errors.New("database client is required")
	}
	if stripeClient == nil {
		return nil, errors.New("stripe client is required")
	}

	policy := ProviderPolicy(cfg.Reconcile)
	userRepo := users.NewRepository(dbClient.DB())
	mirror := subscriptions.NewMirrorRepository(dbClient.DB())

	resolver, err := customers.NewResolver(customers.ResolverParams{
		DB:       dbClient,
		Users:    userRepo,
		Searcher: stripeClient,
		Policy:   policy,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("customer resolver: %w", err)
	}

	syncer, err := subscriptions.NewSyncer(subscriptions.SyncerParams{
		DB:       dbClient,
		Users:    userRepo,
		Mirror:   mirror,
		Provider: stripeClient,
		Resolver: resolver,
		Policy:   policy,
		Logger:   logg,
		Metrics:  m,
	})
	if err != nil {
		return nil, fmt.Errorf("subscription syncer: %w", err)
	}

	handler, err := reconcile.NewHandler(syncer, resolver, logg)
	if err != nil {
		return nil, fmt.Errorf("reconcile handler: %w", err)
	}

	return &SyncStack{
		Users:    userRepo,
		Mirror:   mirror,
		Resolver: resolver,
		Syncer:   syncer,
		Handler:  handler,
	}, nil
}
