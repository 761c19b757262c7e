package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/subsync/internal/customers"
	"github.com/angelmondragon/subsync/internal/subscriptions"
	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/logger"
)

const (
	defaultSweepLimit     = 250
	defaultSweepStaleness = 24 * time.Hour
)

type staleUserLister interface {
	ListStaleMapped(ctx context.Context, cutoff time.Time, limit int) ([]models.User, error)
}

type customerSyncer interface {
	SyncCustomer(ctx context.Context, customerID string) (*subscriptions.Result, error)
}

// SyncSweepJobParams configures the stale-subscription sweep.
type SyncSweepJobParams struct {
	Logger    *logger.Logger
	Users     staleUserLister
	Syncer    customerSyncer
	Limit     int
	Staleness time.Duration
	Now       func() time.Time
}

type syncSweepJob struct {
	logg      *logger.Logger
	users     staleUserLister
	syncer    customerSyncer
	limit     int
	staleness time.Duration
	now       func() time.Time
}

// NewSyncSweepJob builds the job that re-synchronizes mapped users whose
// state is older than the staleness window. It converges customers whose
// last background task failed and saw no later event.
func NewSyncSweepJob(params SyncSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if params.Syncer == nil {
		return nil, fmt.Errorf("syncer required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	staleness := params.Staleness
	if staleness <= 0 {
		staleness = defaultSweepStaleness
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &syncSweepJob{
		logg:      params.Logger,
		users:     params.Users,
		syncer:    params.Syncer,
		limit:     limit,
		staleness: staleness,
		now:       now,
	}, nil
}

func (j *syncSweepJob) Name() string { return "subscription-sync-sweep" }

func (j *syncSweepJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.staleness)
	candidates, err := j.users.ListStaleMapped(ctx, cutoff, j.limit)
	if err != nil {
		return fmt.Errorf("list stale users: %w", err)
	}

	ctx = subscriptions.WithTrigger(ctx, subscriptions.TriggerSweep)
	var errs error
	synced, skipped := 0, 0
	for _, user := range candidates {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		if user.PaymentCustomerID == nil {
			continue
		}
		customerID := *user.PaymentCustomerID
		_, err := j.syncer.SyncCustomer(ctx, customerID)
		switch {
		case err == nil:
			synced++
		case errors.Is(err, customers.ErrCustomerNotMapped), errors.Is(err, subscriptions.ErrMappingChanged):
			// the mapping moved since listing; the new owner is swept on its own
			skipped++
		default:
			errs = multierr.Append(errs, fmt.Errorf("sync %s: %w", customerID, err))
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(candidates),
		"synced":     synced,
		"skipped":    skipped,
		"failed":     len(multierr.Errors(errs)),
		"cutoff":     cutoff.Format(time.RFC3339),
	}), "subscription sweep complete")
	return errs
}
