package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"
	"gorm.io/gorm"

	"github.com/angelmondragon/subsync/internal/entitlement"
	"github.com/angelmondragon/subsync/internal/users"
	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
	"github.com/angelmondragon/subsync/pkg/metrics"
	pkgstripe "github.com/angelmondragon/subsync/pkg/stripe"
)

var (
	// ErrProviderUnavailable marks a failed or timed-out provider fetch. No
	// local state is written when it is returned.
	ErrProviderUnavailable = errors.New("billing provider unavailable")
	// ErrProviderRejected marks a provider response that retrying cannot fix,
	// such as a deleted customer.
	ErrProviderRejected = errors.New("billing provider rejected request")
	// ErrUnknownStatus marks a provider status this service does not model.
	ErrUnknownStatus = errors.New("unknown subscription status")
	// ErrStoreUnavailable marks a failed local write.
	ErrStoreUnavailable = errors.New("subscription store unavailable")
	// ErrMappingChanged means the customer was re-bound to another user mid-sync.
	ErrMappingChanged = errors.New("customer mapping changed during sync")
)

// Triggers label what asked for a synchronization.
const (
	TriggerWebhook  = "webhook"
	TriggerUser     = "user"
	TriggerCheckout = "checkout"
	TriggerAdmin    = "admin"
	TriggerSweep    = "sweep"
)

type triggerKey struct{}

// WithTrigger tags ctx with the origin of a synchronization.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

// TriggerFromContext returns the trigger set by WithTrigger, or "unknown".
func TriggerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(triggerKey{}).(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// SubscriptionLister fetches every subscription of a provider customer.
type SubscriptionLister interface {
	ListSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error)
}

// UserResolver maps a provider customer to the local user that owns it.
type UserResolver interface {
	ResolveUser(ctx context.Context, customerID string) (*models.User, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// SyncerParams wires the synchronizer dependencies.
type SyncerParams struct {
	DB       txRunner
	Users    *users.Repository
	Mirror   *MirrorRepository
	Provider SubscriptionLister
	Resolver UserResolver
	Policy   pkgstripe.RetryPolicy
	Logger   *logger.Logger
	Metrics  *metrics.BillingMetrics
	Clock    func() time.Time
}

// Syncer rebuilds a customer's local subscription state from the provider.
// Every run fetches the full current list, so runs are idempotent and the
// outcome does not depend on which event triggered them.
type Syncer struct {
	db       txRunner
	users    *users.Repository
	mirror   *MirrorRepository
	provider SubscriptionLister
	resolver UserResolver
	policy   pkgstripe.RetryPolicy
	logg     *logger.Logger
	metrics  *metrics.BillingMetrics
	clock    func() time.Time
}

// Result reports what a synchronization wrote.
type Result struct {
	UserID     uuid.UUID
	CustomerID string
	Snapshot   *Snapshot
	Projection entitlement.Projection
	SyncedAt   time.Time
}

// NewSyncer validates the params and returns a Syncer.
func NewSyncer(params SyncerParams) (*Syncer, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if params.Mirror == nil {
		return nil, fmt.Errorf("mirror repository required")
	}
	if params.Provider == nil {
		return nil, fmt.Errorf("subscription provider required")
	}
	if params.Resolver == nil {
		return nil, fmt.Errorf("user resolver required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Syncer{
		db:       params.DB,
		users:    params.Users,
		mirror:   params.Mirror,
		provider: params.Provider,
		resolver: params.Resolver,
		policy:   params.Policy,
		logg:     params.Logger,
		metrics:  params.Metrics,
		clock:    clock,
	}, nil
}

// SyncCustomer fetches the customer's subscriptions, selects the relevant
// one and replaces the mirror row and the owner's projection in a single
// transaction. Provider failures leave local state untouched.
func (s *Syncer) SyncCustomer(ctx context.Context, customerID string) (*Result, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}

	started := s.clock()
	trigger := TriggerFromContext(ctx)
	ctx = s.logg.WithCustomerID(ctx, customerID)

	user, err := s.resolver.ResolveUser(ctx, customerID)
	if err != nil {
		outcome := metrics.SyncNotMapped
		if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			outcome = metrics.SyncStoreFailed
		}
		s.observe(trigger, outcome, started)
		return nil, err
	}
	ctx = s.logg.WithUserID(ctx, user.ID.String())

	subs, err := s.fetch(ctx, customerID)
	if err != nil {
		s.observe(trigger, metrics.SyncProviderFailed, started)
		return nil, err
	}

	snapshots := make([]Snapshot, 0, len(subs))
	for _, sub := range subs {
		snap, err := SnapshotFromStripe(sub)
		if err != nil {
			s.observe(trigger, metrics.SyncProviderFailed, started)
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "map provider subscription")
		}
		snapshots = append(snapshots, snap)
	}

	var selected *Snapshot
	status := enums.SubscriptionStatusNone
	if snap, ok := SelectRelevant(snapshots); ok {
		selected = &snap
		status = snap.Status
	}
	projection := entitlement.Project(status)
	syncedAt := s.clock().UTC()

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		row := MirrorRow(customerID, user.ID, selected, syncedAt)
		if err := s.mirror.WithTx(tx).Upsert(ctx, row); err != nil {
			return fmt.Errorf("upsert mirror: %w", err)
		}
		return s.users.WithTx(tx).UpdateSubscriptionState(ctx, user.ID, customerID, projection.DisplayStatus, projection.Subscribed, syncedAt)
	})
	if err != nil {
		s.observe(trigger, metrics.SyncStoreFailed, started)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, ErrMappingChanged, "customer mapping changed during sync")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, fmt.Errorf("%w: %v", ErrStoreUnavailable, err), "persist subscription state")
	}

	s.observe(trigger, metrics.SyncSucceeded, started)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"trigger":       trigger,
		"status":        string(projection.DisplayStatus),
		"subscribed":    projection.Subscribed,
		"subscriptions": len(snapshots),
	}), "subscription state synchronized")

	return &Result{
		UserID:     user.ID,
		CustomerID: customerID,
		Snapshot:   selected,
		Projection: projection,
		SyncedAt:   syncedAt,
	}, nil
}

func (s *Syncer) fetch(ctx context.Context, customerID string) ([]*stripe.Subscription, error) {
	var subs []*stripe.Subscription
	err := pkgstripe.Do(ctx, s.policy, func(ctx context.Context) error {
		list, err := s.provider.ListSubscriptions(ctx, customerID)
		if err != nil {
			return err
		}
		subs = list
		return nil
	})
	if err != nil {
		sentinel := ErrProviderRejected
		if pkgstripe.IsTransient(err) {
			sentinel = ErrProviderUnavailable
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("%w: %v", sentinel, err), "fetch subscriptions")
	}
	return subs, nil
}

func (s *Syncer) observe(trigger, outcome string, started time.Time) {
	s.metrics.ObserveSync(trigger, outcome, s.clock().Sub(started))
}

// IsRetryable reports whether a failed synchronization may succeed on a later
// attempt. Unmapped customers, rejected requests, unknown statuses and moved
// mappings are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnknownStatus) || errors.Is(err, ErrMappingChanged) {
		return false
	}
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrStoreUnavailable)
}
