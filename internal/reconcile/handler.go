package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/subsync/internal/customers"
	"github.com/angelmondragon/subsync/internal/subscriptions"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
)

// errBindFailed marks a checkout binding that failed for a storage reason.
var errBindFailed = errors.New("checkout binding failed")

// CustomerSyncer is the synchronization entry point tasks run against.
type CustomerSyncer interface {
	SyncCustomer(ctx context.Context, customerID string) (*subscriptions.Result, error)
}

// CheckoutBinder attaches a customer to the user that started checkout.
type CheckoutBinder interface {
	BindFromCheckout(ctx context.Context, customerID string, userID uuid.UUID) error
}

// Runner executes one attempt of a task.
type Runner interface {
	Run(ctx context.Context, task Task, attempt int) error
}

// Handler runs reconcile tasks against the synchronizer.
type Handler struct {
	syncer CustomerSyncer
	binder CheckoutBinder
	logg   *logger.Logger
}

// NewHandler builds a task handler.
func NewHandler(syncer CustomerSyncer, binder CheckoutBinder, logg *logger.Logger) (*Handler, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer required")
	}
	if binder == nil {
		return nil, fmt.Errorf("checkout binder required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Handler{syncer: syncer, binder: binder, logg: logg}, nil
}

// Run binds the checkout reference when present, then synchronizes the
// customer. Customers with no local owner are dropped without error.
func (h *Handler) Run(ctx context.Context, task Task, attempt int) error {
	if err := task.Validate(); err != nil {
		return err
	}

	trigger := task.Trigger
	if trigger == "" {
		trigger = subscriptions.TriggerWebhook
	}
	ctx = subscriptions.WithTrigger(ctx, trigger)
	ctx = h.logg.WithEvent(ctx, task.EventID, task.EventType)
	ctx = h.logg.WithFields(ctx, map[string]any{
		"customer_id": task.CustomerID,
		"attempt":     attempt,
	})

	h.logg.Info(ctx, "reconcile task started")

	if err := h.bindCheckout(ctx, task); err != nil {
		h.logg.Error(ctx, "reconcile task failed", err)
		return err
	}

	result, err := h.syncer.SyncCustomer(ctx, task.CustomerID)
	if err != nil {
		if errors.Is(err, customers.ErrCustomerNotMapped) {
			h.logg.Warn(ctx, "customer has no local user; task dropped")
			return nil
		}
		h.logg.Error(h.logg.WithField(ctx, "retryable", IsRetryable(err)), "reconcile task failed", err)
		return err
	}

	h.logg.Info(h.logg.WithFields(ctx, map[string]any{
		"user_id":    result.UserID.String(),
		"status":     string(result.Projection.DisplayStatus),
		"subscribed": result.Projection.Subscribed,
	}), "reconcile task completed")
	return nil
}

func (h *Handler) bindCheckout(ctx context.Context, task Task) error {
	ref := strings.TrimSpace(task.ClientReferenceID)
	if ref == "" {
		return nil
	}
	userID, err := uuid.Parse(ref)
	if err != nil {
		h.logg.Warn(h.logg.WithField(ctx, "client_reference_id", ref), "checkout reference is not a user id; binding skipped")
		return nil
	}

	err = h.binder.BindFromCheckout(ctx, task.CustomerID, userID)
	switch {
	case err == nil:
		return nil
	case pkgerrors.IsCode(err, pkgerrors.CodeNotFound), pkgerrors.IsCode(err, pkgerrors.CodeValidation):
		h.logg.Warn(h.logg.WithField(ctx, "client_reference_id", ref), "checkout reference has no user; binding skipped")
		return nil
	default:
		return fmt.Errorf("%w: %w", errBindFailed, err)
	}
}

// IsRetryable reports whether another attempt of a failed task may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, errBindFailed) ||
		errors.Is(err, customers.ErrLookupFailed) ||
		subscriptions.IsRetryable(err)
}
