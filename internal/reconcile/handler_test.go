package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"

	"github.com/angelmondragon/subsync/internal/customers"
	"github.com/angelmondragon/subsync/internal/entitlement"
	"github.com/angelmondragon/subsync/internal/subscriptions"
	"github.com/angelmondragon/subsync/internal/users"
	"github.com/angelmondragon/subsync/pkg/db/dbtest"
	"github.com/angelmondragon/subsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
	pkgstripe "github.com/angelmondragon/subsync/pkg/stripe"
)

type stubSyncer struct {
	err      error
	calls    []string
	triggers []string
}

func (s *stubSyncer) SyncCustomer(ctx context.Context, customerID string) (*subscriptions.Result, error) {
	s.calls = append(s.calls, customerID)
	s.triggers = append(s.triggers, subscriptions.TriggerFromContext(ctx))
	if s.err != nil {
		return nil, s.err
	}
	return &subscriptions.Result{
		UserID:     uuid.New(),
		CustomerID: customerID,
		Projection: entitlement.Project(enums.SubscriptionStatusActive),
	}, nil
}

type stubBinder struct {
	err   error
	bound map[string]uuid.UUID
}

func (b *stubBinder) BindFromCheckout(ctx context.Context, customerID string, userID uuid.UUID) error {
	if b.err != nil {
		return b.err
	}
	if b.bound == nil {
		b.bound = map[string]uuid.UUID{}
	}
	b.bound[customerID] = userID
	return nil
}

func newTestHandler(t *testing.T, syncer *stubSyncer, binder *stubBinder) *Handler {
	t.Helper()
	h, err := NewHandler(syncer, binder, logger.Nop())
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return h
}

func TestHandlerBindsCheckoutBeforeSync(t *testing.T) {
	syncer := &stubSyncer{}
	binder := &stubBinder{}
	h := newTestHandler(t, syncer, binder)
	userID := uuid.New()

	err := h.Run(context.Background(), Task{
		EventID:           "evt_1",
		EventType:         "checkout.session.completed",
		CustomerID:        "cus_1",
		ClientReferenceID: userID.String(),
		Trigger:           subscriptions.TriggerCheckout,
	}, 1)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if binder.bound["cus_1"] != userID {
		t.Fatalf("expected cus_1 bound to %s", userID)
	}
	if len(syncer.calls) != 1 || syncer.triggers[0] != subscriptions.TriggerCheckout {
		t.Fatalf("expected one checkout-triggered sync, got %v %v", syncer.calls, syncer.triggers)
	}
}

func TestHandlerSkipsUnusableCheckoutReference(t *testing.T) {
	syncer := &stubSyncer{}
	binder := &stubBinder{}
	h := newTestHandler(t, syncer, binder)

	if err := h.Run(context.Background(), Task{CustomerID: "cus_1", ClientReferenceID: "not-a-uuid"}, 1); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(binder.bound) != 0 {
		t.Fatal("non-uuid references must not bind")
	}

	binder.err = pkgerrors.New(pkgerrors.CodeNotFound, "checkout user not found")
	if err := h.Run(context.Background(), Task{CustomerID: "cus_1", ClientReferenceID: uuid.NewString()}, 1); err != nil {
		t.Fatalf("missing users are skipped, got %v", err)
	}
	if len(syncer.calls) != 2 {
		t.Fatalf("sync still runs, got %d calls", len(syncer.calls))
	}
}

func TestHandlerBindStorageFailureIsRetryable(t *testing.T) {
	binder := &stubBinder{err: pkgerrors.Wrap(pkgerrors.CodeInternal, errors.New("db down"), "bind checkout customer")}
	h := newTestHandler(t, &stubSyncer{}, binder)

	err := h.Run(context.Background(), Task{CustomerID: "cus_1", ClientReferenceID: uuid.NewString()}, 1)
	if !IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

type countingLister struct {
	calls int
}

func (c *countingLister) ListSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error) {
	c.calls++
	return nil, nil
}

type noSearch struct{}

func (noSearch) SearchCustomersByEmail(ctx context.Context, email string) ([]*stripe.Customer, error) {
	return nil, nil
}

func TestHandlerMappingLookupFailureIsRetryable(t *testing.T) {
	client := dbtest.Open(t)
	usersRepo := users.NewRepository(client.DB())
	policy := pkgstripe.RetryPolicy{MaxAttempts: 1, BaseBackoff: time.Millisecond, CallTimeout: time.Second}

	resolver, err := customers.NewResolver(customers.ResolverParams{
		DB:       client,
		Users:    usersRepo,
		Searcher: noSearch{},
		Policy:   policy,
		Logger:   logger.Nop(),
	})
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	provider := &countingLister{}
	syncer, err := subscriptions.NewSyncer(subscriptions.SyncerParams{
		DB:       client,
		Users:    usersRepo,
		Mirror:   subscriptions.NewMirrorRepository(client.DB()),
		Provider: provider,
		Resolver: resolver,
		Policy:   policy,
		Logger:   logger.Nop(),
	})
	if err != nil {
		t.Fatalf("syncer: %v", err)
	}
	h, err := NewHandler(syncer, resolver, logger.Nop())
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	dbtest.SeedUser(t, client, "ada@example.com", dbtest.StringPtr("cus_1"))
	if err := client.DB().Exec("ALTER TABLE users RENAME TO users_offline").Error; err != nil {
		t.Fatalf("rename users: %v", err)
	}

	err = h.Run(context.Background(), Task{EventID: "evt_1", CustomerID: "cus_1"}, 1)
	if err == nil {
		t.Fatal("expected lookup failure to surface")
	}
	if !IsRetryable(err) {
		t.Fatalf("storage failures during lookup must be retried, got %v", err)
	}
	if provider.calls != 0 {
		t.Fatalf("provider must not be called before the user is known, got %d calls", provider.calls)
	}
}

func TestHandlerDropsUnmappedCustomers(t *testing.T) {
	syncer := &stubSyncer{err: pkgerrors.Wrap(pkgerrors.CodeNotFound, customers.ErrCustomerNotMapped, "customer not mapped to a user")}
	h := newTestHandler(t, syncer, &stubBinder{})

	if err := h.Run(context.Background(), Task{CustomerID: "cus_ghost"}, 1); err != nil {
		t.Fatalf("unmapped customers are dropped, got %v", err)
	}
}

func TestHandlerRejectsTaskWithoutCustomer(t *testing.T) {
	h := newTestHandler(t, &stubSyncer{}, &stubBinder{})
	err := h.Run(context.Background(), Task{EventID: "evt_1"}, 1)
	if err == nil || IsRetryable(err) {
		t.Fatalf("expected permanent validation error, got %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"provider", pkgerrors.Wrap(pkgerrors.CodeDependency, subscriptions.ErrProviderUnavailable, "fetch"), true},
		{"store", subscriptions.ErrStoreUnavailable, true},
		{"lookup", pkgerrors.Wrap(pkgerrors.CodeInternal, customers.ErrLookupFailed, "lookup"), true},
		{"not mapped", pkgerrors.Wrap(pkgerrors.CodeNotFound, customers.ErrCustomerNotMapped, "lookup"), false},
		{"rejected", subscriptions.ErrProviderRejected, false},
		{"unknown status", subscriptions.ErrUnknownStatus, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: expected %v got %v", tc.name, tc.want, got)
		}
	}
}
