package customers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"
	"gorm.io/gorm"

	"github.com/angelmondragon/subsync/internal/users"
	"github.com/angelmondragon/subsync/pkg/db"
	"github.com/angelmondragon/subsync/pkg/db/dbtest"
	"github.com/angelmondragon/subsync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
	pkgstripe "github.com/angelmondragon/subsync/pkg/stripe"
)

type fakeSearcher struct {
	customers []*stripe.Customer
	err       error
	calls     int
}

func (f *fakeSearcher) SearchCustomersByEmail(ctx context.Context, email string) ([]*stripe.Customer, error) {
	f.calls++
	return f.customers, f.err
}

func newResolver(t *testing.T, searcher *fakeSearcher) (*Resolver, *db.Client, *users.Repository) {
	t.Helper()
	client := dbtest.Open(t)
	repo := users.NewRepository(client.DB())
	resolver, err := NewResolver(ResolverParams{
		DB:       client,
		Users:    repo,
		Searcher: searcher,
		Policy:   pkgstripe.RetryPolicy{MaxAttempts: 1, BaseBackoff: time.Millisecond},
		Logger:   logger.Nop(),
	})
	require.NoError(t, err)
	return resolver, client, repo
}

func TestResolveUserUsesStoredMapping(t *testing.T) {
	resolver, client, _ := newResolver(t, &fakeSearcher{})
	user := dbtest.SeedUser(t, client, "ada@example.com", dbtest.StringPtr("cus_1"))

	got, err := resolver.ResolveUser(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = resolver.ResolveUser(context.Background(), "cus_unknown")
	assert.ErrorIs(t, err, ErrCustomerNotMapped)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestResolveForUserReturnsExistingMappingWithoutSearch(t *testing.T) {
	searcher := &fakeSearcher{}
	resolver, client, _ := newResolver(t, searcher)
	user := dbtest.SeedUser(t, client, "ada@example.com", dbtest.StringPtr("cus_1"))

	got, err := resolver.ResolveForUser(context.Background(), &user)
	require.NoError(t, err)
	assert.Equal(t, "cus_1", got)
	assert.Zero(t, searcher.calls)
}

func TestResolveForUserRepairsFromUniqueEmailMatch(t *testing.T) {
	searcher := &fakeSearcher{customers: []*stripe.Customer{
		{ID: "cus_deleted", Email: "ada@example.com", Deleted: true},
		{ID: "cus_other", Email: "someone@example.com"},
		{ID: "cus_match", Email: " ADA@example.com "},
	}}
	resolver, client, repo := newResolver(t, searcher)
	user := dbtest.SeedUser(t, client, "ada@example.com", nil)

	got, err := resolver.ResolveForUser(context.Background(), &user)
	require.NoError(t, err)
	assert.Equal(t, "cus_match", got)

	reloaded, err := repo.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.PaymentCustomerID)
	assert.Equal(t, "cus_match", *reloaded.PaymentCustomerID)
}

func TestResolveForUserRefusesAmbiguousMatches(t *testing.T) {
	searcher := &fakeSearcher{customers: []*stripe.Customer{
		{ID: "cus_a", Email: "ada@example.com"},
		{ID: "cus_b", Email: "ada@example.com"},
	}}
	resolver, client, repo := newResolver(t, searcher)
	user := dbtest.SeedUser(t, client, "ada@example.com", nil)

	_, err := resolver.ResolveForUser(context.Background(), &user)
	assert.ErrorIs(t, err, ErrNoCustomerFound)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	reloaded, err := repo.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.PaymentCustomerID, "ambiguous matches must not be attached")
}

func TestResolveForUserNoMatch(t *testing.T) {
	resolver, client, _ := newResolver(t, &fakeSearcher{})
	user := dbtest.SeedUser(t, client, "ada@example.com", nil)

	_, err := resolver.ResolveForUser(context.Background(), &user)
	assert.ErrorIs(t, err, ErrNoCustomerFound)
}

func TestResolveForUserIgnoresCustomerMatchingNeitherUser(t *testing.T) {
	searcher := &fakeSearcher{customers: []*stripe.Customer{{ID: "cus_x", Email: "stranger@example.com"}}}
	resolver, client, repo := newResolver(t, searcher)
	ctx := context.Background()

	ada := dbtest.SeedUser(t, client, "ada@example.com", nil)
	grace := dbtest.SeedUser(t, client, "grace@example.com", nil)

	for _, user := range []models.User{ada, grace} {
		_, err := resolver.ResolveForUser(ctx, &user)
		assert.ErrorIs(t, err, ErrNoCustomerFound, user.Email)

		reloaded, err := repo.FindByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Nil(t, reloaded.PaymentCustomerID, user.Email)
	}

	_, err := repo.FindByPaymentCustomerID(ctx, "cus_x")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestResolveUserStorageFailureIsMarked(t *testing.T) {
	resolver, client, _ := newResolver(t, &fakeSearcher{})
	require.NoError(t, client.DB().Exec("ALTER TABLE users RENAME TO users_offline").Error)

	_, err := resolver.ResolveUser(context.Background(), "cus_1")
	assert.ErrorIs(t, err, ErrLookupFailed)
	assert.NotErrorIs(t, err, ErrCustomerNotMapped)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
}

func TestResolveForUserRefusesCustomerOwnedByAnotherUser(t *testing.T) {
	searcher := &fakeSearcher{customers: []*stripe.Customer{{ID: "cus_1", Email: "ada@example.com"}}}
	resolver, client, _ := newResolver(t, searcher)
	dbtest.SeedUser(t, client, "old@example.com", dbtest.StringPtr("cus_1"))
	user := dbtest.SeedUser(t, client, "ada@example.com", nil)

	_, err := resolver.ResolveForUser(context.Background(), &user)
	assert.ErrorIs(t, err, ErrCustomerClaimed)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestResolveForUserSurfacesProviderFailure(t *testing.T) {
	resolver, client, _ := newResolver(t, &fakeSearcher{err: errors.New("boom")})
	user := dbtest.SeedUser(t, client, "ada@example.com", nil)

	_, err := resolver.ResolveForUser(context.Background(), &user)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestBindFromCheckoutAssignsAndReassigns(t *testing.T) {
	resolver, client, repo := newResolver(t, &fakeSearcher{})
	ctx := context.Background()

	stale := dbtest.SeedUser(t, client, "old@example.com", dbtest.StringPtr("cus_1"))
	buyer := dbtest.SeedUser(t, client, "new@example.com", nil)

	require.NoError(t, resolver.BindFromCheckout(ctx, "cus_1", buyer.ID))

	owner, err := repo.FindByPaymentCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, buyer.ID, owner.ID)

	reloaded, err := repo.FindByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.PaymentCustomerID)

	// repeating the bind is a no-op
	require.NoError(t, resolver.BindFromCheckout(ctx, "cus_1", buyer.ID))
}

func TestBindFromCheckoutCorrectsMismatchedMapping(t *testing.T) {
	resolver, client, repo := newResolver(t, &fakeSearcher{})
	ctx := context.Background()
	user := dbtest.SeedUser(t, client, "ada@example.com", dbtest.StringPtr("cus_old"))

	require.NoError(t, resolver.BindFromCheckout(ctx, "cus_new", user.ID))

	reloaded, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.PaymentCustomerID)
	assert.Equal(t, "cus_new", *reloaded.PaymentCustomerID)
}

func TestBindFromCheckoutUnknownUser(t *testing.T) {
	resolver, _, _ := newResolver(t, &fakeSearcher{})
	user := dbtest.SeedUser(t, dbtest.Open(t), "ghost@example.com", nil)

	err := resolver.BindFromCheckout(context.Background(), "cus_1", user.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
