// Package customers maps provider customers to local users and repairs the
// mapping when it is missing.
package customers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"
	"gorm.io/gorm"

	"github.com/angelmondragon/subsync/internal/users"
	"github.com/angelmondragon/subsync/pkg/db"
	"github.com/angelmondragon/subsync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
	pkgstripe "github.com/angelmondragon/subsync/pkg/stripe"
)

var (
	// ErrCustomerNotMapped means no local user holds the provider customer id.
	ErrCustomerNotMapped = errors.New("customer not mapped to a user")
	// ErrNoCustomerFound means the email fallback found zero or several candidates.
	ErrNoCustomerFound = errors.New("no billing customer found")
	// ErrCustomerClaimed means the matched customer already belongs to another user.
	ErrCustomerClaimed = errors.New("billing customer belongs to another user")
	// ErrLookupFailed marks a mapping read that failed for a storage reason.
	ErrLookupFailed = errors.New("customer mapping lookup failed")
)

// CustomerSearcher looks up provider customers by billing email.
type CustomerSearcher interface {
	SearchCustomersByEmail(ctx context.Context, email string) ([]*stripe.Customer, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ResolverParams wires the resolver dependencies.
type ResolverParams struct {
	DB       txRunner
	Users    *users.Repository
	Searcher CustomerSearcher
	Policy   pkgstripe.RetryPolicy
	Logger   *logger.Logger
}

// Resolver owns the customer id <-> user mapping.
type Resolver struct {
	db       txRunner
	users    *users.Repository
	searcher CustomerSearcher
	policy   pkgstripe.RetryPolicy
	logg     *logger.Logger
}

// NewResolver validates the params and returns a Resolver.
func NewResolver(params ResolverParams) (*Resolver, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if params.Searcher == nil {
		return nil, fmt.Errorf("customer searcher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Resolver{
		db:       params.DB,
		users:    params.Users,
		searcher: params.Searcher,
		policy:   params.Policy,
		logg:     params.Logger,
	}, nil
}

// ResolveUser returns the user mapped to customerID. Only the stored mapping
// is consulted; webhook-driven work never falls back to an email search.
func (r *Resolver) ResolveUser(ctx context.Context, customerID string) (*models.User, error) {
	user, err := r.users.FindByPaymentCustomerID(ctx, customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrCustomerNotMapped, "customer not mapped to a user")
		}
		return nil, lookupFailed(err)
	}
	return user, nil
}

// ResolveForUser returns the user's customer id, repairing a missing mapping
// from a provider search by email. The repair happens only when exactly one
// live provider customer carries the user's email.
func (r *Resolver) ResolveForUser(ctx context.Context, user *models.User) (string, error) {
	if user == nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "user is required")
	}
	if user.PaymentCustomerID != nil && strings.TrimSpace(*user.PaymentCustomerID) != "" {
		return *user.PaymentCustomerID, nil
	}

	email := strings.TrimSpace(user.Email)
	if email == "" {
		return "", pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrNoCustomerFound, "no billing customer found")
	}

	var found []*stripe.Customer
	err := pkgstripe.Do(ctx, r.policy, func(ctx context.Context) error {
		list, err := r.searcher.SearchCustomersByEmail(ctx, email)
		if err != nil {
			return err
		}
		found = list
		return nil
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search billing customers")
	}

	matches := matchingCustomers(found, email)
	if len(matches) != 1 {
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
			"user_id":    user.ID.String(),
			"candidates": len(matches),
		}), "customer fallback found no unique match")
		return "", pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrNoCustomerFound, "no billing customer found")
	}
	customerID := matches[0].ID

	owner, err := r.users.FindByPaymentCustomerID(ctx, customerID)
	switch {
	case err == nil && owner.ID != user.ID:
		return "", pkgerrors.Wrap(pkgerrors.CodeConflict, ErrCustomerClaimed, "billing customer belongs to another account")
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		return "", lookupFailed(err)
	}

	changed, err := r.users.AssignCustomerIfUnset(ctx, user.ID, customerID)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return "", pkgerrors.Wrap(pkgerrors.CodeConflict, ErrCustomerClaimed, "billing customer belongs to another account")
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist customer mapping")
	}
	if !changed {
		// a concurrent request stored a mapping first; it wins
		current, err := r.users.FindByID(ctx, user.ID)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload user")
		}
		if current.PaymentCustomerID == nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrNoCustomerFound, "no billing customer found")
		}
		return *current.PaymentCustomerID, nil
	}

	user.PaymentCustomerID = &customerID
	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"user_id":     user.ID.String(),
		"customer_id": customerID,
	}), "customer mapping repaired from email match")
	return customerID, nil
}

// BindFromCheckout maps customerID to userID after a completed checkout. The
// customer is released from any other user first; a mismatched mapping on
// userID is corrected.
func (r *Resolver) BindFromCheckout(ctx context.Context, customerID string, userID uuid.UUID) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" || userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer id and user id are required")
	}

	var released int64
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.users.WithTx(tx)

		user, err := repo.FindByID(ctx, userID)
		if err != nil {
			return err
		}
		if user.PaymentCustomerID != nil && *user.PaymentCustomerID == customerID {
			return nil
		}

		released, err = repo.ReleaseCustomer(ctx, customerID, userID)
		if err != nil {
			return err
		}
		if user.PaymentCustomerID == nil {
			_, err = repo.AssignCustomerIfUnset(ctx, userID, customerID)
			return err
		}
		return repo.SetPaymentCustomerID(ctx, userID, customerID)
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "checkout user not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "bind checkout customer")
	}

	if released > 0 {
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
			"user_id":     userID.String(),
			"customer_id": customerID,
			"released":    released,
		}), "stale customer mapping reassigned on checkout")
	}
	return nil
}

func matchingCustomers(found []*stripe.Customer, email string) []*stripe.Customer {
	var out []*stripe.Customer
	for _, cust := range found {
		if cust == nil || cust.Deleted || strings.TrimSpace(cust.ID) == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(cust.Email), email) {
			out = append(out, cust)
		}
	}
	return out
}

func lookupFailed(err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeInternal, fmt.Errorf("%w: %w", ErrLookupFailed, err), "lookup customer mapping")
}
