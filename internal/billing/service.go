// Package billing serves the account-facing billing operations: reading the
// current entitlement, forcing a resync and opening hosted provider pages.
package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"
	"gorm.io/gorm"

	"github.com/angelmondragon/subsync/internal/customers"
	"github.com/angelmondragon/subsync/internal/subscriptions"
	"github.com/angelmondragon/subsync/internal/users"
	"github.com/angelmondragon/subsync/pkg/config"
	"github.com/angelmondragon/subsync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
	pkgstripe "github.com/angelmondragon/subsync/pkg/stripe"
)

// SessionCreator opens hosted checkout and billing portal pages.
type SessionCreator interface {
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, params *stripe.BillingPortalSessionCreateParams) (*stripe.BillingPortalSession, error)
}

type customerSyncer interface {
	SyncCustomer(ctx context.Context, customerID string) (*subscriptions.Result, error)
}

type customerResolver interface {
	ResolveForUser(ctx context.Context, user *models.User) (string, error)
}

// ServiceParams groups dependencies for the billing service.
type ServiceParams struct {
	Users    *users.Repository
	Mirror   *subscriptions.MirrorRepository
	Syncer   customerSyncer
	Resolver customerResolver
	Sessions SessionCreator
	Stripe   config.StripeConfig
	Policy   pkgstripe.RetryPolicy
	Logger   *logger.Logger
}

// Service orchestrates billing operations for one account at a time.
type Service struct {
	users    *users.Repository
	mirror   *subscriptions.MirrorRepository
	syncer   customerSyncer
	resolver customerResolver
	sessions SessionCreator
	stripe   config.StripeConfig
	policy   pkgstripe.RetryPolicy
	logg     *logger.Logger
}

// NewService builds a billing service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Users == nil {
		return nil, errors.New("users repository is required")
	}
	if params.Mirror == nil {
		return nil, errors.New("mirror repository is required")
	}
	if params.Syncer == nil {
		return nil, errors.New("syncer is required")
	}
	if params.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if params.Sessions == nil {
		return nil, errors.New("session creator is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		users:    params.Users,
		mirror:   params.Mirror,
		syncer:   params.Syncer,
		resolver: params.Resolver,
		sessions: params.Sessions,
		stripe:   params.Stripe,
		policy:   params.Policy,
		logg:     params.Logger,
	}, nil
}

// Subscription returns the user's billing state. A user without a mapping
// gets one repair attempt; when that finds a customer the state is
// synchronized on demand, otherwise the unsubscribed view is returned.
func (s *Service) Subscription(ctx context.Context, userID uuid.UUID) (*SubscriptionView, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.PaymentCustomerID == nil {
		customerID, err := s.resolver.ResolveForUser(ctx, user)
		if err != nil {
			if errors.Is(err, customers.ErrNoCustomerFound) {
				return unsubscribedView(), nil
			}
			return nil, err
		}
		return s.syncAndView(subscriptions.WithTrigger(ctx, subscriptions.TriggerUser), user.ID, customerID)
	}

	mirror, err := s.mirror.FindByCustomerID(ctx, *user.PaymentCustomerID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription mirror")
		}
		return s.syncAndView(subscriptions.WithTrigger(ctx, subscriptions.TriggerUser), user.ID, *user.PaymentCustomerID)
	}
	return newSubscriptionView(user, mirror), nil
}

// Sync forces a synchronization for the user, repairing the mapping first
// when it is missing.
func (s *Service) Sync(ctx context.Context, userID uuid.UUID) (*SubscriptionView, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	customerID, err := s.customerFor(ctx, user)
	if err != nil {
		return nil, err
	}
	return s.syncAndView(subscriptions.WithTrigger(ctx, subscriptions.TriggerUser), user.ID, customerID)
}

// Checkout opens a subscription-mode checkout. The local user id travels as
// client_reference_id so the completed session can bind the customer.
func (s *Service) Checkout(ctx context.Context, userID uuid.UUID, priceID string) (*SessionView, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		priceID = strings.TrimSpace(s.stripe.DefaultPriceID)
	}
	if priceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price_id is required")
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(user.ID.String()),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{{
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(1),
		}},
	}
	if url := strings.TrimSpace(s.stripe.CheckoutSuccessURL); url != "" {
		params.SuccessURL = stripe.String(url)
	}
	if url := strings.TrimSpace(s.stripe.CheckoutCancelURL); url != "" {
		params.CancelURL = stripe.String(url)
	}
	if user.PaymentCustomerID != nil {
		params.Customer = user.PaymentCustomerID
	} else {
		params.CustomerEmail = stripe.String(user.Email)
	}

	var session *stripe.CheckoutSession
	err = pkgstripe.Do(ctx, s.singleAttempt(), func(ctx context.Context) error {
		created, err := s.sessions.CreateCheckoutSession(ctx, params)
		session = created
		return err
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"user_id":  user.ID.String(),
		"price_id": priceID,
		"session":  session.ID,
	}), "checkout session created")
	return &SessionView{ID: session.ID, URL: session.URL}, nil
}

// Portal opens the hosted billing portal for the user's customer.
func (s *Service) Portal(ctx context.Context, userID uuid.UUID) (*SessionView, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	customerID, err := s.customerFor(ctx, user)
	if err != nil {
		return nil, err
	}

	params := &stripe.BillingPortalSessionCreateParams{Customer: stripe.String(customerID)}
	if url := strings.TrimSpace(s.stripe.PortalReturnURL); url != "" {
		params.ReturnURL = stripe.String(url)
	}

	var session *stripe.BillingPortalSession
	err = pkgstripe.Do(ctx, s.singleAttempt(), func(ctx context.Context) error {
		created, err := s.sessions.CreatePortalSession(ctx, params)
		session = created
		return err
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create billing portal session")
	}
	return &SessionView{ID: session.ID, URL: session.URL}, nil
}

// AdminResync synchronizes one account by user id or provider customer id.
func (s *Service) AdminResync(ctx context.Context, userID *uuid.UUID, customerID string) (*ResyncView, error) {
	ctx = subscriptions.WithTrigger(ctx, subscriptions.TriggerAdmin)
	customerID = strings.TrimSpace(customerID)

	switch {
	case userID != nil:
		user, err := s.loadUser(ctx, *userID)
		if err != nil {
			return nil, err
		}
		if customerID, err = s.customerFor(ctx, user); err != nil {
			return nil, err
		}
	case customerID == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user_id or customer_id is required")
	}

	result, err := s.syncer.SyncCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	user, err := s.loadUser(ctx, result.UserID)
	if err != nil {
		return nil, err
	}
	view, err := s.viewFor(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"user_id":     user.ID.String(),
		"customer_id": customerID,
		"status":      string(view.Status),
	}), "admin resync completed")
	return &ResyncView{User: users.FromModel(user), Subscription: view}, nil
}

func (s *Service) customerFor(ctx context.Context, user *models.User) (string, error) {
	customerID, err := s.resolver.ResolveForUser(ctx, user)
	if err != nil {
		if errors.Is(err, customers.ErrNoCustomerFound) {
			return "", pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "no billing customer found")
		}
		return "", err
	}
	return customerID, nil
}

func (s *Service) syncAndView(ctx context.Context, userID uuid.UUID, customerID string) (*SubscriptionView, error) {
	if _, err := s.syncer.SyncCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.viewFor(ctx, user)
}

func (s *Service) viewFor(ctx context.Context, user *models.User) (*SubscriptionView, error) {
	if user.PaymentCustomerID == nil {
		return newSubscriptionView(user, nil), nil
	}
	mirror, err := s.mirror.FindByCustomerID(ctx, *user.PaymentCustomerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newSubscriptionView(user, nil), nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription mirror")
	}
	return newSubscriptionView(user, mirror), nil
}

func (s *Service) loadUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load user")
	}
	return user, nil
}

// singleAttempt keeps the call timeout but never repeats a create call.
func (s *Service) singleAttempt() pkgstripe.RetryPolicy {
	policy := s.policy
	policy.MaxAttempts = 1
	return policy
}
