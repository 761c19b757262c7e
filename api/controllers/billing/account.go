package billing

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/subsync/api/middleware"
	"github.com/angelmondragon/subsync/api/responses"
	"github.com/angelmondragon/subsync/api/validators"
	billingsvc "github.com/angelmondragon/subsync/internal/billing"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
)

// AccountService describes the billing methods used by the account controllers.
type AccountService interface {
	Subscription(ctx context.Context, userID uuid.UUID) (*billingsvc.SubscriptionView, error)
	Sync(ctx context.Context, userID uuid.UUID) (*billingsvc.SubscriptionView, error)
	Checkout(ctx context.Context, userID uuid.UUID, priceID string) (*billingsvc.SessionView, error)
	Portal(ctx context.Context, userID uuid.UUID) (*billingsvc.SessionView, error)
}

type checkoutRequest struct {
	PriceID string `json:"price_id" validate:"omitempty,startswith=price_,max=255"`
}

// Subscription returns the caller's current billing state.
func Subscription(svc AccountService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := callerID(w, r, svc, logg)
		if !ok {
			return
		}
		view, err := svc.Subscription(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// Sync forces a resynchronization of the caller's subscription state.
func Sync(svc AccountService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := callerID(w, r, svc, logg)
		if !ok {
			return
		}
		view, err := svc.Sync(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// Checkout opens a hosted subscription checkout for the caller.
func Checkout(svc AccountService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := callerID(w, r, svc, logg)
		if !ok {
			return
		}
		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		session, err := svc.Checkout(r.Context(), userID, payload.PriceID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, session)
	}
}

// Portal opens the hosted billing portal for the caller.
func Portal(svc AccountService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := callerID(w, r, svc, logg)
		if !ok {
			return
		}
		session, err := svc.Portal(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, session)
	}
}

func callerID(w http.ResponseWriter, r *http.Request, svc AccountService, logg *logger.Logger) (uuid.UUID, bool) {
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
		return uuid.Nil, false
	}
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
		return uuid.Nil, false
	}
	return caller.UserID, true
}
