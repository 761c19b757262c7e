package billing

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/subsync/api/responses"
	"github.com/angelmondragon/subsync/api/validators"
	billingsvc "github.com/angelmondragon/subsync/internal/billing"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
)

// AdminService describes the billing methods used by admin controllers.
type AdminService interface {
	AdminResync(ctx context.Context, userID *uuid.UUID, customerID string) (*billingsvc.ResyncView, error)
}

type adminResyncRequest struct {
	UserID     string `json:"user_id" validate:"required_without=CustomerID,omitempty,uuid"`
	CustomerID string `json:"customer_id" validate:"required_without=UserID,excluded_with=UserID,omitempty,startswith=cus_"`
}

// AdminResync synchronizes one account on demand and returns the result.
func AdminResync(svc AdminService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		var payload adminResyncRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var userID *uuid.UUID
		if payload.UserID != "" {
			parsed, err := uuid.Parse(payload.UserID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user_id"))
				return
			}
			userID = &parsed
		}

		out, err := svc.AdminResync(r.Context(), userID, payload.CustomerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}
