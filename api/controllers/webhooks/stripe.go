package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/subsync/api/responses"
	stripewebhook "github.com/angelmondragon/subsync/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
)

const (
	signatureHeader = "Stripe-Signature"
	// invoice events with many line items run to hundreds of KiB
	defaultMaxBytes = 1 << 20
)

// StripeWebhookService verifies and dispatches one raw delivery.
type StripeWebhookService interface {
	Handle(ctx context.Context, payload []byte, signature string) (stripewebhook.Outcome, error)
}

type stripeWebhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

// StripeWebhook acknowledges every authenticated delivery once it has been
// handed off; synchronization happens after the response.
func StripeWebhook(svc StripeWebhookService, maxBytes int64, logg *logger.Logger) http.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "request body too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		outcome, err := svc.Handle(ctx, payload, r.Header.Get(signatureHeader))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, stripeWebhookResponse{Received: true, Outcome: string(outcome)})
	}
}
