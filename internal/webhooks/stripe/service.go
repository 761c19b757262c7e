// Package stripewebhook authenticates, classifies and hands off Stripe
// webhook deliveries.
package stripewebhook

import (
	"context"
	"fmt"

	"github.com/angelmondragon/subsync/internal/reconcile"
	"github.com/angelmondragon/subsync/internal/subscriptions"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
	"github.com/angelmondragon/subsync/pkg/metrics"
)

// Outcome is what happened to an authenticated delivery.
type Outcome string

const (
	OutcomeDispatched Outcome = "dispatched"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeMalformed  Outcome = "malformed"
	// OutcomeDispatchFailed means the task could not be queued. The delivery
	// is still acknowledged; the periodic sweep converges the customer.
	OutcomeDispatchFailed Outcome = "dispatch_failed"
)

// ServiceParams wires the webhook intake.
type ServiceParams struct {
	Verifier   *Verifier
	Dispatcher reconcile.Dispatcher
	Logger     *logger.Logger
	Metrics    *metrics.BillingMetrics
}

// Service turns raw deliveries into reconcile tasks. It never waits on the
// provider or the database.
type Service struct {
	verifier   *Verifier
	dispatcher reconcile.Dispatcher
	logg       *logger.Logger
	metrics    *metrics.BillingMetrics
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Verifier == nil {
		return nil, fmt.Errorf("verifier required")
	}
	if params.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		verifier:   params.Verifier,
		dispatcher: params.Dispatcher,
		logg:       params.Logger,
		metrics:    params.Metrics,
	}, nil
}

// Handle verifies, classifies and dispatches one delivery. The only error it
// returns is a validation error for a failed signature check; every
// authenticated delivery is acknowledged.
func (s *Service) Handle(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	event, err := s.verifier.Verify(payload, signature)
	if err != nil {
		s.metrics.IncWebhook("unknown", metrics.WebhookInvalidSignature)
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"security": true,
			"reason":   err.Error(),
		}), "stripe webhook rejected")
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInvalidSignature, "invalid webhook signature")
	}

	ctx = s.logg.WithEvent(ctx, event.ID, string(event.Type))

	class, err := Classify(event)
	if !class.Tracked {
		s.metrics.IncWebhook(string(event.Type), metrics.WebhookIgnored)
		s.logg.Debug(ctx, "stripe event ignored")
		return OutcomeIgnored, nil
	}
	if err != nil {
		s.metrics.IncWebhook(class.EventType, metrics.WebhookMalformed)
		s.logg.Error(ctx, "stripe event dropped", err)
		return OutcomeMalformed, nil
	}

	ctx = s.logg.WithCustomerID(ctx, class.CustomerID)
	task := reconcile.Task{
		EventID:           class.EventID,
		EventType:         class.EventType,
		CustomerID:        class.CustomerID,
		ClientReferenceID: class.ClientReferenceID,
		Trigger:           subscriptions.TriggerWebhook,
	}
	if task.ClientReferenceID != "" {
		task.Trigger = subscriptions.TriggerCheckout
	}

	if err := s.dispatcher.Dispatch(ctx, task); err != nil {
		s.metrics.IncWebhook(class.EventType, metrics.WebhookDispatchFailed)
		s.logg.Error(ctx, "reconcile dispatch failed", err)
		return OutcomeDispatchFailed, nil
	}

	s.metrics.IncWebhook(class.EventType, metrics.WebhookAccepted)
	s.logg.Info(ctx, "stripe event accepted")
	return OutcomeDispatched, nil
}
