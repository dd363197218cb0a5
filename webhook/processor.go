package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/billing_backend/billing"
	"github.com/sirupsen/logrus"
)

const handlerName = "billing-webhook"

// SubscriptionApplier applies a provider snapshot to local state.
// Satisfied by the reconciliation syncer.
type SubscriptionApplier interface {
	SyncFromProvider(ctx context.Context, userID string, snap *billing.SubscriptionSnapshot) error
	MarkCanceled(ctx context.Context, userID, subscriptionID string) error
}

// Processor applies provider events to local subscription state. It is
// replay-safe per event id: live delivery and the recovery sweep run events
// through the same Process path, and the durable idempotency key guarantees
// a duplicate delivery applies nothing twice.
type Processor struct {
	Idempotency IdempotencyStore
	Applier     SubscriptionApplier
	Logger      *logrus.Logger
}

func NewProcessor(idem IdempotencyStore, applier SubscriptionApplier, logger *logrus.Logger) *Processor {
	return &Processor{Idempotency: idem, Applier: applier, Logger: logger}
}

func (p *Processor) Process(ctx context.Context, payload *billing.EventPayload) error {
	if payload == nil || strings.TrimSpace(payload.ID) == "" {
		return errors.New("webhook: event payload has no id")
	}

	skip, err := p.Idempotency.Begin(handlerName, payload.ID)
	if err != nil {
		return err
	}
	if skip {
		if p.Logger != nil {
			p.Logger.WithFields(logrus.Fields{
				"field":    "WebhookProcessor",
				"event_id": payload.ID,
				"type":     payload.Type,
			}).Info("event already applied; skipping replay")
		}
		return nil
	}

	if err := p.apply(ctx, payload); err != nil {
		_ = p.Idempotency.MarkFailed(handlerName, payload.ID, err)
		return err
	}
	return p.Idempotency.MarkSucceeded(handlerName, payload.ID)
}

func (p *Processor) apply(ctx context.Context, payload *billing.EventPayload) error {
	switch payload.Type {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.resumed",
		"invoice.payment_succeeded",
		"invoice.payment_failed":
		if payload.Subscription == nil {
			return fmt.Errorf("webhook: event %s (%s) carries no subscription object", payload.ID, payload.Type)
		}
		return p.Applier.SyncFromProvider(ctx, payload.UserID, payload.Subscription)
	case "customer.subscription.deleted":
		if payload.Subscription == nil {
			return fmt.Errorf("webhook: event %s (%s) carries no subscription object", payload.ID, payload.Type)
		}
		return p.Applier.MarkCanceled(ctx, payload.UserID, payload.Subscription.ID)
	default:
		// Unknown event types are acknowledged without local effect.
		if p.Logger != nil {
			p.Logger.WithFields(logrus.Fields{
				"field":    "WebhookProcessor",
				"event_id": payload.ID,
				"type":     payload.Type,
			}).Info("ignoring unhandled event type")
		}
		return nil
	}
}
