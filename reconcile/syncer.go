package reconcile

import (
	"context"
	"errors"
	"strings"

	"bitbucket.org/mmdatafocus/billing_backend/billing"
	"bitbucket.org/mmdatafocus/billing_backend/models"
	"github.com/sirupsen/logrus"
)

// Syncer overwrites local subscription state from provider snapshots.
// The provider is always source of truth; repeated calls with an unchanged
// snapshot settle on the same row with no additional effective writes.
type Syncer struct {
	Subs    SubscriptionStore
	Credits CreditRecalculator
	Logger  *logrus.Logger
}

func NewSyncer(subs SubscriptionStore, credits CreditRecalculator, logger *logrus.Logger) *Syncer {
	return &Syncer{Subs: subs, Credits: credits, Logger: logger}
}

func (s *Syncer) SyncFromProvider(ctx context.Context, userID string, snap *billing.SubscriptionSnapshot) error {
	if snap == nil || strings.TrimSpace(snap.ID) == "" {
		return errors.New("reconcile: snapshot has no subscription id")
	}

	sub := models.Subscription{
		SubscriptionID: snap.ID,
		UserID:         userID,
		Status:         snap.Status,
		PlanID:         snap.CurrentPriceID,
		PlanAmount:     snap.PlanAmount,
	}
	if !snap.CurrentPeriodEnd.IsZero() {
		end := snap.CurrentPeriodEnd.UTC()
		sub.CurrentPeriodEnd = &end
	}

	// A scheduled change that now matches the active plan has taken effect;
	// clear it rather than carry a stale pending change.
	if snap.ScheduledPriceID != nil && *snap.ScheduledPriceID != snap.CurrentPriceID {
		sub.ScheduledPlanId = snap.ScheduledPriceID
		sub.ScheduledChangeDate = snap.ScheduledChangeAt
	}

	if err := s.Subs.Upsert(ctx, &sub); err != nil {
		return err
	}

	s.notifyCredits(ctx, userID)
	return nil
}

// MarkCanceled terminally cancels the local row without contacting the
// provider. Safe to repeat.
func (s *Syncer) MarkCanceled(ctx context.Context, userID, subscriptionID string) error {
	if err := s.Subs.MarkCanceled(ctx, userID, subscriptionID); err != nil {
		return err
	}
	s.notifyCredits(ctx, userID)
	return nil
}

// notifyCredits tells the dependent-recalculation collaborator to recompute
// allocations for the user. The sync itself already succeeded, so a failed
// notification is logged, not propagated.
func (s *Syncer) notifyCredits(ctx context.Context, userID string) {
	if s.Credits == nil {
		return
	}
	if err := s.Credits.Recalculate(ctx, userID); err != nil && s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{
			"field":   "SubscriptionSyncer",
			"user_id": userID,
		}).Warn("credit recalculation notify failed: " + err.Error())
	}
}
