package reconcile

import (
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/billing_backend/billing"
	"bitbucket.org/mmdatafocus/billing_backend/models"
)

// Detect compares a local subscription row against a provider snapshot and
// returns one message per field-level discrepancy. Pure: identical inputs
// always yield identical output. A missing provider record never reaches
// this function; the sweep routes not-found to cancellation instead.
func Detect(local models.Subscription, snap *billing.SubscriptionSnapshot, tolerance time.Duration) []string {
	var issues []string

	if local.Status != snap.Status {
		issues = append(issues, fmt.Sprintf("status mismatch: local=%s provider=%s", local.Status, snap.Status))
	}

	if local.PlanID != snap.CurrentPriceID {
		issues = append(issues, fmt.Sprintf("plan mismatch: local=%s provider=%s", local.PlanID, snap.CurrentPriceID))
	}

	if !snap.CurrentPeriodEnd.IsZero() {
		if local.CurrentPeriodEnd == nil {
			issues = append(issues, fmt.Sprintf("period end missing locally: provider=%s", snap.CurrentPeriodEnd.UTC().Format(time.RFC3339)))
		} else {
			drift := local.CurrentPeriodEnd.Sub(snap.CurrentPeriodEnd)
			if drift < 0 {
				drift = -drift
			}
			// Exactly at the tolerance is not drift.
			if drift > tolerance {
				issues = append(issues, fmt.Sprintf("period end drift of %.1fh: local=%s provider=%s",
					drift.Hours(),
					local.CurrentPeriodEnd.UTC().Format(time.RFC3339),
					snap.CurrentPeriodEnd.UTC().Format(time.RFC3339)))
			}
		}
	}

	return issues
}
