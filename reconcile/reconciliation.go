package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/billing_backend/billing"
	"bitbucket.org/mmdatafocus/billing_backend/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Engine runs the two sweep kinds over injected collaborators. One logical
// worker per invocation: every external call is sequential so the pacing
// delay is meaningful and the provider rate ceiling holds.
type Engine struct {
	Client    billing.Client
	Subs      SubscriptionStore
	Events    WebhookEventStore
	Runs      SyncRunStore
	Processor EventProcessor
	Syncer    *Syncer
	Pacer     Pacer
	Logger    *logrus.Logger
	Config    Config
}

// WithConfig returns a shallow copy running with cfg. Used for per-request
// overrides without touching the shared engine.
func (e *Engine) WithConfig(cfg Config) *Engine {
	copied := *e
	copied.Config = cfg
	if cfg.PaceDelay != e.Config.PaceDelay {
		copied.Pacer = NewFixedDelayPacer(cfg.PaceDelay)
	}
	return &copied
}

// RunFullReconciliation scans live subscriptions, compares each against the
// provider snapshot, and repairs drift. One record failing never aborts the
// batch; only run-setup failures do.
func (e *Engine) RunFullReconciliation(ctx context.Context) (*ReconcileResult, error) {
	ctx, span := otel.Tracer("reconcile").Start(ctx, "reconcile.full")
	defer span.End()

	result := &ReconcileResult{Issues: []Issue{}, BatchSize: e.Config.BatchSize}

	runID, err := e.Runs.Create(ctx, models.SyncRunTypeFullReconciliation)
	if err != nil {
		// An un-auditable sweep must not proceed.
		result.Error = "failed to create sync run: " + err.Error()
		return result, err
	}
	result.SyncRunID = runID

	subs, total, err := e.Subs.ListByStatuses(ctx, models.ReconcilableStatuses, e.Config.BatchSize)
	if err != nil {
		e.failRun(ctx, runID, result.Processed, result.Fixed, result.Discrepancies, result.Issues, err)
		result.Error = "failed to query live subscriptions: " + err.Error()
		return result, err
	}
	result.TotalSubscriptions = total
	span.SetAttributes(attribute.Int("reconcile.eligible", total))

	if len(subs) == 0 {
		e.Runs.Complete(ctx, runID, RunCompletion{Status: models.SyncRunStatusCompleted})
		result.Success = true
		result.Message = "No live subscriptions to reconcile"
		return result, nil
	}

	if total > e.Config.BatchSize {
		result.HasMore = true
	}

	for _, sub := range subs {
		e.reconcileOne(ctx, sub, result)
		result.Processed++
		// Pace after every record regardless of outcome.
		e.Pacer.Pace(ctx)
	}

	e.Runs.Complete(ctx, runID, RunCompletion{
		Status:             models.SyncRunStatusCompleted,
		RecordsProcessed:   result.Processed,
		RecordsFixed:       result.Fixed,
		DiscrepanciesFound: result.Discrepancies,
		Issues:             result.Issues,
	})

	result.Success = true
	if result.HasMore {
		remaining := total - result.Processed
		result.Message = fmt.Sprintf("Processed %d of %d live subscriptions; %d remaining for the next scheduled run", result.Processed, total, remaining)
	} else {
		result.Message = fmt.Sprintf("Reconciled %d subscriptions (%d discrepancies, %d fixed)", result.Processed, result.Discrepancies, result.Fixed)
	}
	return result, nil
}

func (e *Engine) reconcileOne(ctx context.Context, sub models.Subscription, result *ReconcileResult) {
	snap, err := e.Client.RetrieveSubscription(ctx, sub.SubscriptionID)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			// Gone at the provider: the local row is stale, cancel it.
			result.Discrepancies++
			if cErr := e.Syncer.MarkCanceled(ctx, sub.UserID, sub.SubscriptionID); cErr != nil {
				e.logRecord(sub, "mark canceled failed", cErr)
				result.Issues = append(result.Issues, Issue{
					SubID:  sub.SubscriptionID,
					UserID: sub.UserID,
					Issue:  "subscription missing from provider; local cancel failed: " + cErr.Error(),
					Action: ActionFailed,
				})
				return
			}
			result.Fixed++
			result.Issues = append(result.Issues, Issue{
				SubID:  sub.SubscriptionID,
				UserID: sub.UserID,
				Issue:  "subscription no longer exists at provider",
				Action: ActionMarkedCanceled,
			})
			return
		}

		// Transient or unknown fetch failure: record and move on, the next
		// scheduled run will retry this record.
		e.logRecord(sub, "provider fetch failed", err)
		result.Discrepancies++
		result.Issues = append(result.Issues, Issue{
			SubID:  sub.SubscriptionID,
			UserID: sub.UserID,
			Issue:  "provider fetch failed: " + err.Error(),
			Action: ActionFailed,
		})
		return
	}

	found := Detect(sub, snap, e.Config.PeriodEndTolerance)
	if len(found) == 0 {
		return
	}

	result.Discrepancies += len(found)
	// One sync call repairs every field-level discrepancy at once.
	if sErr := e.Syncer.SyncFromProvider(ctx, sub.UserID, snap); sErr != nil {
		e.logRecord(sub, "sync from provider failed", sErr)
		result.Issues = append(result.Issues, Issue{
			SubID:  sub.SubscriptionID,
			UserID: sub.UserID,
			Issue:  strings.Join(found, "; ") + "; sync failed: " + sErr.Error(),
			Action: ActionFailed,
		})
		return
	}

	result.Fixed++
	result.Issues = append(result.Issues, Issue{
		SubID:  sub.SubscriptionID,
		UserID: sub.UserID,
		Issue:  strings.Join(found, "; "),
		Action: ActionAutoFixed,
	})
}

// failRun writes the failed terminal state with whatever partial counts the
// sweep accumulated. Best effort: Complete swallows its own write errors.
func (e *Engine) failRun(ctx context.Context, runID uint, processed, fixed, discrepancies int, issues []Issue, cause error) {
	msg := cause.Error()
	e.Runs.Complete(ctx, runID, RunCompletion{
		Status:             models.SyncRunStatusFailed,
		RecordsProcessed:   processed,
		RecordsFixed:       fixed,
		DiscrepanciesFound: discrepancies,
		ErrorMessage:       &msg,
		Issues:             issues,
	})
}

func (e *Engine) logRecord(sub models.Subscription, context string, err error) {
	if e.Logger == nil {
		return
	}
	e.Logger.WithFields(logrus.Fields{
		"field":           "ReconciliationSweep",
		"subscription_id": sub.SubscriptionID,
		"user_id":         sub.UserID,
	}).Error(context + ": " + err.Error())
}
