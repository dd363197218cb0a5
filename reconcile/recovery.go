package reconcile

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/billing_backend/billing"
	"bitbucket.org/mmdatafocus/billing_backend/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// RunWebhookRecovery replays previously-failed inbound events through the
// same idempotent processor used for live delivery. The canonical payload
// is always re-fetched from the provider; a stale cached copy is never
// trusted for replay.
func (e *Engine) RunWebhookRecovery(ctx context.Context) (*RecoveryResult, error) {
	ctx, span := otel.Tracer("reconcile").Start(ctx, "reconcile.webhook_recovery")
	defer span.End()

	result := &RecoveryResult{}

	runID, err := e.Runs.Create(ctx, models.SyncRunTypeWebhookRecovery)
	if err != nil {
		result.Error = "failed to create sync run: " + err.Error()
		return result, err
	}
	result.SyncRunID = runID

	events, err := e.Events.ListRetryable(ctx, e.Config.MaxRetries, e.Config.RecoveryBatchSize)
	if err != nil {
		e.failRun(ctx, runID, 0, 0, 0, nil, err)
		result.Error = "failed to query retryable events: " + err.Error()
		return result, err
	}
	span.SetAttributes(attribute.Int("recovery.eligible", len(events)))

	if len(events) == 0 {
		e.Runs.Complete(ctx, runID, RunCompletion{Status: models.SyncRunStatusCompleted})
		result.Success = true
		return result, nil
	}

	for _, event := range events {
		e.recoverOne(ctx, event, result)
		result.Processed++
	}

	e.Runs.Complete(ctx, runID, RunCompletion{
		Status:           models.SyncRunStatusCompleted,
		RecordsProcessed: result.Processed,
		RecordsFixed:     result.Recovered,
	})

	result.Success = true
	return result, nil
}

func (e *Engine) recoverOne(ctx context.Context, event models.WebhookEvent, result *RecoveryResult) {
	now := time.Now().UTC()

	payload, err := e.Client.RetrieveEvent(ctx, event.EventID)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			// The provider no longer has the source event; no retry count
			// can make this recoverable again.
			msg := "event no longer available from provider"
			e.updateEvent(ctx, event, map[string]interface{}{
				"status":        models.WebhookEventStatusUnrecoverable,
				"recoverable":   false,
				"error_message": &msg,
				"last_retry_at": &now,
			})
			result.Unrecoverable++
			return
		}
		e.recordEventFailure(ctx, event, err, now, result)
		return
	}

	if err := e.Processor.Process(ctx, payload); err != nil {
		e.recordEventFailure(ctx, event, err, now, result)
		return
	}

	e.updateEvent(ctx, event, map[string]interface{}{
		"status":        models.WebhookEventStatusCompleted,
		"retry_count":   event.RetryCount + 1,
		"completed_at":  &now,
		"last_retry_at": &now,
		"error_message": nil,
	})
	result.Recovered++
}

// recordEventFailure bumps the retry counter and, at the retry ceiling,
// moves the event to its terminal unrecoverable state.
func (e *Engine) recordEventFailure(ctx context.Context, event models.WebhookEvent, cause error, now time.Time, result *RecoveryResult) {
	retries := event.RetryCount + 1
	msg := cause.Error()
	fields := map[string]interface{}{
		"retry_count":   retries,
		"last_retry_at": &now,
		"error_message": &msg,
	}
	if retries >= e.Config.MaxRetries {
		fields["status"] = models.WebhookEventStatusUnrecoverable
		fields["recoverable"] = false
		result.Unrecoverable++
	}
	e.updateEvent(ctx, event, fields)
}

func (e *Engine) updateEvent(ctx context.Context, event models.WebhookEvent, fields map[string]interface{}) {
	if err := e.Events.Update(ctx, event.ID, fields); err != nil && e.Logger != nil {
		e.Logger.WithFields(logrus.Fields{
			"field":    "WebhookRecoverySweep",
			"event_id": event.EventID,
		}).Error("failed to update webhook event: " + err.Error())
	}
}
