package reconcile

import (
	"context"

	"bitbucket.org/mmdatafocus/billing_backend/billing"
	"bitbucket.org/mmdatafocus/billing_backend/models"
)

const (
	ActionAutoFixed      = "auto-fixed"
	ActionMarkedCanceled = "marked-canceled"
	ActionFailed         = "failed"
)

// Issue is one per-record finding of a sweep, kept in the SyncRun metadata
// and echoed in the HTTP response.
type Issue struct {
	SubID  string `json:"subId"`
	UserID string `json:"userId"`
	Issue  string `json:"issue"`
	Action string `json:"action"`
}

// SubscriptionStore is the local persistence surface the engine needs.
type SubscriptionStore interface {
	// ListByStatuses returns up to limit rows plus the total eligible count.
	ListByStatuses(ctx context.Context, statuses []string, limit int) ([]models.Subscription, int, error)
	Upsert(ctx context.Context, sub *models.Subscription) error
	MarkCanceled(ctx context.Context, userID, subscriptionID string) error
}

// WebhookEventStore is owned by the ingestion path; the recovery sweep only
// reads retryable rows and updates retry bookkeeping.
type WebhookEventStore interface {
	ListRetryable(ctx context.Context, maxRetries, limit int) ([]models.WebhookEvent, error)
	Update(ctx context.Context, id uint, fields map[string]interface{}) error
}

// RunCompletion carries the terminal state written to a SyncRun.
type RunCompletion struct {
	Status             string
	RecordsProcessed   int
	RecordsFixed       int
	DiscrepanciesFound int
	ErrorMessage       *string
	Issues             []Issue
}

// SyncRunStore owns the SyncRun lifecycle. Create must succeed before sweep
// work starts; Complete is terminal and must never mask the sweep's own
// error (implementations log and swallow their own write failures).
type SyncRunStore interface {
	Create(ctx context.Context, runType string) (uint, error)
	Complete(ctx context.Context, id uint, res RunCompletion)
}

// EventProcessor replays a provider event. Must be the same logic as live
// delivery and replay-safe per event id.
type EventProcessor interface {
	Process(ctx context.Context, payload *billing.EventPayload) error
}

// CreditRecalculator is notified after a subscription sync so dependent
// allocations can be recomputed. Only the call contract is owned here.
type CreditRecalculator interface {
	Recalculate(ctx context.Context, userID string) error
}

// ReconcileResult is the JSON summary of one full reconciliation sweep.
type ReconcileResult struct {
	Success            bool    `json:"success"`
	Processed          int     `json:"processed"`
	Discrepancies      int     `json:"discrepancies"`
	Fixed              int     `json:"fixed"`
	Issues             []Issue `json:"issues"`
	SyncRunID          uint    `json:"syncRunId,omitempty"`
	HasMore            bool    `json:"hasMore"`
	TotalSubscriptions int     `json:"totalSubscriptions"`
	BatchSize          int     `json:"batchSize"`
	Message            string  `json:"message,omitempty"`
	Error              string  `json:"error,omitempty"`
}

// RecoveryResult is the JSON summary of one webhook recovery sweep.
type RecoveryResult struct {
	Success       bool   `json:"success"`
	Processed     int    `json:"processed"`
	Recovered     int    `json:"recovered"`
	Unrecoverable int    `json:"unrecoverable"`
	SyncRunID     uint   `json:"syncRunId,omitempty"`
	Error         string `json:"error,omitempty"`
}
