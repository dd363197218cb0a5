package billing

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionSnapshot is a point-in-time read of provider subscription
// state. Snapshots are never persisted; they live only for the comparison
// and sync step of one sweep iteration.
type SubscriptionSnapshot struct {
	ID                string
	CustomerID        string
	Status            string
	CurrentPriceID    string
	PlanAmount        decimal.Decimal
	CurrentPeriodEnd  time.Time
	ScheduledPriceID  *string
	ScheduledChangeAt *time.Time
	CancelAtPeriodEnd bool
}

// EventPayload is the canonical provider event, re-fetched by id for replay.
type EventPayload struct {
	ID           string
	Type         string
	UserID       string
	Subscription *SubscriptionSnapshot
	Raw          json.RawMessage
}
