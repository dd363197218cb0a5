package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SubscriptionStatusActive            = "active"
	SubscriptionStatusTrialing          = "trialing"
	SubscriptionStatusPastDue           = "past_due"
	SubscriptionStatusCanceled          = "canceled"
	SubscriptionStatusIncomplete        = "incomplete"
	SubscriptionStatusIncompleteExpired = "incomplete_expired"
	SubscriptionStatusUnpaid            = "unpaid"
	SubscriptionStatusPaused            = "paused"
)

// ReconcilableStatuses are the statuses worth checking against the provider.
// Terminal statuses (canceled, incomplete_expired, ...) are excluded.
var ReconcilableStatuses = []string{
	SubscriptionStatusActive,
	SubscriptionStatusTrialing,
	SubscriptionStatusPastDue,
}

// Subscription is the locally persisted copy of a provider subscription.
// The provider is always source of truth; rows here are written only by the
// webhook ingestion path and the reconciliation syncer.
type Subscription struct {
	ID                  uint            `gorm:"primary_key" json:"id"`
	SubscriptionID      string          `gorm:"uniqueIndex;size:128;not null" json:"subscription_id"`
	UserID              string          `gorm:"index;size:64;not null" json:"user_id"`
	Status              string          `gorm:"index;size:32;not null" json:"status"`
	PlanID              string          `gorm:"size:128" json:"plan_id"`
	PlanAmount          decimal.Decimal `gorm:"type:decimal(20,8)" json:"plan_amount"`
	CurrentPeriodEnd    *time.Time      `json:"current_period_end"`
	ScheduledPlanId     *string         `gorm:"size:128" json:"scheduled_plan_id"`
	ScheduledChangeDate *time.Time      `json:"scheduled_change_date"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
