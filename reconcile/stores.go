package reconcile

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/billing_backend/config"
	"bitbucket.org/mmdatafocus/billing_backend/models"
	"gorm.io/gorm"
)

// GormSubscriptionStore backs SubscriptionStore with the local MySQL tables.
type GormSubscriptionStore struct {
	DB *gorm.DB
}

func NewSubscriptionStore(db *gorm.DB) *GormSubscriptionStore {
	return &GormSubscriptionStore{DB: db}
}

func (s *GormSubscriptionStore) ListByStatuses(ctx context.Context, statuses []string, limit int) ([]models.Subscription, int, error) {
	var total int64
	if err := s.DB.WithContext(ctx).Model(&models.Subscription{}).
		Where("status IN ?", statuses).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var subs []models.Subscription
	q := s.DB.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&subs).Error; err != nil {
		return nil, 0, err
	}
	return subs, int(total), nil
}

// Upsert writes the synced fields by subscription id. Scheduled-change
// fields are written unconditionally so a cleared schedule clears the row.
func (s *GormSubscriptionStore) Upsert(ctx context.Context, sub *models.Subscription) error {
	fields := map[string]interface{}{
		"user_id":               sub.UserID,
		"status":                sub.Status,
		"plan_id":               sub.PlanID,
		"plan_amount":           sub.PlanAmount,
		"current_period_end":    sub.CurrentPeriodEnd,
		"scheduled_plan_id":     sub.ScheduledPlanId,
		"scheduled_change_date": sub.ScheduledChangeDate,
	}

	var existing models.Subscription
	err := s.DB.WithContext(ctx).
		Where("subscription_id = ?", sub.SubscriptionID).
		Take(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.DB.WithContext(ctx).Create(sub).Error
		}
		return err
	}

	return s.DB.WithContext(ctx).Model(&models.Subscription{}).
		Where("subscription_id = ?", sub.SubscriptionID).
		Updates(fields).Error
}

func (s *GormSubscriptionStore) MarkCanceled(ctx context.Context, userID, subscriptionID string) error {
	return s.DB.WithContext(ctx).Model(&models.Subscription{}).
		Where("subscription_id = ? AND user_id = ?", subscriptionID, userID).
		Updates(map[string]interface{}{
			"status":                models.SubscriptionStatusCanceled,
			"scheduled_plan_id":     nil,
			"scheduled_change_date": nil,
		}).Error
}

// GormWebhookEventStore backs WebhookEventStore for retry bookkeeping.
type GormWebhookEventStore struct {
	DB *gorm.DB
}

func NewWebhookEventStore(db *gorm.DB) *GormWebhookEventStore {
	return &GormWebhookEventStore{DB: db}
}

// ListRetryable returns failed, still-recoverable events oldest first.
// Oldest gets priority: the longer an event sits, the higher the risk the
// provider can no longer supply the canonical payload.
func (s *GormWebhookEventStore) ListRetryable(ctx context.Context, maxRetries, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := s.DB.WithContext(ctx).
		Where("status = ? AND recoverable = ? AND retry_count < ?", models.WebhookEventStatusFailed, true, maxRetries).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (s *GormWebhookEventStore) Update(ctx context.Context, id uint, fields map[string]interface{}) error {
	return s.DB.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// PubSubCreditRecalculator publishes a recalculation request for the credit
// allocation service. Fire-and-forget from the syncer's point of view.
type PubSubCreditRecalculator struct{}

type creditRecalcMessage struct {
	UserID      string `json:"user_id"`
	RequestedAt string `json:"requested_at"`
	Source      string `json:"source"`
}

func (p *PubSubCreditRecalculator) Recalculate(ctx context.Context, userID string) error {
	topic := strings.TrimSpace(os.Getenv("CREDIT_RECALC_TOPIC"))
	if topic == "" {
		topic = "credit-recalc"
	}
	_, err := config.PublishJSON(ctx, topic, creditRecalcMessage{
		UserID:      userID,
		RequestedAt: time.Now().UTC().Format(time.RFC3339),
		Source:      "billing-sync",
	})
	return err
}
