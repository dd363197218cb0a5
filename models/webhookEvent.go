package models

import "time"

const (
	WebhookEventStatusPending       = "pending"
	WebhookEventStatusFailed        = "failed"
	WebhookEventStatusCompleted     = "completed"
	WebhookEventStatusUnrecoverable = "unrecoverable"
)

// WebhookEvent records one inbound provider event and its processing state.
// Rows are created by the live ingestion path; the recovery sweep only
// mutates the retry bookkeeping fields.
//
// Invariants: retry_count never decreases; recoverable never flips back to
// true; failed rows move only to completed or unrecoverable.
type WebhookEvent struct {
	ID           uint       `gorm:"primary_key" json:"id"`
	EventID      string     `gorm:"uniqueIndex;size:128;not null" json:"event_id"`
	EventType    string     `gorm:"size:64" json:"event_type"`
	Status       string     `gorm:"index;size:20;not null" json:"status"`
	Recoverable  bool       `gorm:"default:true" json:"recoverable"`
	RetryCount   int        `json:"retry_count"`
	LastRetryAt  *time.Time `json:"last_retry_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	ErrorMessage *string    `gorm:"type:text" json:"error_message"`
	PayloadJSON  []byte     `gorm:"type:json" json:"payload"`
	CreatedAt    time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
