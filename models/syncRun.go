package models

import "time"

const (
	SyncRunTypeFullReconciliation = "full_reconciliation"
	SyncRunTypeWebhookRecovery    = "webhook_recovery"
)

const (
	SyncRunStatusRunning   = "running"
	SyncRunStatusCompleted = "completed"
	SyncRunStatusFailed    = "failed"
)

// SyncRun is the append-only audit record of one sweep invocation.
// Created when the sweep starts, finalized exactly once when it ends.
type SyncRun struct {
	ID                 uint       `gorm:"primary_key" json:"id"`
	Type               string     `gorm:"index;size:32;not null" json:"type"`
	Status             string     `gorm:"size:20;not null" json:"status"`
	RecordsProcessed   int        `json:"records_processed"`
	RecordsFixed       int        `json:"records_fixed"`
	DiscrepanciesFound int        `json:"discrepancies_found"`
	ErrorMessage       *string    `gorm:"type:text" json:"error_message"`
	MetadataJSON       []byte     `gorm:"type:json" json:"metadata"`
	StartedAt          *time.Time `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
