package models

import (
	"log"

	"bitbucket.org/mmdatafocus/billing_backend/config"
)

func MigrateTable() {
	db := config.GetDB()
	if db == nil {
		log.Println("migration skipped: db is nil")
		return
	}

	err := db.AutoMigrate(
		&Subscription{},
		&WebhookEvent{},
		&SyncRun{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Printf("auto migration failed: %v", err)
	}
}
