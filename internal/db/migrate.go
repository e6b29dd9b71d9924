package db

import (
	"gorm.io/gorm"

	"crmsync/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}
	return Migrate(db.Gorm)
}

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.SyncCursor{},
		&models.UpdateWatermark{},
		&models.SyncError{},
		&models.SyncAggregateRun{},
		&models.SyncStatus{},
		&models.WebhookSubscription{},
		&models.WebhookEvent{},
		&models.Account{},
		&models.Contact{},
		&models.Opportunity{},
		&models.Task{},
		&models.CustomField{},
	)
}
