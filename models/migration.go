package models

import (
	"context"

	"gorm.io/gorm"
)

// MigrateTable creates or updates every table and seeds default settings.
func MigrateTable(ctx context.Context, db *gorm.DB) error {
	err := db.WithContext(ctx).AutoMigrate(
		&Order{},
		&Setting{},
		&SyncCheckpoint{},
		&SyncRun{}, &SyncError{},
	)
	if err != nil {
		return err
	}
	return NewSettingStore(db).SeedDefaults(ctx)
}
