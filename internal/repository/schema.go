package repository

import (
	"fmt"

	"gorm.io/gorm"
)

// AutoMigrate creates the service's tables from the GORM models. Deployed databases are
// migrated with the SQL files under migrations/; this is for local runs and tests.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&UserModel{},
		&CategoryModel{},
		&BookingModel{},
		&BookingEventModel{},
		&CommissionSettingModel{},
		&PayoutModel{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}
	return nil
}
