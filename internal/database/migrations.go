package database

import (
	"gorm.io/gorm"

	"github.com/cuonglevan23/taskflow-backend-sub003/internal/models"
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Notification{},
		&models.CacheEntry{},
	)
}
