package db

import (
	"github.com/friendsincode/supermix/internal/models"
	"gorm.io/gorm"
)

// Migrate applies schema migrations for all models.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Song{},
		&models.UserSong{},
		&models.PlayHistory{},
		&models.UnavailableTrack{},
	)
}
