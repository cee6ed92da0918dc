package database

import (
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"quantumchat/models"
)

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Chat{},
		&models.Message{},
		&models.PasswordReset{},
	)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("migrations completed")
	return nil
}
