package database

import (
	"fmt"

	"gorm.io/gorm"

	"readstate_backend/internal/logger"
	"readstate_backend/internal/models"
	chatmodels "readstate_backend/internal/models/chat"
)

// AutoMigrate выполняет миграцию всех моделей
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&chatmodels.Chat{},
		&chatmodels.Participant{},
		&models.DeviceToken{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	logger.Info("AutoMigrate успешно завершен")
	return nil
}
