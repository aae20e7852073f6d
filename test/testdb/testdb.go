package testdb

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"readstate_backend/database"
	"readstate_backend/internal/models"
	"readstate_backend/internal/models/chat"
)

// New - изолированная sqlite in-memory база с примененными миграциями
func New(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := database.OpenGorm("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.Logger = gormlogger.Default.LogMode(gormlogger.Silent)

	require.NoError(t, database.AutoMigrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SeedChat создает чат с участниками в порядке userIDs
func SeedChat(t testing.TB, db *gorm.DB, chatID string, userIDs ...string) {
	t.Helper()

	now := time.Now().UTC()
	require.NoError(t, db.Create(&chat.Chat{ID: chatID, CreatedAt: now}).Error)
	for i, userID := range userIDs {
		require.NoError(t, db.Create(&chat.Participant{
			ChatID:   chatID,
			UserID:   userID,
			Position: i,
			JoinedAt: now,
		}).Error)
	}
}

// SeedDevice регистрирует push-токен пользователя
func SeedDevice(t testing.TB, db *gorm.DB, userID, token string) {
	t.Helper()
	require.NoError(t, db.Create(&models.DeviceToken{
		UserID:   userID,
		Token:    token,
		Platform: models.DevicePlatformWeb,
	}).Error)
}
