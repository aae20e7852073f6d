package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"readstate_backend/internal/models"
)

var ErrDeviceTokenNotFound = errors.New("device token not found")

type DeviceTokenRepository interface {
	// Register привязывает токен к пользователю. Токен, ранее
	// принадлежавший другому пользователю, переходит к новому.
	Register(ctx context.Context, userID, token string, platform models.DevicePlatform, meta datatypes.JSON) (*models.DeviceToken, error)
	Remove(ctx context.Context, userID, token string) error
	// ResolveTokens возвращает уникальные токены пользователя
	ResolveTokens(ctx context.Context, userID string) ([]string, error)
	ListByUser(ctx context.Context, userID string) ([]models.DeviceToken, error)
}

type DeviceTokenRepositoryImpl struct {
	db *gorm.DB
}

func NewDeviceTokenRepository(db *gorm.DB) DeviceTokenRepository {
	return &DeviceTokenRepositoryImpl{db: db}
}

func (r *DeviceTokenRepositoryImpl) Register(ctx context.Context, userID, token string, platform models.DevicePlatform, meta datatypes.JSON) (*models.DeviceToken, error) {
	device := &models.DeviceToken{
		UserID:   userID,
		Token:    token,
		Platform: platform,
		Meta:     meta,
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "token"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"user_id":    userID,
			"platform":   platform,
			"meta":       meta,
			"updated_at": time.Now().UTC(),
		}),
	}).Create(device).Error
	if err != nil {
		return nil, err
	}

	// при конфликте id в device - сгенерированный, а не сохраненный
	var stored models.DeviceToken
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *DeviceTokenRepositoryImpl) Remove(ctx context.Context, userID, token string) error {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND token = ?", userID, token).
		Delete(&models.DeviceToken{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDeviceTokenNotFound
	}
	return nil
}

func (r *DeviceTokenRepositoryImpl) ResolveTokens(ctx context.Context, userID string) ([]string, error) {
	var tokens []string
	err := r.db.WithContext(ctx).
		Model(&models.DeviceToken{}).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Pluck("token", &tokens).Error
	if err != nil {
		return nil, err
	}
	return lo.Uniq(tokens), nil
}

func (r *DeviceTokenRepositoryImpl) ListByUser(ctx context.Context, userID string) ([]models.DeviceToken, error) {
	var devices []models.DeviceToken
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&devices).Error
	return devices, err
}
