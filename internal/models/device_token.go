package models

import (
	"gorm.io/datatypes"
)

type DevicePlatform string

const (
	DevicePlatformWeb     DevicePlatform = "web"
	DevicePlatformIOS     DevicePlatform = "ios"
	DevicePlatformAndroid DevicePlatform = "android"
)

func (p DevicePlatform) IsValid() bool {
	switch p {
	case DevicePlatformWeb, DevicePlatformIOS, DevicePlatformAndroid:
		return true
	}
	return false
}

// DeviceToken - push-токен устройства пользователя
type DeviceToken struct {
	BaseModel
	UserID   string         `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Token    string         `gorm:"type:varchar(512);not null;uniqueIndex" json:"token"`
	Platform DevicePlatform `gorm:"type:varchar(16);not null" json:"platform"`
	Meta     datatypes.JSON `json:"meta,omitempty"` // {"user_agent": "...", "app_version": "..."}
}
