package dto

import (
	"encoding/json"
	"time"
)

// RegisterDeviceInput
// @Example {"token":"fcm-token", "platform":"web", "meta":{"user_agent":"Firefox"}}
type RegisterDeviceInput struct {
	Token    string          `json:"token" validate:"required,no-blank,max=4096"`
	Platform string          `json:"platform" validate:"required,device-platform"`
	Meta     json.RawMessage `json:"meta,omitempty"`
}

type DeviceResponse struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"createdAt"`
}
