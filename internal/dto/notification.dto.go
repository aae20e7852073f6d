package dto

import (
	"readstate_backend/internal/clientnotify"
	"readstate_backend/internal/services/push"
)

// SendNotificationInput
// @Description Рассылка одного уведомления на набор токенов
// @Example {"notification":{"title":"Alice","body":"привет","data":{"chatId":"C1","url":"/messages/C1"}}, "tokens":["t1","t2"]}
type SendNotificationInput struct {
	Notification push.Notification `json:"notification" validate:"required"`
	Tokens       []string          `json:"tokens" validate:"required,min=1,dive,required,no-blank,max=4096"`
}

type SendNotificationResponse struct {
	Success      bool               `json:"success"`
	SuccessCount int                `json:"successCount"`
	FailureCount int                `json:"failureCount"`
	Results      []push.TokenResult `json:"results"`
}

// InteractionInput - действие пользователя над доставленным уведомлением
// @Example {"notification":{"title":"Alice","body":"привет","data":{"chatId":"C1"}}, "interaction":{"kind":"action","action":"open"}}
type InteractionInput struct {
	Notification push.Notification        `json:"notification" validate:"required"`
	Interaction  clientnotify.Interaction `json:"interaction" validate:"required"`
}

type InteractionResponse struct {
	Success  bool                  `json:"success"`
	State    clientnotify.State    `json:"state"`
	Decision clientnotify.Decision `json:"decision"`
	Focused  bool                  `json:"focused"`
}
