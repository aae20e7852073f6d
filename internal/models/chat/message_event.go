package chat

import "time"

// MessageEvent - событие "сообщение отправлено" от чат-сервиса. Не хранится.
type MessageEvent struct {
	MessageID  string    `json:"message_id" validate:"required"`
	ChatID     string    `json:"chat_id" validate:"required"`
	SenderID   string    `json:"sender_id" validate:"required"`
	SenderName string    `json:"sender_name,omitempty"`
	Preview    string    `json:"preview,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
