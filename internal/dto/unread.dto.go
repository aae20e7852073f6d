package dto

// UnreadCountResponse
// @Description Счетчик непрочитанных в одном чате
// @Example {"success":true, "unreadCount":3}
type UnreadCountResponse struct {
	Success     bool  `json:"success"`
	UnreadCount int64 `json:"unreadCount"`
}

// TotalUnreadResponse
// @Description Сумма непрочитанных по всем чатам пользователя
// @Example {"success":true, "totalUnread":12}
type TotalUnreadResponse struct {
	Success     bool  `json:"success"`
	TotalUnread int64 `json:"totalUnread"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

// SyncParticipantsInput - состав чата от чат-сервиса
// @Example {"user_ids":["u1","u2","u3"]}
type SyncParticipantsInput struct {
	UserIDs []string `json:"user_ids" validate:"required,min=1,dive,required,no-blank,max=64"`
}

type ParticipantView struct {
	UserID      string `json:"userId"`
	Position    int    `json:"position"`
	UnreadCount int64  `json:"unreadCount"`
}

type SyncParticipantsResponse struct {
	Success      bool              `json:"success"`
	ChatID       string            `json:"chatId"`
	Participants []ParticipantView `json:"participants"`
}

// MessageSentInput - хук "сообщение отправлено"
// @Example {"message_id":"m-1", "sender_id":"u1", "sender_name":"Alice", "preview":"привет"}
type MessageSentInput struct {
	MessageID  string `json:"message_id" validate:"required,max=128"`
	SenderID   string `json:"sender_id" validate:"required,max=64"`
	SenderName string `json:"sender_name" validate:"max=128"`
	Preview    string `json:"preview" validate:"max=4096"`
}
