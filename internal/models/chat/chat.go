package chat

import "time"

// Chat - только то, что нужно для учета непрочитанного.
// Сообщения хранит чат-сервис, сюда приходят события о них.
type Chat struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Participants []Participant `gorm:"foreignKey:ChatID;references:ID" json:"participants,omitempty"`
}

func (Chat) TableName() string {
	return "chat_chats"
}
