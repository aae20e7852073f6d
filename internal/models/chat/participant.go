package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Поля, которые можно менять атомарными операциями хранилища
const (
	FieldUnreadCount = "unread_count"
	FieldLastReadAt  = "last_read_at"
)

type Participant struct {
	ID          string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	ChatID      string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_chat_participants_chat_user;index" json:"chat_id"`
	UserID      string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_chat_participants_chat_user;index" json:"user_id"`
	UnreadCount int64      `gorm:"not null;default:0;check:chk_chat_participants_unread,unread_count >= 0" json:"unread_count"`
	LastReadAt  *time.Time `json:"last_read_at,omitempty"`
	Position    int        `gorm:"not null;default:0" json:"position"`
	JoinedAt    time.Time  `json:"joined_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Participant) TableName() string {
	return "chat_participants"
}

func (p *Participant) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
