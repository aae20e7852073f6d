package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"readstate_backend/internal/models/chat"
)

var (
	ErrParticipantNotFound = errors.New("participant not found")
	ErrUnknownField        = errors.New("field is not writable through atomic operations")
	ErrInvalidID           = errors.New("chat and user ids must be non-empty and must not contain ':'")
)

// ParticipantStore - адаптер документного хранилища участников чата.
// Все операции безопасны для конкурентного использования. AtomicIncrement и
// AtomicSet выполняются хранилищем атомарно для одной строки.
type ParticipantStore interface {
	GetParticipant(ctx context.Context, chatID, userID string) (*chat.Participant, error)
	// ListParticipants возвращает участников в порядке вступления (position)
	ListParticipants(ctx context.Context, chatID string) ([]chat.Participant, error)
	ListUserParticipations(ctx context.Context, userID string) ([]chat.Participant, error)
	AtomicIncrement(ctx context.Context, chatID, userID, field string, delta int64) error
	AtomicSet(ctx context.Context, chatID, userID string, fields map[string]interface{}) error
	// AddParticipants идемпотентно добавляет участников в конец списка
	AddParticipants(ctx context.Context, chatID string, userIDs []string) error
	Ping(ctx context.Context) error
}

func checkIncrementField(field string) error {
	if field != chat.FieldUnreadCount {
		return fmt.Errorf("%w: cannot increment %q", ErrUnknownField, field)
	}
	return nil
}

// normalizeSetFields проверяет имена и типы полей для AtomicSet
func normalizeSetFields(fields map[string]interface{}) (map[string]interface{}, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields to set", ErrUnknownField)
	}
	out := make(map[string]interface{}, len(fields)+1)
	for name, value := range fields {
		switch name {
		case chat.FieldUnreadCount:
			n, err := toCount(value)
			if err != nil {
				return nil, err
			}
			out[name] = n
		case chat.FieldLastReadAt:
			switch v := value.(type) {
			case time.Time:
				t := v.UTC()
				out[name] = &t
			case *time.Time:
				if v != nil {
					t := v.UTC()
					v = &t
				}
				out[name] = v
			case nil:
				out[name] = (*time.Time)(nil)
			default:
				return nil, fmt.Errorf("%w: %s must be a time, got %T", ErrUnknownField, name, value)
			}
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
	}
	return out, nil
}

func toCount(value interface{}) (int64, error) {
	var n int64
	switch v := value.(type) {
	case int:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	default:
		return 0, fmt.Errorf("%w: unread_count must be an integer, got %T", ErrUnknownField, value)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: unread_count must not be negative", ErrUnknownField)
	}
	return n, nil
}

func validID(id string) bool {
	return id != "" && !strings.Contains(id, ":")
}
