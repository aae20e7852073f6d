package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"readstate_backend/internal/models/chat"
)

// GormParticipantStore - реализация на gorm (postgres в проде, sqlite в тестах)
type GormParticipantStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormParticipantStore(db *gorm.DB) *GormParticipantStore {
	return &GormParticipantStore{db: db, now: time.Now}
}

func (r *GormParticipantStore) GetParticipant(ctx context.Context, chatID, userID string) (*chat.Participant, error) {
	var p chat.Participant
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrParticipantNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *GormParticipantStore) ListParticipants(ctx context.Context, chatID string) ([]chat.Participant, error) {
	var participants []chat.Participant
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("position ASC").
		Find(&participants).Error
	return participants, err
}

func (r *GormParticipantStore) ListUserParticipations(ctx context.Context, userID string) ([]chat.Participant, error) {
	var participants []chat.Participant
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("chat_id ASC").
		Find(&participants).Error
	return participants, err
}

// AtomicIncrement - один UPDATE, счетчик не уходит ниже нуля
func (r *GormParticipantStore) AtomicIncrement(ctx context.Context, chatID, userID, field string, delta int64) error {
	if err := checkIncrementField(field); err != nil {
		return err
	}

	res := r.db.WithContext(ctx).
		Model(&chat.Participant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Updates(map[string]interface{}{
			field:        gorm.Expr("CASE WHEN "+field+" + ? < 0 THEN 0 ELSE "+field+" + ? END", delta, delta),
			"updated_at": r.now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("increment %s: %w", field, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

// AtomicSet - безусловная запись полей одной строки
func (r *GormParticipantStore) AtomicSet(ctx context.Context, chatID, userID string, fields map[string]interface{}) error {
	updates, err := normalizeSetFields(fields)
	if err != nil {
		return err
	}
	updates["updated_at"] = r.now().UTC()

	res := r.db.WithContext(ctx).
		Model(&chat.Participant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("set participant fields: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

func (r *GormParticipantStore) AddParticipants(ctx context.Context, chatID string, userIDs []string) error {
	if !validID(chatID) {
		return ErrInvalidID
	}
	userIDs = lo.Uniq(userIDs)
	if len(userIDs) == 0 {
		return nil
	}
	for _, id := range userIDs {
		if !validID(id) {
			return ErrInvalidID
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.now().UTC()

		err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&chat.Chat{ID: chatID, CreatedAt: now}).Error
		if err != nil {
			return fmt.Errorf("ensure chat: %w", err)
		}

		var existing []chat.Participant
		if err := tx.Where("chat_id = ?", chatID).Find(&existing).Error; err != nil {
			return err
		}
		known := lo.Map(existing, func(p chat.Participant, _ int) string { return p.UserID })
		newIDs := lo.Without(userIDs, known...)
		if len(newIDs) == 0 {
			return nil
		}

		next := 0
		for _, p := range existing {
			next = max(next, p.Position+1)
		}

		rows := lo.Map(newIDs, func(userID string, i int) chat.Participant {
			return chat.Participant{
				ChatID:    chatID,
				UserID:    userID,
				Position:  next + i,
				JoinedAt:  now,
				UpdatedAt: now,
			}
		})

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).Create(&rows).Error
	})
}

func (r *GormParticipantStore) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
