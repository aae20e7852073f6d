package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"readstate_backend/internal/models/chat"
)

const maxTxnRetries = 128

// BadgerParticipantStore хранит участников как JSON-документы.
//
//	participant:{chat}:{user} -> Participant
//	user_chat:{user}:{chat}   -> пусто (индекс по пользователю)
//	chat:{chat}               -> Chat
//
// Инкремент - read-modify-write внутри сериализуемой транзакции badger,
// при конфликте транзакция повторяется.
type BadgerParticipantStore struct {
	db  *badger.DB
	log *slog.Logger
	now func() time.Time
}

func NewBadgerParticipantStore(db *badger.DB, log *slog.Logger) *BadgerParticipantStore {
	return &BadgerParticipantStore{db: db, log: log, now: time.Now}
}

func participantKey(chatID, userID string) []byte {
	return []byte(fmt.Sprintf("participant:%s:%s", chatID, userID))
}

func participantPrefix(chatID string) []byte {
	return []byte(fmt.Sprintf("participant:%s:", chatID))
}

func userChatKey(userID, chatID string) []byte {
	return []byte(fmt.Sprintf("user_chat:%s:%s", userID, chatID))
}

func userChatPrefix(userID string) []byte {
	return []byte(fmt.Sprintf("user_chat:%s:", userID))
}

func chatKey(chatID string) []byte {
	return []byte("chat:" + chatID)
}

// update выполняет fn в транзакции и повторяет ее при badger.ErrConflict
func (s *BadgerParticipantStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debug("badger txn conflict, retrying", "attempt", attempt+1)
	}
	return fmt.Errorf("badger txn gave up after %d attempts: %w", maxTxnRetries, err)
}

func getParticipant(txn *badger.Txn, chatID, userID string) (*chat.Participant, error) {
	item, err := txn.Get(participantKey(chatID, userID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrParticipantNotFound
	}
	if err != nil {
		return nil, err
	}

	var p chat.Participant
	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &p)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal participant: %w", err)
	}
	return &p, nil
}

func putParticipant(txn *badger.Txn, p *chat.Participant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return txn.Set(participantKey(p.ChatID, p.UserID), data)
}

func listByPrefix(txn *badger.Txn, prefix []byte) ([]chat.Participant, error) {
	var out []chat.Participant

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		err := it.Item().Value(func(v []byte) error {
			var p chat.Participant
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("failed to unmarshal participant: %w", err)
			}
			out = append(out, p)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *BadgerParticipantStore) GetParticipant(_ context.Context, chatID, userID string) (*chat.Participant, error) {
	var p *chat.Participant
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		p, err = getParticipant(txn, chatID, userID)
		return err
	})
	return p, err
}

func (s *BadgerParticipantStore) ListParticipants(_ context.Context, chatID string) ([]chat.Participant, error) {
	var participants []chat.Participant
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		participants, err = listByPrefix(txn, participantPrefix(chatID))
		return err
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(participants, func(i, j int) bool {
		return participants[i].Position < participants[j].Position
	})
	return participants, nil
}

func (s *BadgerParticipantStore) ListUserParticipations(_ context.Context, userID string) ([]chat.Participant, error) {
	var participants []chat.Participant
	prefix := userChatPrefix(userID)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			chatID := string(it.Item().Key()[len(prefix):])
			p, err := getParticipant(txn, chatID, userID)
			if errors.Is(err, ErrParticipantNotFound) {
				// индекс без документа, пропускаем
				continue
			}
			if err != nil {
				return err
			}
			participants = append(participants, *p)
		}
		return nil
	})
	return participants, err
}

func (s *BadgerParticipantStore) AtomicIncrement(ctx context.Context, chatID, userID, field string, delta int64) error {
	if err := checkIncrementField(field); err != nil {
		return err
	}

	return s.update(ctx, func(txn *badger.Txn) error {
		p, err := getParticipant(txn, chatID, userID)
		if err != nil {
			return err
		}
		p.UnreadCount = max(p.UnreadCount+delta, 0)
		p.UpdatedAt = s.now().UTC()
		return putParticipant(txn, p)
	})
}

func (s *BadgerParticipantStore) AtomicSet(ctx context.Context, chatID, userID string, fields map[string]interface{}) error {
	updates, err := normalizeSetFields(fields)
	if err != nil {
		return err
	}

	return s.update(ctx, func(txn *badger.Txn) error {
		p, err := getParticipant(txn, chatID, userID)
		if err != nil {
			return err
		}
		if v, ok := updates[chat.FieldUnreadCount]; ok {
			p.UnreadCount = v.(int64)
		}
		if v, ok := updates[chat.FieldLastReadAt]; ok {
			p.LastReadAt = v.(*time.Time)
		}
		p.UpdatedAt = s.now().UTC()
		return putParticipant(txn, p)
	})
}

func (s *BadgerParticipantStore) AddParticipants(ctx context.Context, chatID string, userIDs []string) error {
	if !validID(chatID) {
		return ErrInvalidID
	}
	userIDs = lo.Uniq(userIDs)
	for _, id := range userIDs {
		if !validID(id) {
			return ErrInvalidID
		}
	}
	if len(userIDs) == 0 {
		return nil
	}

	return s.update(ctx, func(txn *badger.Txn) error {
		now := s.now().UTC()

		if _, err := txn.Get(chatKey(chatID)); errors.Is(err, badger.ErrKeyNotFound) {
			data, err := json.Marshal(chat.Chat{ID: chatID, CreatedAt: now})
			if err != nil {
				return err
			}
			if err := txn.Set(chatKey(chatID), data); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		existing, err := listByPrefix(txn, participantPrefix(chatID))
		if err != nil {
			return err
		}
		known := lo.Map(existing, func(p chat.Participant, _ int) string { return p.UserID })

		next := 0
		for _, p := range existing {
			next = max(next, p.Position+1)
		}

		for _, userID := range lo.Without(userIDs, known...) {
			p := &chat.Participant{
				ID:        uuid.NewString(),
				ChatID:    chatID,
				UserID:    userID,
				Position:  next,
				JoinedAt:  now,
				UpdatedAt: now,
			}
			next++
			if err := putParticipant(txn, p); err != nil {
				return err
			}
			if err := txn.Set(userChatKey(userID, chatID), []byte{}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerParticipantStore) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger is closed")
	}
	return nil
}
