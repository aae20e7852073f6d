package unread

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"readstate_backend/internal/auth"
	"readstate_backend/internal/logger"
	"readstate_backend/internal/metrics"
	"readstate_backend/internal/models/chat"
	repoChat "readstate_backend/internal/repositories/chat"
	"readstate_backend/pkg/apperrors"
)

const defaultFanoutConcurrency = 8

// Observer получает уведомление после каждой успешной записи счетчика.
// Вызывается синхронно, реализация не должна блокировать.
type Observer interface {
	UnreadChanged(ctx context.Context, userID, chatID string)
}

// Engine - единственный писатель unread_count и last_read_at.
type Engine struct {
	store       repoChat.ParticipantStore
	observers   []Observer
	concurrency int
	now         func() time.Time
}

func NewEngine(store repoChat.ParticipantStore, concurrency int, observers ...Observer) *Engine {
	if concurrency <= 0 {
		concurrency = defaultFanoutConcurrency
	}
	return &Engine{
		store:       store,
		observers:   observers,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// FanoutError - fan-out прервался, но часть счетчиков уже записана.
// Incremented нужен вызывающему, чтобы повтор не посчитал их второй раз.
type FanoutError struct {
	Incremented []string
	Err         error
}

func (e *FanoutError) Error() string {
	return fmt.Sprintf("unread fan-out: %d counters written before failure: %v", len(e.Incremented), e.Err)
}

func (e *FanoutError) Unwrap() error { return e.Err }

// OnMessageSent увеличивает счетчик всем участникам, кроме отправителя,
// и возвращает их id в порядке участников. Отправитель может и не быть
// участником, тогда счетчик растет у всех. Получатели из skip уже учтены
// прошлой попыткой: в результат они входят, но счетчик у них не трогается.
func (e *Engine) OnMessageSent(ctx context.Context, chatID, senderID string, skip ...string) ([]string, error) {
	ctx = logger.WithChatID(ctx, chatID)

	participants, err := e.store.ListParticipants(ctx, chatID)
	if err != nil {
		return nil, storeError(err)
	}
	if len(participants) == 0 {
		return nil, apperrors.NotParticipant(chatID)
	}

	recipients := lo.Uniq(lo.FilterMap(participants, func(p chat.Participant, _ int) (string, bool) {
		return p.UserID, p.UserID != senderID
	}))
	pending := lo.Without(recipients, skip...)

	var (
		mu          sync.Mutex
		incremented []string
	)
	start := time.Now()
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for _, userID := range pending {
		userID := userID
		g.Go(func() error {
			if err := e.store.AtomicIncrement(ctx, chatID, userID, chat.FieldUnreadCount, 1); err != nil {
				metrics.CounterWrites.WithLabelValues("increment", "error").Inc()
				return fmt.Errorf("increment unread for %s: %w", userID, err)
			}
			metrics.CounterWrites.WithLabelValues("increment", "ok").Inc()
			mu.Lock()
			incremented = append(incremented, userID)
			mu.Unlock()
			e.notify(ctx, userID, chatID)
			return nil
		})
	}
	err = g.Wait()
	metrics.FanoutDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		logger.CtxError(ctx, "unread fan-out failed", "incremented", len(incremented), "error", err)
		return nil, storeError(&FanoutError{Incremented: incremented, Err: err})
	}

	logger.CtxDebug(ctx, "unread counters incremented", "recipients", len(pending), "skipped", len(recipients)-len(pending))
	return recipients, nil
}

// OnMarkRead обнуляет счетчик вызывающего и ставит last_read_at.
// Запись безусловная: гонка с OnMessageSent дает 0 или 1.
func (e *Engine) OnMarkRead(ctx context.Context, identity auth.Identity, chatID string) error {
	if _, err := e.requireParticipant(ctx, identity, chatID); err != nil {
		return err
	}

	err := e.store.AtomicSet(ctx, chatID, identity.UserID, map[string]interface{}{
		chat.FieldUnreadCount: 0,
		chat.FieldLastReadAt:  e.now().UTC(),
	})
	if err != nil {
		metrics.CounterWrites.WithLabelValues("reset", "error").Inc()
		if errors.Is(err, repoChat.ErrParticipantNotFound) {
			// участника удалили между проверкой и записью
			return apperrors.ErrChatAccessDenied
		}
		return storeError(err)
	}

	metrics.CounterWrites.WithLabelValues("reset", "ok").Inc()
	e.notify(ctx, identity.UserID, chatID)
	return nil
}

func (e *Engine) GetUnreadCount(ctx context.Context, identity auth.Identity, chatID string) (int64, error) {
	p, err := e.requireParticipant(ctx, identity, chatID)
	if err != nil {
		return 0, err
	}
	return p.UnreadCount, nil
}

// GetTotalUnreadCount - сумма по всем чатам пользователя. Значения читаются
// не одним снимком, между чатами возможен сдвиг.
func (e *Engine) GetTotalUnreadCount(ctx context.Context, identity auth.Identity) (int64, error) {
	if identity.UserID == "" {
		return 0, apperrors.ErrUnauthenticated
	}

	participations, err := e.store.ListUserParticipations(ctx, identity.UserID)
	if err != nil {
		return 0, storeError(err)
	}

	perChat := lo.UniqBy(participations, func(p chat.Participant) string { return p.ChatID })
	return lo.SumBy(perChat, func(p chat.Participant) int64 { return p.UnreadCount }), nil
}

// SyncParticipants добавляет участников (идемпотентно) и возвращает состав чата
func (e *Engine) SyncParticipants(ctx context.Context, chatID string, userIDs []string) ([]chat.Participant, error) {
	ctx = logger.WithChatID(ctx, chatID)
	if err := e.store.AddParticipants(ctx, chatID, userIDs); err != nil {
		if errors.Is(err, repoChat.ErrInvalidID) {
			return nil, apperrors.ValidationError(map[string]string{"user_ids": err.Error()})
		}
		return nil, storeError(err)
	}

	participants, err := e.store.ListParticipants(ctx, chatID)
	if err != nil {
		return nil, storeError(err)
	}
	logger.CtxInfo(ctx, "chat participants synced", "participants", len(participants))
	return participants, nil
}

// Ping проверяет доступность хранилища
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

func (e *Engine) requireParticipant(ctx context.Context, identity auth.Identity, chatID string) (*chat.Participant, error) {
	if identity.UserID == "" {
		return nil, apperrors.ErrUnauthenticated
	}

	p, err := e.store.GetParticipant(ctx, chatID, identity.UserID)
	if err != nil {
		if errors.Is(err, repoChat.ErrParticipantNotFound) {
			return nil, apperrors.ErrChatAccessDenied
		}
		return nil, storeError(err)
	}
	return p, nil
}

func (e *Engine) notify(ctx context.Context, userID, chatID string) {
	for _, o := range e.observers {
		o.UnreadChanged(ctx, userID, chatID)
	}
}

func storeError(err error) error {
	if _, ok := apperrors.AsAppError(err); ok {
		return err
	}
	return apperrors.InternalError(err)
}
