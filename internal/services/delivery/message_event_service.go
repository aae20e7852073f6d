package delivery

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"

	"readstate_backend/internal/logger"
	"readstate_backend/internal/metrics"
	"readstate_backend/internal/models/chat"
	"readstate_backend/internal/services/push"
	"readstate_backend/internal/services/unread"
	"readstate_backend/internal/validator"
	"readstate_backend/pkg/apperrors"
)

const (
	defaultTitle   = "New message"
	defaultBody    = "You have a new message"
	maxPreviewRune = 140
)

// UnreadCounter - часть unread.Engine, нужная пайплайну
type UnreadCounter interface {
	// skip - получатели, уже учтенные прошлой попыткой
	OnMessageSent(ctx context.Context, chatID, senderID string, skip ...string) ([]string, error)
}

type TokenResolver interface {
	ResolveTokens(ctx context.Context, userID string) ([]string, error)
}

type Sender interface {
	Dispatch(ctx context.Context, n push.Notification, tokens []string) (*push.DispatchResult, error)
	MaxTokens() int
}

type Report struct {
	MessageID    string   `json:"messageId"`
	Duplicate    bool     `json:"duplicate"`
	Recipients   []string `json:"recipients"`
	Tokens       int      `json:"tokens"`
	SuccessCount int      `json:"successCount"`
	FailureCount int      `json:"failureCount"`
	FailedTokens []string `json:"failedTokens,omitempty"`
}

type MessageEventService struct {
	counter   UnreadCounter
	tokens    TokenResolver
	sender    Sender
	guard     IdempotencyGuard
	validator *validator.Validator
}

func NewMessageEventService(counter UnreadCounter, tokens TokenResolver, sender Sender, guard IdempotencyGuard, v *validator.Validator) *MessageEventService {
	if guard == nil {
		guard = NoopGuard{}
	}
	return &MessageEventService{
		counter:   counter,
		tokens:    tokens,
		sender:    sender,
		guard:     guard,
		validator: v,
	}
}

// HandleMessageSent: счетчики -> токены получателей -> рассылка.
// Ошибка рассылки возвращается вместе с отчетом уже после записи счетчиков,
// повтор - на стороне вызывающего.
func (s *MessageEventService) HandleMessageSent(ctx context.Context, ev chat.MessageEvent) (*Report, error) {
	if err := s.validator.Validate(&ev); err != nil {
		var vErr *validator.ValidationError
		if errors.As(err, &vErr) {
			return nil, apperrors.ValidationError(vErr.Errors)
		}
		return nil, apperrors.InternalError(err)
	}

	ctx = logger.WithChatID(ctx, ev.ChatID)
	report := &Report{MessageID: ev.MessageID, Recipients: []string{}}

	acquired, err := s.guard.Acquire(ctx, ev.MessageID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeExternalServiceError, "delivery",
			"Idempotency store unavailable", http.StatusInternalServerError)
	}
	if !acquired {
		metrics.DuplicateEvents.Inc()
		logger.CtxInfo(ctx, "duplicate message event skipped", "message_id", ev.MessageID)
		report.Duplicate = true
		return report, nil
	}

	applied, err := s.guard.Applied(ctx, ev.MessageID)
	if err != nil {
		s.release(ctx, ev.MessageID)
		return nil, apperrors.Wrap(err, apperrors.CodeExternalServiceError, "delivery",
			"Idempotency store unavailable", http.StatusInternalServerError)
	}

	recipients, err := s.counter.OnMessageSent(ctx, ev.ChatID, ev.SenderID, applied...)
	if err != nil {
		s.recordProgress(ctx, ev.MessageID, err)
		return nil, err
	}
	report.Recipients = recipients

	tokens := s.resolveTokens(ctx, recipients)
	report.Tokens = len(tokens)
	if len(tokens) == 0 {
		logger.CtxDebug(ctx, "no device tokens for recipients", "message_id", ev.MessageID)
		return report, nil
	}

	notification := buildNotification(ev)
	total := &push.DispatchResult{}
	for _, chunk := range lo.Chunk(tokens, s.sender.MaxTokens()) {
		res, err := s.sender.Dispatch(ctx, notification, chunk)
		if err != nil {
			fillReport(report, total)
			return report, err
		}
		total.Merge(res)
	}

	fillReport(report, total)
	logger.CtxInfo(ctx, "message event delivered",
		"message_id", ev.MessageID,
		"recipients", len(recipients),
		"success", report.SuccessCount,
		"failure", report.FailureCount,
	)
	return report, nil
}

// recordProgress сохраняет уже записанные счетчики и отпускает ключ,
// чтобы повтор дописал только остальных. Если прогресс не сохранился,
// ключ остается занятым до TTL: повтор посчитал бы их второй раз.
func (s *MessageEventService) recordProgress(ctx context.Context, messageID string, err error) {
	var fanErr *unread.FanoutError
	if errors.As(err, &fanErr) && len(fanErr.Incremented) > 0 {
		if markErr := s.guard.MarkApplied(ctx, messageID, fanErr.Incremented); markErr != nil {
			logger.CtxError(ctx, "failed to record fan-out progress, event stays locked",
				"message_id", messageID,
				"incremented", fanErr.Incremented,
				"error", markErr,
			)
			return
		}
	}
	s.release(ctx, messageID)
}

func (s *MessageEventService) release(ctx context.Context, messageID string) {
	if err := s.guard.Release(ctx, messageID); err != nil {
		logger.CtxWarn(ctx, "failed to release idempotency key", "message_id", messageID, "error", err)
	}
}

// resolveTokens - объединение токенов получателей без повторов.
// Сбой по одному получателю не останавливает рассылку остальным.
func (s *MessageEventService) resolveTokens(ctx context.Context, recipients []string) []string {
	var all []string
	for _, userID := range recipients {
		tokens, err := s.tokens.ResolveTokens(ctx, userID)
		if err != nil {
			logger.CtxWarn(ctx, "failed to resolve device tokens", "recipient", userID, "error", err)
			continue
		}
		all = append(all, tokens...)
	}
	return lo.Uniq(lo.Compact(all))
}

func buildNotification(ev chat.MessageEvent) push.Notification {
	return push.Notification{
		Title: lo.CoalesceOrEmpty(strings.TrimSpace(ev.SenderName), defaultTitle),
		Body:  lo.CoalesceOrEmpty(truncate(strings.TrimSpace(ev.Preview), maxPreviewRune), defaultBody),
		Data: map[string]string{
			"chatId":    ev.ChatID,
			"messageId": ev.MessageID,
			"url":       "/messages/" + ev.ChatID,
		},
	}
}

func fillReport(report *Report, res *push.DispatchResult) {
	report.SuccessCount = res.SuccessCount
	report.FailureCount = res.FailureCount
	report.FailedTokens = res.FailedTokens()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
