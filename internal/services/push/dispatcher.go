package push

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"readstate_backend/internal/logger"
	"readstate_backend/internal/metrics"
	"readstate_backend/pkg/apperrors"
)

const (
	DefaultMaxTokens = 500

	DefaultTag  = "default"
	DefaultLink = "/messages"

	ActionOpen  = "open"
	ActionClose = "close"

	ReasonInvalidToken = "invalid-token"
	ReasonRejected     = "rejected"
)

// Notification - то, что просит отправить вызывающий
type Notification struct {
	Title string            `json:"title" validate:"required"`
	Body  string            `json:"body" validate:"required"`
	Data  map[string]string `json:"data,omitempty"`
}

type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Payload - то, что уходит провайдеру. Tag группирует уведомления одного
// чата на клиенте, Link - куда вести по клику.
type Payload struct {
	Title    string
	Body     string
	Data     map[string]string
	Tag      string
	Link     string
	Renotify bool
	Actions  []Action
}

type TokenResult struct {
	Token     string `json:"token"`
	Delivered bool   `json:"delivered"`
	Reason    string `json:"reason,omitempty"`
}

type DispatchResult struct {
	SuccessCount int           `json:"successCount"`
	FailureCount int           `json:"failureCount"`
	Results      []TokenResult `json:"results"`
}

// FailedTokens - токены, которые провайдер не принял. Удалять их или нет,
// решает вызывающий.
func (r *DispatchResult) FailedTokens() []string {
	return lo.FilterMap(r.Results, func(tr TokenResult, _ int) (string, bool) {
		return tr.Token, !tr.Delivered
	})
}

// Merge добавляет результат следующей пачки
func (r *DispatchResult) Merge(other *DispatchResult) {
	if other == nil {
		return
	}
	r.SuccessCount += other.SuccessCount
	r.FailureCount += other.FailureCount
	r.Results = append(r.Results, other.Results...)
}

type Dispatcher struct {
	provider  Provider
	maxTokens int
}

func NewDispatcher(provider Provider, maxTokens int) *Dispatcher {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Dispatcher{provider: provider, maxTokens: maxTokens}
}

func (d *Dispatcher) MaxTokens() int {
	return d.maxTokens
}

// BuildPayload собирает payload с тегом чата и ссылкой перехода
func BuildPayload(n Notification) Payload {
	data := lo.Assign(map[string]string{}, n.Data)
	return Payload{
		Title:    n.Title,
		Body:     n.Body,
		Data:     data,
		Tag:      lo.CoalesceOrEmpty(data["chatId"], DefaultTag),
		Link:     lo.CoalesceOrEmpty(data["url"], DefaultLink),
		Renotify: true,
		Actions: []Action{
			{Action: ActionOpen, Title: "Open"},
			{Action: ActionClose, Title: "Close"},
		},
	}
}

// Dispatch отправляет уведомление на набор токенов одним вызовом провайдера.
// Частичный отказ ошибкой не считается.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification, tokens []string) (*DispatchResult, error) {
	if strings.TrimSpace(n.Title) == "" || strings.TrimSpace(n.Body) == "" {
		return nil, apperrors.ErrInvalidNotification
	}
	if len(tokens) == 0 {
		return nil, apperrors.ErrEmptyTokens
	}
	if lo.ContainsBy(tokens, func(t string) bool { return strings.TrimSpace(t) == "" }) {
		return nil, apperrors.ValidationError(map[string]string{"tokens": "must not contain blank tokens"})
	}

	tokens = lo.Uniq(tokens)
	if len(tokens) > d.maxTokens {
		return nil, apperrors.ErrTooManyTokens.WithDetails(map[string]int{"max": d.maxTokens, "got": len(tokens)})
	}

	payload := BuildPayload(n)
	res, err := d.provider.SendMulticast(ctx, payload, tokens)
	if err != nil {
		metrics.DispatchErrors.Inc()
		logger.CtxError(ctx, "push multicast failed", "tokens", len(tokens), "error", err)
		return nil, apperrors.DispatchUnavailable(err)
	}
	if res == nil || len(res.Responses) != len(tokens) {
		metrics.DispatchErrors.Inc()
		got := 0
		if res != nil {
			got = len(res.Responses)
		}
		return nil, apperrors.DispatchUnavailable(
			fmt.Errorf("%w: provider returned %d responses for %d tokens", ErrProviderUnavailable, got, len(tokens)),
		)
	}

	result := &DispatchResult{Results: make([]TokenResult, 0, len(tokens))}
	for i, resp := range res.Responses {
		tr := TokenResult{Token: tokens[i], Delivered: resp.Success}
		if resp.Success {
			result.SuccessCount++
		} else {
			result.FailureCount++
			tr.Reason = lo.CoalesceOrEmpty(resp.Reason, ReasonRejected)
		}
		result.Results = append(result.Results, tr)
	}

	metrics.DispatchTokens.WithLabelValues("delivered").Add(float64(result.SuccessCount))
	metrics.DispatchTokens.WithLabelValues("failed").Add(float64(result.FailureCount))

	if result.FailureCount > 0 {
		logger.CtxWarn(ctx, "push multicast partially failed",
			"success", result.SuccessCount,
			"failure", result.FailureCount,
		)
	}
	return result, nil
}

// IsUnavailable - ошибка уровня провайдера
func IsUnavailable(err error) bool {
	return errors.Is(err, apperrors.ErrDispatchUnavailable)
}
