package push

import (
	"context"
	"log/slog"
)

// LoggingProvider пишет уведомление в лог и считает каждый токен доставленным.
// Используется, когда не настроены креды FCM.
type LoggingProvider struct {
	logger *slog.Logger
}

func NewLoggingProvider(logger *slog.Logger) *LoggingProvider {
	return &LoggingProvider{logger: logger.With("component", "LoggingPushProvider")}
}

func (p *LoggingProvider) SendMulticast(ctx context.Context, payload Payload, tokens []string) (*MulticastResult, error) {
	p.logger.InfoContext(ctx, "dispatching notification",
		"token_count", len(tokens),
		"title", payload.Title,
		"tag", payload.Tag,
		"link", payload.Link,
		"data", payload.Data,
	)

	res := &MulticastResult{Responses: make([]TokenResponse, len(tokens))}
	for i := range res.Responses {
		res.Responses[i].Success = true
	}
	return res, nil
}
