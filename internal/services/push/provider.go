//go:generate go run go.uber.org/mock/mockgen -source=provider.go -destination=mocks/mock_provider.go -package=mocks
package push

import (
	"context"
	"errors"
)

// ErrProviderUnavailable - сбой провайдера целиком (сеть, авторизация, квоты)
var ErrProviderUnavailable = errors.New("push provider unavailable")

// TokenResponse - ответ провайдера по одному токену, в порядке входных токенов
type TokenResponse struct {
	Success bool
	Reason  string
}

type MulticastResult struct {
	Responses []TokenResponse
}

// Provider отправляет один multicast. Ошибка означает, что не доставлено
// ничего; отказы по отдельным токенам возвращаются в MulticastResult.
type Provider interface {
	SendMulticast(ctx context.Context, payload Payload, tokens []string) (*MulticastResult, error)
}
