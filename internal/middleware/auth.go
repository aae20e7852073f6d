package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"readstate_backend/internal/auth"
	"readstate_backend/internal/logger"
	"readstate_backend/pkg/apperrors"
	"readstate_backend/pkg/contextkeys"
)

const InternalKeyHeader = "X-Internal-Key"

// AuthMiddleware проверяет bearer-токен и кладет auth.Identity в gin-контекст.
// Браузер не умеет ставить заголовки на websocket, поэтому для upgrade-запросов
// токен можно передать в ?access_token=.
func AuthMiddleware(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearer := bearerFrom(c)
		if bearer == "" {
			apperrors.HandleError(c, apperrors.ErrUnauthenticated)
			return
		}

		identity, err := verifier.Verify(c.Request.Context(), bearer)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}

		c.Set(contextkeys.IdentityKey.String(), identity)
		c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), identity.UserID))
		c.Next()
	}
}

func bearerFrom(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if websocket.IsWebSocketUpgrade(c.Request) {
		return c.Query("access_token")
	}
	return ""
}

// RequirePermission - доступ по разрешению роли
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := GetIdentity(c)
		if !ok {
			apperrors.HandleError(c, apperrors.ErrUnauthenticated)
			return
		}
		if !identity.Can(permission) {
			apperrors.HandleError(c, apperrors.NewForbiddenError("Insufficient permissions"))
			return
		}
		c.Next()
	}
}

// InternalKeyMiddleware защищает внутренние хуки чат-сервиса.
// Пустой ключ в конфиге закрывает их полностью.
func InternalKeyMiddleware(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(InternalKeyHeader)
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			apperrors.HandleError(c, apperrors.NewForbiddenError("Invalid internal key"))
			return
		}
		c.Next()
	}
}

// GetIdentity извлекает Identity из контекста
func GetIdentity(c *gin.Context) (auth.Identity, bool) {
	v, exists := c.Get(contextkeys.IdentityKey.String())
	if !exists {
		return auth.Identity{}, false
	}
	identity, ok := v.(auth.Identity)
	if !ok || identity.UserID == "" {
		return auth.Identity{}, false
	}
	return identity, true
}
