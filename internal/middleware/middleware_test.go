package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readstate_backend/internal/auth"
)

const secret = "mw-secret"

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RecoveryMiddleware(), RequestIDMiddleware())

	protected := r.Group("/", AuthMiddleware(auth.NewJWTVerifier(secret)))
	protected.GET("/me", func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": id.UserID})
	})
	protected.GET("/send", RequirePermission(auth.PermChatsRead), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	r.POST("/internal", InternalKeyMiddleware("k1"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func do(r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func token(t *testing.T, userID, role string) string {
	tok, err := auth.GenerateToken(secret, userID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestAuthMiddleware(t *testing.T) {
	r := newRouter()

	w := do(r, http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"UNAUTHORIZED"`)

	w = do(r, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer junk"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer " + token(t, "u1", auth.RoleUser)})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":"u1"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestAuthMiddleware_QueryTokenOnlyForWebsocket(t *testing.T) {
	r := newRouter()
	tok := token(t, "u1", auth.RoleUser)

	w := do(r, http.MethodGet, "/me?access_token="+tok, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/me?access_token="+tok, map[string]string{
		"Connection": "Upgrade",
		"Upgrade":    "websocket",
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequirePermission(t *testing.T) {
	r := newRouter()

	w := do(r, http.MethodGet, "/send", map[string]string{"Authorization": "Bearer " + token(t, "svc", auth.RoleService)})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodGet, "/send", map[string]string{"Authorization": "Bearer " + token(t, "u1", auth.RoleUser)})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestInternalKeyMiddleware(t *testing.T) {
	r := newRouter()

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/internal", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/internal", map[string]string{InternalKeyHeader: "nope"}).Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/internal", map[string]string{InternalKeyHeader: "k1"}).Code)
}

func TestRecoveryAndRequestID(t *testing.T) {
	r := newRouter()

	w := do(r, http.MethodGet, "/panic", map[string]string{RequestIDHeader: "req-42"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"INTERNAL_ERROR"`)
	assert.NotContains(t, w.Body.String(), "boom")
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
}
