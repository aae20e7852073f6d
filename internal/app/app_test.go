package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"readstate_backend/internal/auth"
	"readstate_backend/internal/config"
	"readstate_backend/internal/middleware"
	"readstate_backend/internal/services/push"
	"readstate_backend/internal/services/push/mocks"
	"readstate_backend/test/testdb"
	"readstate_backend/ws"
)

const (
	testSecret = "app-secret"
	testKey    = "app-internal-key"
)

type testApp struct {
	srv      *httptest.Server
	c        *Container
	provider *mocks.MockProvider
	redis    *miniredis.Miniredis
}

func newTestApp(t *testing.T) *testApp {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.Server.Env = "test"
	cfg.Database.Driver = "sqlite"
	cfg.JWT.Secret = testSecret
	cfg.Internal.APIKey = testKey
	cfg.Push.MaxTokens = 2
	cfg.Redis.EventTTLSeconds = 3600
	cfg.Unread.FanoutConcurrency = 4

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	provider := mocks.NewMockProvider(gomock.NewController(t))

	ctx, cancel := context.WithCancel(context.Background())
	c, err := Build(ctx, cfg, Overrides{DB: testdb.New(t), Provider: provider, Redis: rc})
	require.NoError(t, err)
	go c.Hub.Run(ctx)

	srv := httptest.NewServer(SetupRouter(c))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		c.Close()
	})
	return &testApp{srv: srv, c: c, provider: provider, redis: mr}
}

func (a *testApp) call(t *testing.T, method, path string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func userHeaders(t *testing.T, userID string) map[string]string {
	tok, err := auth.GenerateToken(testSecret, userID, auth.RoleUser, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok}
}

func internalHeaders() map[string]string {
	return map[string]string{middleware.InternalKeyHeader: testKey}
}

func acceptAll(_ context.Context, _ push.Payload, tokens []string) (*push.MulticastResult, error) {
	res := &push.MulticastResult{Responses: make([]push.TokenResponse, len(tokens))}
	for i := range tokens {
		res.Responses[i].Success = true
	}
	return res, nil
}

func TestApp_MessageLifecycle(t *testing.T) {
	a := newTestApp(t)

	status, _ := a.call(t, http.MethodPut, "/api/v1/internal/chats/C1/participants",
		map[string]any{"user_ids": []string{"alice", "bob", "carol"}}, internalHeaders())
	require.Equal(t, http.StatusOK, status)

	for _, d := range []struct{ user, token string }{
		{"bob", "bob-web"}, {"bob", "bob-phone"}, {"carol", "carol-web"}, {"alice", "alice-web"},
	} {
		status, body := a.call(t, http.MethodPost, "/api/v1/devices",
			map[string]any{"token": d.token, "platform": "web"}, userHeaders(t, d.user))
		require.Equal(t, http.StatusCreated, status, body)
	}

	// 3 токена при max_tokens=2 -> два multicast
	var sent []string
	a.provider.EXPECT().SendMulticast(gomock.Any(), gomock.Any(), gomock.Any()).Times(2).DoAndReturn(
		func(ctx context.Context, p push.Payload, tokens []string) (*push.MulticastResult, error) {
			assert.Equal(t, "C1", p.Tag)
			assert.Equal(t, "Alice", p.Title)
			sent = append(sent, tokens...)
			return acceptAll(ctx, p, tokens)
		})

	msg := map[string]any{"message_id": "m-1", "sender_id": "alice", "sender_name": "Alice", "preview": "hi"}
	status, body := a.call(t, http.MethodPost, "/api/v1/internal/chats/C1/messages", msg, internalHeaders())
	require.Equal(t, http.StatusOK, status, body)
	assert.ElementsMatch(t, []string{"bob-web", "bob-phone", "carol-web"}, sent)

	// повтор того же события не трогает счетчики и не шлет push
	status, body = a.call(t, http.MethodPost, "/api/v1/internal/chats/C1/messages", msg, internalHeaders())
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["report"].(map[string]any)["duplicate"])

	status, body = a.call(t, http.MethodGet, "/api/v1/chats/C1/unread-count", nil, userHeaders(t, "bob"))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["unreadCount"])

	status, body = a.call(t, http.MethodGet, "/api/v1/chats/C1/unread-count", nil, userHeaders(t, "alice"))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), body["unreadCount"])

	status, _ = a.call(t, http.MethodPost, "/api/v1/chats/C1/read", nil, userHeaders(t, "bob"))
	require.Equal(t, http.StatusOK, status)

	status, body = a.call(t, http.MethodGet, "/api/v1/chats/unread-count/total", nil, userHeaders(t, "bob"))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), body["totalUnread"])

	status, body = a.call(t, http.MethodGet, "/api/v1/chats/C1/unread-count", nil, userHeaders(t, "mallory"))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, false, body["success"])
}

func TestApp_WebSocketReceivesUnreadChanges(t *testing.T) {
	a := newTestApp(t)

	status, _ := a.call(t, http.MethodPut, "/api/v1/internal/chats/C7/participants",
		map[string]any{"user_ids": []string{"alice", "bob"}}, internalHeaders())
	require.Equal(t, http.StatusOK, status)

	tok := userHeaders(t, "bob")["Authorization"][len("Bearer "):]
	wsURL := "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/ws?access_token=" + tok + "&url=/messages/C7"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return a.c.Hub.IsUserConnected("bob") }, 2*time.Second, 10*time.Millisecond)

	// у bob нет токенов - рассылки нет, но счетчик и событие есть
	status, body := a.call(t, http.MethodPost, "/api/v1/internal/chats/C7/messages",
		map[string]any{"message_id": "m-7", "sender_id": "alice"}, internalHeaders())
	require.Equal(t, http.StatusOK, status, body)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev ws.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, ws.EventUnreadChanged, ev.Type)
	assert.Equal(t, "C7", ev.Data.(map[string]any)["chatId"])
}

func TestApp_HealthAndMetrics(t *testing.T) {
	a := newTestApp(t)

	status, body := a.call(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	resp, err := http.Get(a.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDeviceDBTarget(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Driver = "postgres"
	cfg.Database.DSN = "postgres://localhost/readstate"
	driver, dsn := DeviceDBTarget(cfg)
	assert.Equal(t, "postgres", driver)
	assert.Equal(t, cfg.Database.DSN, dsn)

	cfg = &config.Config{}
	cfg.Database.Driver = "badger"
	cfg.Database.BadgerPath = "/var/lib/readstate/kv"
	driver, dsn = DeviceDBTarget(cfg)
	assert.Equal(t, "sqlite", driver)
	assert.Equal(t, "/var/lib/readstate/kv.devices.db", dsn)
}
