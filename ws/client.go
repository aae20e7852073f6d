package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"readstate_backend/internal/auth"
	"readstate_backend/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

type IncomingWSMessage struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// ReadMarker - часть unread.Engine, доступная из сокета
type ReadMarker interface {
	OnMarkRead(ctx context.Context, identity auth.Identity, chatID string) error
}

type Client struct {
	ID       string
	UserID   string
	Identity auth.Identity
	Conn     *websocket.Conn
	Send     chan any
	Ctx      context.Context

	Manager *WebSocketManager
	Reader  ReadMarker

	mu  sync.RWMutex
	url string
}

// URL - текущий адрес окна, о котором сообщил клиент
func (c *Client) URL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.url
}

func (c *Client) setURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.url = url
}

func (c *Client) readPump() {
	defer func() {
		c.Manager.unregisterClient(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msgBytes, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.CtxWarn(c.Ctx, "ws read error", "error", err)
			}
			break
		}

		var msg IncomingWSMessage
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			logger.CtxWarn(c.Ctx, "failed to parse ws message", "error", err)
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(msg); err != nil {
				logger.CtxWarn(c.Ctx, "ws write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Централизованный обработчик
func (c *Client) handleMessage(msg IncomingWSMessage) {
	switch msg.Action {

	case "location":
		var payload struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			logger.CtxWarn(c.Ctx, "invalid location payload", "error", err)
			return
		}
		c.setURL(payload.URL)

	case "mark_read":
		var payload struct {
			ChatID string `json:"chatId"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.ChatID == "" {
			logger.CtxWarn(c.Ctx, "invalid mark_read payload", "error", err)
			return
		}
		if c.Reader == nil {
			return
		}
		ctx := logger.WithChatID(c.Ctx, payload.ChatID)
		if err := c.Reader.OnMarkRead(ctx, c.Identity, payload.ChatID); err != nil {
			logger.CtxWarn(ctx, "ws mark_read failed", "error", err)
		}

	default:
		logger.CtxDebug(c.Ctx, "unhandled ws action", "action", msg.Action)
	}
}
