package ws

import (
	"context"
	"sync"

	"github.com/samber/lo"

	"readstate_backend/internal/clientnotify"
	"readstate_backend/internal/logger"
	"readstate_backend/internal/metrics"
)

const (
	EventUnreadChanged = "unread_changed"
	EventFocus         = "focus"
)

// Event - исходящее сообщение клиенту
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// WebSocketManager держит открытые окна клиента (views) по пользователям.
// Порядок views пользователя - порядок подключения.
type WebSocketManager struct {
	clients    map[string][]*Client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewWebSocketManager() *WebSocketManager {
	return &WebSocketManager{
		clients:    make(map[string][]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

func (manager *WebSocketManager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(manager.done)
			manager.closeAll()
			return

		case client := <-manager.register:
			manager.mu.Lock()
			manager.clients[client.UserID] = append(manager.clients[client.UserID], client)
			total := manager.countLocked()
			manager.mu.Unlock()
			metrics.WSConnections.Inc()
			logger.Debug("ws client registered", "user_id", client.UserID, "client_id", client.ID, "total", total)

		case client := <-manager.unregister:
			manager.mu.Lock()
			views := manager.clients[client.UserID]
			if lo.Contains(views, client) {
				close(client.Send)
				views = lo.Without(views, client)
				if len(views) == 0 {
					delete(manager.clients, client.UserID)
				} else {
					manager.clients[client.UserID] = views
				}
				metrics.WSConnections.Dec()
			}
			total := manager.countLocked()
			manager.mu.Unlock()
			logger.Debug("ws client unregistered", "user_id", client.UserID, "client_id", client.ID, "total", total)
		}
	}
}

// registerClient возвращает false, если менеджер уже остановлен
func (manager *WebSocketManager) registerClient(client *Client) bool {
	select {
	case manager.register <- client:
		return true
	case <-manager.done:
		return false
	}
}

func (manager *WebSocketManager) unregisterClient(client *Client) {
	select {
	case manager.unregister <- client:
	case <-manager.done:
	}
}

func (manager *WebSocketManager) closeAll() {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	for userID, views := range manager.clients {
		for _, client := range views {
			close(client.Send)
			metrics.WSConnections.Dec()
		}
		delete(manager.clients, userID)
	}
}

func (manager *WebSocketManager) countLocked() int {
	return lo.SumBy(lo.Values(manager.clients), func(v []*Client) int { return len(v) })
}

// UnreadChanged - наблюдатель unread.Engine. Не блокирует.
func (manager *WebSocketManager) UnreadChanged(_ context.Context, userID, chatID string) {
	manager.SendToUser(userID, Event{
		Type: EventUnreadChanged,
		Data: map[string]string{"chatId": chatID},
	})
}

// SendToUser отправляет событие во все окна пользователя
func (manager *WebSocketManager) SendToUser(userID string, event Event) int {
	manager.mu.RLock()
	defer manager.mu.RUnlock()

	sent := 0
	for _, client := range manager.clients[userID] {
		if manager.trySend(client, event) {
			sent++
		}
	}
	return sent
}

// trySend вызывается под RLock. Переполненный клиент отключается.
func (manager *WebSocketManager) trySend(client *Client, event Event) bool {
	select {
	case client.Send <- event:
		return true
	default:
		go manager.unregisterClient(client)
		logger.Warn("ws client disconnected due to full send channel", "client_id", client.ID)
		return false
	}
}

// Views - открытые окна пользователя в порядке подключения
func (manager *WebSocketManager) Views(userID string) []clientnotify.View {
	manager.mu.RLock()
	defer manager.mu.RUnlock()

	return lo.Map(manager.clients[userID], func(c *Client, _ int) clientnotify.View {
		return clientnotify.View{ID: c.ID, URL: c.URL()}
	})
}

// Focus просит окно viewID выйти на передний план
func (manager *WebSocketManager) Focus(userID, viewID, url string) bool {
	manager.mu.RLock()
	defer manager.mu.RUnlock()

	client, ok := lo.Find(manager.clients[userID], func(c *Client) bool { return c.ID == viewID })
	if !ok {
		return false
	}
	return manager.trySend(client, Event{Type: EventFocus, Data: map[string]string{"url": url}})
}

// GetClientCount возвращает количество открытых окон
func (manager *WebSocketManager) GetClientCount() int {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	return manager.countLocked()
}

// IsUserConnected - есть ли у пользователя хоть одно окно
func (manager *WebSocketManager) IsUserConnected(userID string) bool {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	return len(manager.clients[userID]) > 0
}
