package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"readstate_backend/internal/logger"
	"readstate_backend/internal/middleware"
	"readstate_backend/pkg/apperrors"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: сверять Origin со списком из конфига, когда появится домен фронта
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type WebSocketHandler struct {
	Manager *WebSocketManager
	Reader  ReadMarker
}

func NewWebSocketHandler(manager *WebSocketManager, reader ReadMarker) *WebSocketHandler {
	return &WebSocketHandler{
		Manager: manager,
		Reader:  reader,
	}
}

// ServeWS ожидает, что AuthMiddleware уже положил Identity.
// ?url= - начальный адрес окна.
func (h *WebSocketHandler) ServeWS(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		apperrors.HandleError(c, apperrors.ErrUnauthenticated)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.CtxWarn(c.Request.Context(), "websocket upgrade error", "error", err)
		return
	}

	client := &Client{
		ID:       uuid.NewString(),
		UserID:   identity.UserID,
		Identity: identity,
		Conn:     conn,
		Send:     make(chan any, sendBuffer),
		// контекст запроса отменяется после возврата из хендлера
		Ctx:     context.WithoutCancel(c.Request.Context()),
		Manager: h.Manager,
		Reader:  h.Reader,
		url:     c.Query("url"),
	}

	if !h.Manager.registerClient(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	go client.readPump()
	go client.writePump()
}
