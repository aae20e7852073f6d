package handlers

import (
	"context"
	"net/http"

	"readstate_backend/internal/auth"
	"readstate_backend/internal/dto"
	"readstate_backend/internal/middleware"

	"github.com/gin-gonic/gin"
)

// UnreadService - операции unread.Engine, доступные через HTTP
type UnreadService interface {
	GetUnreadCount(ctx context.Context, identity auth.Identity, chatID string) (int64, error)
	GetTotalUnreadCount(ctx context.Context, identity auth.Identity) (int64, error)
	OnMarkRead(ctx context.Context, identity auth.Identity, chatID string) error
}

type UnreadHandler struct {
	*BaseHandler
	unread UnreadService
	auth   gin.HandlerFunc
}

func NewUnreadHandler(base *BaseHandler, unread UnreadService, authMiddleware gin.HandlerFunc) *UnreadHandler {
	return &UnreadHandler{
		BaseHandler: base,
		unread:      unread,
		auth:        authMiddleware,
	}
}

func (h *UnreadHandler) RegisterRoutes(r *gin.RouterGroup) {
	chats := r.Group("/chats")
	chats.Use(h.auth)
	{
		chats.GET("/unread-count/total", middleware.RequirePermission(auth.PermChatsRead), h.GetTotalUnreadCount)
		chats.GET("/:chatId/unread-count", middleware.RequirePermission(auth.PermChatsRead), h.GetUnreadCount)
		chats.POST("/:chatId/read", middleware.RequirePermission(auth.PermChatsWrite), h.MarkAsRead)
	}
}

// GetUnreadCount
// @Summary Непрочитанные в чате
// @Tags Chats
// @Security BearerAuth
// @Produce json
// @Param chatId path string true "ID чата"
// @Success 200 {object} dto.UnreadCountResponse
// @Failure 403 {object} apperrors.ErrorResponse
// @Router /chats/{chatId}/unread-count [get]
func (h *UnreadHandler) GetUnreadCount(c *gin.Context) {
	identity, ok := h.GetIdentity(c)
	if !ok {
		return
	}
	chatID, ok := h.ChatIDParam(c)
	if !ok {
		return
	}

	count, err := h.unread.GetUnreadCount(c.Request.Context(), identity, chatID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.UnreadCountResponse{Success: true, UnreadCount: count})
}

// GetTotalUnreadCount
// @Summary Сумма непрочитанных по всем чатам
// @Tags Chats
// @Security BearerAuth
// @Produce json
// @Success 200 {object} dto.TotalUnreadResponse
// @Router /chats/unread-count/total [get]
func (h *UnreadHandler) GetTotalUnreadCount(c *gin.Context) {
	identity, ok := h.GetIdentity(c)
	if !ok {
		return
	}

	total, err := h.unread.GetTotalUnreadCount(c.Request.Context(), identity)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.TotalUnreadResponse{Success: true, TotalUnread: total})
}

// MarkAsRead
// @Summary Отметить чат прочитанным
// @Tags Chats
// @Security BearerAuth
// @Produce json
// @Param chatId path string true "ID чата"
// @Success 200 {object} dto.SuccessResponse
// @Failure 401 {object} apperrors.ErrorResponse
// @Failure 403 {object} apperrors.ErrorResponse
// @Router /chats/{chatId}/read [post]
func (h *UnreadHandler) MarkAsRead(c *gin.Context) {
	identity, ok := h.GetIdentity(c)
	if !ok {
		return
	}
	chatID, ok := h.ChatIDParam(c)
	if !ok {
		return
	}

	if err := h.unread.OnMarkRead(c.Request.Context(), identity, chatID); err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true})
}
