package handlers

import (
	"context"
	"errors"
	"net/http"

	"readstate_backend/internal/auth"
	"readstate_backend/internal/clientnotify"
	"readstate_backend/internal/dto"
	"readstate_backend/internal/logger"
	"readstate_backend/internal/middleware"
	"readstate_backend/internal/services/push"
	"readstate_backend/pkg/apperrors"

	"github.com/gin-gonic/gin"
)

type NotificationSender interface {
	Dispatch(ctx context.Context, n push.Notification, tokens []string) (*push.DispatchResult, error)
}

// ViewRegistry - открытые окна пользователя (websocket hub)
type ViewRegistry interface {
	Views(userID string) []clientnotify.View
	Focus(userID, viewID, url string) bool
}

type NotificationHandler struct {
	*BaseHandler
	sender NotificationSender
	views  ViewRegistry
	auth   gin.HandlerFunc
}

func NewNotificationHandler(base *BaseHandler, sender NotificationSender, views ViewRegistry, authMiddleware gin.HandlerFunc) *NotificationHandler {
	return &NotificationHandler{
		BaseHandler: base,
		sender:      sender,
		views:       views,
		auth:        authMiddleware,
	}
}

func (h *NotificationHandler) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications")
	notifications.Use(h.auth)
	{
		notifications.POST("/send", middleware.RequirePermission(auth.PermNotificationsSend), h.Send)
		notifications.POST("/interactions", middleware.RequirePermission(auth.PermNotificationsClick), h.Interact)
	}
}

// Send
// @Summary Рассылка уведомления на токены устройств
// @Tags Notifications
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body dto.SendNotificationInput true "Уведомление и токены"
// @Success 200 {object} dto.SendNotificationResponse
// @Failure 400 {object} apperrors.ErrorResponse
// @Failure 500 {object} apperrors.ErrorResponse
// @Router /notifications/send [post]
func (h *NotificationHandler) Send(c *gin.Context) {
	var req dto.SendNotificationInput
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	res, err := h.sender.Dispatch(c.Request.Context(), req.Notification, req.Tokens)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SendNotificationResponse{
		Success:      true,
		SuccessCount: res.SuccessCount,
		FailureCount: res.FailureCount,
		Results:      res.Results,
	})
}

// Interact обрабатывает клик/закрытие/кнопку на показанном уведомлении.
// При активации фокусирует уже открытое окно с нужным адресом или
// сообщает клиенту открыть новое.
// @Router /notifications/interactions [post]
func (h *NotificationHandler) Interact(c *gin.Context) {
	identity, ok := h.GetIdentity(c)
	if !ok {
		return
	}

	var req dto.InteractionInput
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	n := clientnotify.NewDelivered(clientnotify.Render(req.Notification.Title, req.Notification.Body, req.Notification.Data))
	decision, err := n.Handle(req.Interaction, h.views.Views(identity.UserID))
	if err != nil {
		if errors.Is(err, clientnotify.ErrUnknownAction) || errors.Is(err, clientnotify.ErrUnknownInteraction) {
			apperrors.HandleError(c, apperrors.ValidationError(map[string]string{"interaction": err.Error()}))
			return
		}
		h.HandleServiceError(c, err)
		return
	}

	focused := false
	if decision.Kind == clientnotify.DecisionFocus {
		focused = h.views.Focus(identity.UserID, decision.ViewID, decision.URL)
		if !focused {
			logger.CtxWarn(c.Request.Context(), "view disappeared before focus", "view_id", decision.ViewID)
		}
	}

	c.JSON(http.StatusOK, dto.InteractionResponse{
		Success:  true,
		State:    n.State(),
		Decision: decision,
		Focused:  focused,
	})
}
