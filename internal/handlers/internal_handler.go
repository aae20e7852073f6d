package handlers

import (
	"context"
	"net/http"

	"readstate_backend/internal/dto"
	"readstate_backend/internal/models/chat"
	"readstate_backend/internal/services/delivery"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

type MessageEventHandler interface {
	HandleMessageSent(ctx context.Context, ev chat.MessageEvent) (*delivery.Report, error)
}

type ParticipantSyncer interface {
	SyncParticipants(ctx context.Context, chatID string, userIDs []string) ([]chat.Participant, error)
}

// InternalHandler - хуки чат-сервиса, закрыты X-Internal-Key
type InternalHandler struct {
	*BaseHandler
	events MessageEventHandler
	syncer ParticipantSyncer
	guard  gin.HandlerFunc
}

func NewInternalHandler(base *BaseHandler, events MessageEventHandler, syncer ParticipantSyncer, internalKey gin.HandlerFunc) *InternalHandler {
	return &InternalHandler{
		BaseHandler: base,
		events:      events,
		syncer:      syncer,
		guard:       internalKey,
	}
}

func (h *InternalHandler) RegisterRoutes(r *gin.RouterGroup) {
	internal := r.Group("/internal")
	internal.Use(h.guard)
	{
		internal.POST("/chats/:chatId/messages", h.MessageSent)
		internal.PUT("/chats/:chatId/participants", h.SyncParticipants)
	}
}

// MessageSent: счетчики и рассылка по событию "сообщение отправлено".
// Повтор того же message_id возвращает duplicate=true без побочных эффектов.
func (h *InternalHandler) MessageSent(c *gin.Context) {
	chatID, ok := h.ChatIDParam(c)
	if !ok {
		return
	}

	var req dto.MessageSentInput
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	report, err := h.events.HandleMessageSent(c.Request.Context(), chat.MessageEvent{
		MessageID:  req.MessageID,
		ChatID:     chatID,
		SenderID:   req.SenderID,
		SenderName: req.SenderName,
		Preview:    req.Preview,
	})
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}

func (h *InternalHandler) SyncParticipants(c *gin.Context) {
	chatID, ok := h.ChatIDParam(c)
	if !ok {
		return
	}

	var req dto.SyncParticipantsInput
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	participants, err := h.syncer.SyncParticipants(c.Request.Context(), chatID, req.UserIDs)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SyncParticipantsResponse{
		Success: true,
		ChatID:  chatID,
		Participants: lo.Map(participants, func(p chat.Participant, _ int) dto.ParticipantView {
			return dto.ParticipantView{UserID: p.UserID, Position: p.Position, UnreadCount: p.UnreadCount}
		}),
	})
}
