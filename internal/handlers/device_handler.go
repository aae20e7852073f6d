package handlers

import (
	"errors"
	"net/http"

	"readstate_backend/internal/auth"
	"readstate_backend/internal/dto"
	"readstate_backend/internal/middleware"
	"readstate_backend/internal/models"
	"readstate_backend/internal/repositories"
	"readstate_backend/pkg/apperrors"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

type DeviceHandler struct {
	*BaseHandler
	devices repositories.DeviceTokenRepository
	auth    gin.HandlerFunc
}

func NewDeviceHandler(base *BaseHandler, devices repositories.DeviceTokenRepository, authMiddleware gin.HandlerFunc) *DeviceHandler {
	return &DeviceHandler{
		BaseHandler: base,
		devices:     devices,
		auth:        authMiddleware,
	}
}

func (h *DeviceHandler) RegisterRoutes(r *gin.RouterGroup) {
	devices := r.Group("/devices")
	devices.Use(h.auth)
	{
		devices.GET("", h.List)
		devices.POST("", middleware.RequirePermission(auth.PermDevicesWrite), h.Register)
		devices.DELETE("/:token", middleware.RequirePermission(auth.PermDevicesWrite), h.Remove)
	}
}

// Register
// @Summary Регистрация push-токена устройства
// @Tags Devices
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body dto.RegisterDeviceInput true "Токен"
// @Success 201 {object} dto.DeviceResponse
// @Router /devices [post]
func (h *DeviceHandler) Register(c *gin.Context) {
	identity, ok := h.GetIdentity(c)
	if !ok {
		return
	}

	var req dto.RegisterDeviceInput
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	device, err := h.devices.Register(c.Request.Context(), identity.UserID, req.Token, models.DevicePlatform(req.Platform), datatypes.JSON(req.Meta))
	if err != nil {
		h.HandleServiceError(c, apperrors.Wrap(err, apperrors.CodeDatabaseError, "devices", "Failed to register device", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusCreated, toDeviceResponse(*device))
}

// List - токены текущего пользователя
func (h *DeviceHandler) List(c *gin.Context) {
	identity, ok := h.GetIdentity(c)
	if !ok {
		return
	}

	devices, err := h.devices.ListByUser(c.Request.Context(), identity.UserID)
	if err != nil {
		h.HandleServiceError(c, apperrors.Wrap(err, apperrors.CodeDatabaseError, "devices", "Failed to list devices", http.StatusInternalServerError))
		return
	}

	out := make([]dto.DeviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, toDeviceResponse(d))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "devices": out})
}

// Remove - явная инвалидация токена. Сервер сам токены не удаляет,
// даже если провайдер их отклонил.
// @Router /devices/{token} [delete]
func (h *DeviceHandler) Remove(c *gin.Context) {
	identity, ok := h.GetIdentity(c)
	if !ok {
		return
	}

	err := h.devices.Remove(c.Request.Context(), identity.UserID, c.Param("token"))
	switch {
	case errors.Is(err, repositories.ErrDeviceTokenNotFound):
		apperrors.HandleError(c, apperrors.ErrNotFound(err))
		return
	case err != nil:
		h.HandleServiceError(c, apperrors.Wrap(err, apperrors.CodeDatabaseError, "devices", "Failed to remove device", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true})
}

func toDeviceResponse(d models.DeviceToken) dto.DeviceResponse {
	return dto.DeviceResponse{
		ID:        d.ID,
		Token:     d.Token,
		Platform:  string(d.Platform),
		CreatedAt: d.CreatedAt,
	}
}
