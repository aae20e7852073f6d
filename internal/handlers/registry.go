package handlers

// AppHandlers содержит все хэндлеры приложения.
type AppHandlers struct {
	UnreadHandler       *UnreadHandler
	NotificationHandler *NotificationHandler
	DeviceHandler       *DeviceHandler
	InternalHandler     *InternalHandler
	HealthHandler       *HealthHandler
}
