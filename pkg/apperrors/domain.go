package apperrors

import (
	"net/http"
)

/*
Предопределенные доменные ошибки.
Для оборачивания причины используйте фабрики ниже: они возвращают копию,
общие переменные не мутируются.
*/

// --- Auth ---

// ErrUnauthenticated - нет или невалиден bearer-токен.
var ErrUnauthenticated = New(
	CodeUnauthorized,
	"auth",
	"Authentication required",
	http.StatusUnauthorized,
)

// ErrInvalidToken - токен не прошел проверку подписи или срока.
var ErrInvalidToken = New(
	CodeUnauthorized,
	"auth",
	"Invalid or expired token",
	http.StatusUnauthorized,
)

// --- Chat / unread ---

// ErrChatAccessDenied - пользователь не участник чата.
var ErrChatAccessDenied = New(
	CodeForbidden,
	"chat",
	"Access to chat denied",
	http.StatusForbidden,
)

// ErrNotParticipant - у чата нет ни одного участника. Это нарушение
// целостности данных, а не ошибка клиента, поэтому 500.
var ErrNotParticipant = New(
	CodeNotParticipant,
	"chat",
	"Chat has no resolvable participants",
	http.StatusInternalServerError,
)

// --- Push ---

// ErrDispatchUnavailable - push-провайдер недоступен. Повтор - забота вызывающего.
var ErrDispatchUnavailable = New(
	CodeDispatchUnavailable,
	"push",
	"Push provider is unavailable",
	http.StatusInternalServerError,
)

// ErrEmptyTokens - пустой набор токенов для рассылки.
var ErrEmptyTokens = New(
	CodeValidationFailed,
	"push",
	"At least one device token is required",
	http.StatusBadRequest,
)

// ErrInvalidNotification - у уведомления нет title или body.
var ErrInvalidNotification = New(
	CodeValidationFailed,
	"push",
	"Notification title and body are required",
	http.StatusBadRequest,
)

// ErrTooManyTokens - превышен лимит токенов на один multicast.
var ErrTooManyTokens = New(
	CodeValidationFailed,
	"push",
	"Too many device tokens for a single multicast",
	http.StatusBadRequest,
)

// --- Фабрики ---

// ErrNotFound - фабрика для ошибки "не найдено" (404)
func ErrNotFound(err error) *AppError {
	return Wrap(err, CodeNotFound, "resource", "Resource not found", http.StatusNotFound)
}

// ErrInvalidOperation - фабрика для невалидных операций (400)
func ErrInvalidOperation(domain, message string) *AppError {
	return New(CodeInvalidOperation, domain, message, http.StatusBadRequest)
}

// DispatchUnavailable оборачивает сбой провайдера
func DispatchUnavailable(err error) *AppError {
	return ErrDispatchUnavailable.WithError(err)
}

// NotParticipant оборачивает ошибку целостности списка участников
func NotParticipant(chatID string) *AppError {
	return ErrNotParticipant.WithDetails(map[string]string{"chat_id": chatID})
}
