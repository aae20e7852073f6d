package auth

import "slices"

// Роли
const (
	RoleUser    = "user"
	RoleService = "service"
	RoleAdmin   = "admin"
)

// Разрешения
const (
	PermChatsRead          = "chats:read"
	PermChatsWrite         = "chats:write"
	PermDevicesWrite       = "devices:write"
	PermNotificationsSend  = "notifications:send"
	PermNotificationsClick = "notifications:interact"
)

var Permissions = map[string][]string{
	RoleUser: {
		PermChatsRead,
		PermChatsWrite,
		PermDevicesWrite,
		PermNotificationsSend,
		PermNotificationsClick,
	},
	RoleService: {
		PermNotificationsSend,
	},
	RoleAdmin: {
		PermChatsRead,
		PermChatsWrite,
		PermDevicesWrite,
		PermNotificationsSend,
		PermNotificationsClick,
	},
}

// HasPermission проверяет есть ли у роли указанное разрешение
func HasPermission(role, permission string) bool {
	perms, ok := Permissions[role]
	if !ok {
		return false
	}
	return slices.Contains(perms, permission)
}

// Can проверяет может ли identity выполнить действие
func (i Identity) Can(permission string) bool {
	return HasPermission(i.Role, permission)
}

func IsValidRole(role string) bool {
	_, ok := Permissions[role]
	return ok
}
