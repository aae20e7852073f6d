package contextkeys

// Используем кастомный тип, чтобы избежать коллизий
type contextKey string

// IdentityKey - ключ, под которым AuthMiddleware кладет auth.Identity в gin.Context
const IdentityKey = contextKey("identity")

// String возвращает ключ в виде строки для c.Set / c.Get
func (k contextKey) String() string {
	return string(k)
}
