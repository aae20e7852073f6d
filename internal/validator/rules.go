package validator

import (
	"log"
	"strings"

	"github.com/go-playground/validator/v10"

	"readstate_backend/internal/models"
)

// registerCustomRules регистрирует кастомные правила в переданном валидаторе.
func registerCustomRules(v *validator.Validate) {
	mustRegister := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			// ошибка времени запуска, дальше работать нельзя
			log.Fatalf("failed to register custom validation tag '%s': %v", tag, err)
		}
	}

	// 'device-platform': web, ios, android
	mustRegister("device-platform", validateDevicePlatform)

	// 'no-blank': строка не состоит из одних пробелов
	mustRegister("no-blank", validateNoBlank)
}

func validateDevicePlatform(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // 'required' обрабатывает пустые
	}
	return models.DevicePlatform(value).IsValid()
}

func validateNoBlank(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return strings.TrimSpace(value) != ""
}
