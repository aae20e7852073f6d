package validator

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"readstate_backend/internal/models"
)

// ValidationError: путь поля в json-нотации -> сообщение
type ValidationError struct {
	Errors map[string]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Errors))
	for field := range e.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Errors[field]))
	}
	return "Validation failed: " + strings.Join(parts, "; ")
}

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	registerCustomRules(v)
	return &Validator{validate: v}
}

// Validate возвращает *ValidationError для ошибок правил, остальное как есть
func (v *Validator) Validate(i interface{}) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}

	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	out := make(map[string]string, len(fieldErrors))
	for _, fe := range fieldErrors {
		out[fieldPath(fe)] = message(fe)
	}
	return &ValidationError{Errors: out}
}

// fieldPath - namespace без имени корневой структуры:
// "notification.title", "user_ids[2]"
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

var platformList = strings.Join([]string{
	string(models.DevicePlatformWeb),
	string(models.DevicePlatformIOS),
	string(models.DevicePlatformAndroid),
}, ", ")

// сообщения по тегам, которые встречаются в dto и моделях
var messages = map[string]func(fe validator.FieldError) string{
	"required": func(validator.FieldError) string { return "This field is required" },
	"no-blank": func(validator.FieldError) string { return "Must not be blank" },
	"min": func(fe validator.FieldError) string {
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("Must contain at least %s item(s)", fe.Param())
		}
		return fmt.Sprintf("Must be at least %s characters long", fe.Param())
	},
	"max": func(fe validator.FieldError) string {
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("Must contain at most %s item(s)", fe.Param())
		}
		return fmt.Sprintf("Must be at most %s characters long", fe.Param())
	},
	"oneof": func(fe validator.FieldError) string {
		return "Must be one of: " + strings.Join(strings.Fields(fe.Param()), ", ")
	},
	"device-platform": func(validator.FieldError) string { return "Must be one of: " + platformList },
}

func message(fe validator.FieldError) string {
	if fn, ok := messages[fe.Tag()]; ok {
		return fn(fe)
	}
	return fmt.Sprintf("Invalid value (rule '%s')", fe.Tag())
}
