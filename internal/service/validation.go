package service

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// validateStruct runs the struct's validate tags and converts failures into
// a ValidationError with one message per failed field constraint.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate: %w", err)
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, fullMessage(fe))
	}
	return &ValidationError{Messages: messages}
}

func fullMessage(fe validator.FieldError) string {
	name := humanize(fe.Field())
	switch fe.Tag() {
	case "required":
		if strings.HasSuffix(fe.Field(), "ID") {
			return name + " must exist"
		}
		return name + " can't be blank"
	case "gt":
		if strings.HasSuffix(fe.Field(), "ID") {
			return name + " must exist"
		}
		return fmt.Sprintf("%s must be greater than %s", name, fe.Param())
	case "max":
		return fmt.Sprintf("%s is too long (maximum is %s characters)", name, fe.Param())
	case "min":
		return fmt.Sprintf("%s is too short (minimum is %s characters)", name, fe.Param())
	default:
		return name + " is invalid"
	}
}

// humanize turns a Go field name into a label: "UserID" -> "User",
// "PasswordHash" -> "Password hash".
func humanize(field string) string {
	field = strings.TrimSuffix(field, "ID")
	var b strings.Builder
	for i, r := range field {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte(' ')
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
