package errutil

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FromBinding converts a request binding error into a validation error that
// names the first offending field only.
func FromBinding(err error) error {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := toSnake(fe.Field())
		return ValidationFailed(fmt.Sprintf("invalid %s", field), err, WithDetails(Detail{
			Field:   field,
			Message: describe(fe),
		}))
	}

	return BadRequest("malformed request body", err)
}

// Field builds a single-field validation error.
func Field(field, message string) error {
	return ValidationFailed(fmt.Sprintf("invalid %s", field), nil, WithDetails(Detail{
		Field:   field,
		Message: message,
	}))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gt", "gte", "lt", "lte", "min", "max":
		return fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
