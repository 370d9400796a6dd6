package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// formatValidationErrors converts validator.ValidationErrors to user-friendly
// messages, one per offending field, joined for a single returned error.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be >= %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be <= %s", field, e.Param())
	case "hostname|ip":
		return fmt.Sprintf("%s must be a valid hostname or IP address", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
