// Package validation wraps go-playground/validator and converts its failures into
// notes.ValidationError values naming the offending field and value.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/MarcoPoloResearchLab/hoverthought/internal/notes"
	"github.com/go-playground/validator/v10"
)

// Validator validates command requests.
type Validator struct {
	v *validator.Validate
}

// New creates a validator that reports fields by their JSON names.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	return &Validator{v: v}
}

// Validate validates a struct and returns the first failure as a notes.ValidationError.
func (v *Validator) Validate(s any) error {
	if err := v.v.Struct(s); err != nil {
		return v.formatError(err)
	}
	return nil
}

func (v *Validator) formatError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return err
	}
	first := validationErrs[0]
	value := fmt.Sprintf("%v", first.Value())
	return notes.NewValidationError(first.Field(), value, friendlyMessage(first, value))
}

func friendlyMessage(e validator.FieldError, value string) string {
	switch e.Tag() {
	case "oneof":
		options := strings.Fields(e.Param())
		quoted := make([]string, 0, len(options))
		for _, option := range options {
			quoted = append(quoted, fmt.Sprintf("%q", option))
		}
		return fmt.Sprintf("invalid %s: %q. Must be %s", e.Field(), value, strings.Join(quoted, " or "))
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "max":
		return fmt.Sprintf("%s must not exceed %s characters", e.Field(), e.Param())
	default:
		return fmt.Sprintf("invalid %s: %q", e.Field(), value)
	}
}
