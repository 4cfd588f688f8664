package utils

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/turtacn/certguard/pkg/constants"
	"github.com/turtacn/certguard/pkg/errors"
)

var defaultValidator *validator.Validate

func init() {
	defaultValidator = validator.New()
	_ = defaultValidator.RegisterValidation("dimension", validateDimension)
	_ = defaultValidator.RegisterValidation("scope", validateScope)
}

// ValidateStruct validates s against its `validate` tags. Failures are returned as
// an invalid-request error with one metadata entry per field.
func ValidateStruct(s interface{}) error {
	err := defaultValidator.Struct(s)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !stderrors.As(err, &validationErrors) {
		return errors.ErrInvalidRequest(err.Error())
	}

	gerr := errors.ErrInvalidRequest("request validation failed")
	for _, fe := range validationErrors {
		gerr = gerr.WithMetadata(toSnakeCase(fe.Field()), formatValidationError(fe))
	}
	return gerr
}

func validateDimension(fl validator.FieldLevel) bool {
	_, ok := constants.ParseDimension(fl.Field().String())
	return ok
}

// A scope is an opaque label; control characters are rejected so it stays safe to
// embed in store keys and logs.
func validateScope(fl validator.FieldLevel) bool {
	for _, r := range fl.Field().String() {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "dimension":
		return "must be one of: ip, email, tax_id, global"
	case "scope":
		return "must not contain control characters"
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed on the '%s' tag", fe.Tag())
	}
}

var (
	matchFirstCap = regexp.MustCompile("(.)([A-Z][a-z]+)")
	matchAllCap   = regexp.MustCompile("([a-z0-9])([A-Z])")
)

// toSnakeCase converts a Go field name such as TaxID to tax_id.
func toSnakeCase(str string) string {
	snake := matchFirstCap.ReplaceAllString(str, "${1}_${2}")
	snake = matchAllCap.ReplaceAllString(snake, "${1}_${2}")
	return strings.ToLower(snake)
}
