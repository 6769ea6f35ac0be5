// Package validation validates request payloads with go-playground/validator
// and converts failures into validation AppErrors.
package validation

import (
	stderrors "errors"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"stream-bridge/internal/common/errors"
)

// accountPattern matches a handle accepted by the upstream "from:" operator.
var accountPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)

// Validator wraps a configured validator.Validate.
type Validator struct {
	validate *validator.Validate
}

// Result contains validation results with structured errors
type Result struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors"`
}

// FieldError is a single failed constraint.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// New creates a Validator with the bridge's custom tags registered.
func New() *Validator {
	v := validator.New()
	registerValidators(v)

	// Report JSON names rather than Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &Validator{validate: v}
}

// Struct validates s using its struct tags.
func (v *Validator) Struct(s interface{}) error {
	if err := v.validate.Struct(s); err != nil {
		return formatErrors(extractErrors(err))
	}
	return nil
}

// Var validates a single value against tag.
func (v *Validator) Var(field interface{}, tag string) error {
	if err := v.validate.Var(field, tag); err != nil {
		return formatErrors(extractErrors(err))
	}
	return nil
}

// StructResult validates s and returns every failure.
func (v *Validator) StructResult(s interface{}) *Result {
	err := v.validate.Struct(s)
	if err == nil {
		return &Result{Valid: true, Errors: []FieldError{}}
	}
	return &Result{Valid: false, Errors: extractErrors(err)}
}

func formatErrors(fieldErrors []FieldError) error {
	if len(fieldErrors) == 1 {
		return errors.ValidationError(fieldErrors[0].Message)
	}

	messages := make([]string, len(fieldErrors))
	for i, e := range fieldErrors {
		messages[i] = e.Message
	}
	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

func extractErrors(err error) []FieldError {
	var validationErrs validator.ValidationErrors
	if !stderrors.As(err, &validationErrs) {
		return []FieldError{{Field: "unknown", Tag: "error", Message: err.Error()}}
	}

	result := make([]FieldError, 0, len(validationErrs))
	for _, fe := range validationErrs {
		result = append(result, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Value:   fmt.Sprintf("%v", fe.Value()),
			Message: formatFieldError(fe),
			Param:   fe.Param(),
		})
	}
	return result
}

func formatFieldError(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", err.Field())
	case "url":
		return fmt.Sprintf("field '%s' must be a valid URL", err.Field())
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", err.Field(), err.Param())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s", err.Field(), err.Param())
	case "uuid":
		return fmt.Sprintf("field '%s' must be a valid UUID", err.Field())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", err.Field(), err.Param())
	case "webhook_url":
		return fmt.Sprintf("field '%s' must be an absolute http or https URL", err.Field())
	case "account":
		return fmt.Sprintf("field '%s' must be 1-15 letters, digits or underscores", err.Field())
	case "cron_expression":
		return fmt.Sprintf("field '%s' must be a valid cron expression", err.Field())
	case "unique":
		return fmt.Sprintf("field '%s' must not contain duplicates", err.Field())
	default:
		return fmt.Sprintf("field '%s' failed validation: %s", err.Field(), err.Tag())
	}
}

func registerValidators(v *validator.Validate) {
	_ = v.RegisterValidation("webhook_url", func(fl validator.FieldLevel) bool {
		u, err := url.Parse(fl.Field().String())
		if err != nil {
			return false
		}
		return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
	})

	_ = v.RegisterValidation("account", func(fl validator.FieldLevel) bool {
		return accountPattern.MatchString(fl.Field().String())
	})

	_ = v.RegisterValidation("cron_expression", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
}

var defaultValidator = New()

// Struct validates s with the shared Validator.
func Struct(s interface{}) error {
	return defaultValidator.Struct(s)
}

// Var validates field with the shared Validator.
func Var(field interface{}, tag string) error {
	return defaultValidator.Var(field, tag)
}
