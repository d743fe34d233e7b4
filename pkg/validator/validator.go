// Package validator wraps go-playground/validator with the oracle's custom
// rules.
package validator

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	addressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{1,64}$`)
	moveTypePattern = regexp.MustCompile(`^0x[0-9a-fA-F]{1,64}::[A-Za-z_][A-Za-z0-9_]*::[A-Za-z_][A-Za-z0-9_]*(<.+>)?$`)
)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := &Validator{
		validate: validator.New(),
	}
	v.registerCustomValidations()
	return v
}

func (v *Validator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var errMessages []string
			for _, e := range validationErrors {
				errMessages = append(errMessages, fmt.Sprintf(
					"Field '%s' failed validation '%s'",
					e.Field(),
					e.Tag(),
				))
			}
			return fmt.Errorf("validation failed: %v", errMessages)
		}
		return err
	}
	return nil
}

// ValidateStructured returns a map of field -> error message for API clients.
func (v *Validator) ValidateStructured(i interface{}) map[string]string {
	errs := make(map[string]string)
	if err := v.validate.Struct(i); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			for _, e := range validationErrors {
				msg := fmt.Sprintf("failed validation on '%s'", e.Tag())
				switch e.Tag() {
				case "required":
					msg = "This field is required"
				case "gte":
					msg = fmt.Sprintf("Must be at least %s", e.Param())
				case "lte":
					msg = fmt.Sprintf("Must be at most %s", e.Param())
				case "source_uri":
					msg = "Must be an absolute http or https URL"
				case "ledger_address":
					msg = "Must be a 0x-prefixed hex account address"
				case "move_type":
					msg = "Must be a fully qualified type such as 0x1::Module::Struct"
				}
				errs[e.Field()] = msg
			}
		} else {
			errs["_global"] = err.Error()
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Var validates a single value against tag.
func (v *Validator) Var(field interface{}, tag string) error {
	return v.validate.Var(field, tag)
}

func (v *Validator) registerCustomValidations() {
	_ = v.validate.RegisterValidation("source_uri", func(fl validator.FieldLevel) bool {
		return IsSourceURI(fl.Field().String())
	})
	_ = v.validate.RegisterValidation("ledger_address", func(fl validator.FieldLevel) bool {
		return addressPattern.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	_ = v.validate.RegisterValidation("move_type", func(fl validator.FieldLevel) bool {
		return moveTypePattern.MatchString(strings.TrimSpace(fl.Field().String()))
	})
}

// IsSourceURI reports whether s is an absolute http(s) URL with a host.
func IsSourceURI(s string) bool {
	if strings.TrimSpace(s) != s || s == "" {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Sanitize cleans string input to prevent XSS attacks
func Sanitize(input string) string {
	return html.EscapeString(strings.TrimSpace(input))
}
