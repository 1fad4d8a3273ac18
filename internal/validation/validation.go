// Package validation provides request field validation helpers shared by handlers.
package validation

import (
	"fmt"
	"strings"

	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/money"
)

// FieldError describes a single invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors is a collection of field errors.
type Errors []FieldError

func (e Errors) Error() string {
	if len(e) == 0 {
		return ""
	}
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fmt.Sprintf("%s: %s", fe.Field, fe.Message)
	}
	return strings.Join(parts, "; ")
}

// Check is a single validation; nil means the field is valid.
type Check func() *FieldError

// Validate runs all checks and collects the failures.
func Validate(checks ...Check) Errors {
	var errs Errors
	for _, c := range checks {
		if fe := c(); fe != nil {
			errs = append(errs, *fe)
		}
	}
	return errs
}

// Required rejects empty strings.
func Required(field, value string) Check {
	return func() *FieldError {
		if strings.TrimSpace(value) == "" {
			return &FieldError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidAmount rejects values that do not parse to a positive decimal amount.
func ValidAmount(field, value string) Check {
	return func() *FieldError {
		if !money.IsPositive(value) {
			return &FieldError{Field: field, Message: "must be a positive decimal amount"}
		}
		return nil
	}
}

// ValidCurrency accepts 3-letter ISO currency codes.
func ValidCurrency(field, value string) Check {
	return func() *FieldError {
		if len(value) != 3 {
			return &FieldError{Field: field, Message: "must be a 3-letter currency code"}
		}
		return nil
	}
}
