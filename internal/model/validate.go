package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// modelValidate is shared; validator.Validate caches struct metadata and is safe for concurrent use.
var modelValidate = validator.New()

// ValidationError is a request rejected locally, before any network call.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks a single model configuration.
func (m ModelConfiguration) Validate() error {
	if err := modelValidate.Struct(m); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, describeFieldError(fe))
			}
			return &ValidationError{Field: m.ID, Message: strings.Join(msgs, "; ")}
		}
		return &ValidationError{Field: m.ID, Message: err.Error()}
	}
	if m.Interface == InterfaceOpenAIEndpoint && m.EndpointBaseURL == "" {
		return &ValidationError{Field: m.ID, Message: "endpoint_base_url is required for the openai_endpoint interface"}
	}
	return nil
}

// ValidateModels checks every configuration of a role list and rejects duplicate ids.
func ValidateModels(role string, models []ModelConfiguration) error {
	if len(models) == 0 {
		return &ValidationError{Field: role, Message: "at least one model is required"}
	}
	seen := make(map[string]struct{}, len(models))
	for _, m := range models {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("%s model: %w", role, err)
		}
		if _, dup := seen[m.ID]; dup {
			return &ValidationError{Field: role, Message: fmt.Sprintf("duplicate model id %q", m.ID)}
		}
		seen[m.ID] = struct{}{}
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "gte", "lte":
		return fmt.Sprintf("%s must be %s %s", fe.Field(), fe.Tag(), fe.Param())
	case "url":
		return fe.Field() + " must be a valid URL"
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
