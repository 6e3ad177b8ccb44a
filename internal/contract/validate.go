package contract

import (
	"sync"

	"github.com/go-playground/validator/v10"

	serviceerrors "github.com/agentctl/core/internal/errors"
)

var (
	validatorOnce sync.Once
	validatorInst *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		validatorInst = validator.New()
	})
	return validatorInst
}

// ValidateRequest runs struct-tag validation over a decoded command body,
// translating the first failing field into a missing_required_field
// ServiceError. Handlers decode into typed request structs with
// `validate:"required"` tags and call this before constructing an engine
// input, rather than hand-checking each field.
func ValidateRequest(body any) error {
	if err := validatorInstance().Struct(body); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			return serviceerrors.New(serviceerrors.ReasonMissingRequiredField, fieldErrs[0].Field()+" failed "+fieldErrs[0].Tag()+" validation")
		}
		return serviceerrors.Wrap(serviceerrors.ReasonMissingRequiredField, "request validation failed", err)
	}
	return nil
}
