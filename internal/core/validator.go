package core

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"saaskit/internal/types"
)

// Validator wraps go-playground/validator and translates violations into the
// platform's structured validation errors.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator with struct tag validation enabled.
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// ValidateStruct checks the struct's validate tags. On violation it returns a
// *types.AppError with per-field detail; field names are reported lowercased.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = "failed rule: " + fe.Tag()
	}
	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationMissingField,
		"request validation failed",
		err,
		map[string]any{"fields": fields},
	)
}
