package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"modelpass/internal/types"
)

// Validator wraps go-playground/validator and maps failures onto AppErrors
// that name the JSON field at fault.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator that reports JSON field names and knows
// the plan_id tag.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	_ = v.RegisterValidation("plan_id", func(fl validator.FieldLevel) bool {
		_, err := types.ParsePlanID(fl.Field().String())
		return err == nil
	})

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct validates s. The first failing field decides the error:
// missing values are validation_missing_required_field, bad URLs are
// validation_invalid_url, unknown plans validation_invalid_plan_id and
// anything else validation_invalid_input.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		v.logger.Error("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	fe := fieldErrs[0]
	details := map[string]any{"field": fe.Field(), "rule": fe.Tag()}
	switch fe.Tag() {
	case "required":
		return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			fmt.Sprintf("%s is required", fe.Field()), nil, details)
	case "url", "http_url":
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidURL,
			fmt.Sprintf("%s must be a valid URL", fe.Field()), nil, details)
	case "plan_id":
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidPlan,
			fmt.Sprintf("%s is not a known plan", fe.Field()), nil, details)
	default:
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidInput,
			fmt.Sprintf("%s failed the %s rule", fe.Field(), fe.Tag()), nil, details)
	}
}
