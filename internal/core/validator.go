package core

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"geowatch/internal/types"
)

// Validator wraps go-playground/validator with the GeoWatch custom tags and
// turns failures into validation AppErrors.
type Validator struct {
	v *validator.Validate
}

// FieldError is one failed rule, reported under the JSON field name.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// NewValidator creates a Validator and registers custom tags:
//
//	alert_resolution  RESOLVED or IGNORED
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("alert_resolution", func(fl validator.FieldLevel) bool {
		switch types.AlertStatus(fl.Field().String()) {
		case types.AlertStatusResolved, types.AlertStatusIgnored:
			return true
		}
		return false
	})
	return &Validator{v: v}
}

// ValidateStruct checks s against its validate tags. Coordinate failures map
// to the dedicated latitude and longitude codes; every other failure is
// validation_invalid_body with the failing fields in Details.
func (val *Validator) ValidateStruct(s any) error {
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeValidationBody, "request failed validation", err)
	}

	fields := make([]FieldError, 0, len(verrs))
	code := types.ErrCodeValidationBody
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
		if code != types.ErrCodeValidationBody {
			continue
		}
		switch fe.Tag() {
		case "latitude":
			code = types.ErrCodeValidationInvalidLat
		case "longitude":
			code = types.ErrCodeValidationInvalidLon
		case "required":
			code = types.ErrCodeValidationMissingField
		}
	}
	return types.NewAppErrorWithDetails(code, "request failed validation: "+fields[0].Field, err,
		map[string]any{"fields": fields})
}
