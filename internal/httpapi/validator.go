package httpapi

import "github.com/go-playground/validator/v10"

// AppValidator adapts go-playground/validator to echo's Validator interface.
type AppValidator struct {
	v *validator.Validate
}

func NewValidator() *AppValidator {
	return &AppValidator{v: validator.New(validator.WithRequiredStructEnabled())}
}

func (av *AppValidator) Validate(i any) error {
	return av.v.Struct(i)
}
