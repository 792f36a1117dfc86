package auth

import (
	"unicode"

	"chat-relay/errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type ProvisionRequest struct {
	Username string `validate:"required,min=3,max=32,alphanum"`
	Password string `validate:"required,min=12,max=72"`
}

// ValidateProvision checks account provisioning input before any expensive
// cryptographic operation runs.
func ValidateProvision(req ProvisionRequest) error {
	if err := validate.Struct(req); err != nil {
		return err
	}
	if !isPasswordComplex(req.Password) {
		return errors.ErrInvalidPassword
	}
	return nil
}

func isPasswordComplex(s string) bool {
	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range s {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}
	return hasUpper && hasLower && hasNumber && hasSpecial
}
