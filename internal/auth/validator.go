package auth

import (
	"errors"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrWeakPassword is returned when a password lacks a letter or a digit.
var ErrWeakPassword = errors.New("password must contain a letter and a digit")

// Credentials are the fields checked on registration.
type Credentials struct {
	Username string `validate:"required,min=3,max=32,alphanum"`
	Password string `validate:"required,min=8,max=72"`
}

// ValidateCredentials applies the registration rules.
func ValidateCredentials(c Credentials) error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	var letter, digit bool
	for _, r := range c.Password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return ErrWeakPassword
	}
	return nil
}
