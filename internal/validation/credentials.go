package validation

import (
	"errors"
	"net/mail"
	"strings"
	"unicode/utf8"
)

const (
	MaxEmailLength    = 254
	MinPasswordLength = 12
	// bcrypt ignores everything past 72 bytes.
	MaxPasswordBytes = 72
	MaxNameLength    = 100
)

var (
	ErrEmailRequired = errors.New("email address is required")
	ErrEmailTooLong  = errors.New("email address is too long (max 254 characters)")
	ErrEmailInvalid  = errors.New("invalid email address format")

	ErrPasswordShort  = errors.New("password must be at least 12 characters")
	ErrPasswordLong   = errors.New("password must not exceed 72 bytes")
	ErrPasswordCommon = errors.New("password is too common, please choose a stronger one")

	ErrNameRequired = errors.New("name is required")
	ErrNameTooLong  = errors.New("name is too long (max 100 characters)")
)

var commonPasswordFragments = []string{
	"password", "123456", "qwerty", "admin", "letmein",
	"welcome", "monkey", "dragon", "master", "sunshine",
}

// ValidateEmail accepts a bare RFC 5322 address. Display-name forms such as
// "Ada <ada@example.com>" are rejected.
func ValidateEmail(email string) error {
	switch {
	case email == "":
		return ErrEmailRequired
	case len(email) > MaxEmailLength:
		return ErrEmailTooLong
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrEmailInvalid
	}
	return nil
}

// ValidatePassword checks length and rejects passwords built around common
// fragments.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrPasswordShort
	}
	if len(password) > MaxPasswordBytes {
		return ErrPasswordLong
	}
	lower := strings.ToLower(password)
	for _, fragment := range commonPasswordFragments {
		if strings.Contains(lower, fragment) {
			return ErrPasswordCommon
		}
	}
	return nil
}

// ValidateName checks a display or category name after trimming.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ErrNameRequired
	}
	if utf8.RuneCountInString(trimmed) > MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}
