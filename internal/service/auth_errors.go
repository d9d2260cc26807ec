package service

import (
	"errors"
)

// AuthCode is one of the closed set of reasons an auth operation fails.
type AuthCode string

const (
	CodeNotFound           AuthCode = "not-found"
	CodeWrongCredential    AuthCode = "wrong-credential"
	CodeAlreadyExists      AuthCode = "already-exists"
	CodeWeakCredential     AuthCode = "weak-credential"
	CodeInvalidEmail       AuthCode = "invalid-email"
	CodeRateLimited        AuthCode = "rate-limited"
	CodeNetworkFailure     AuthCode = "network-failure"
	CodeDisabledAccount    AuthCode = "disabled-account"
	CodeRequiresRecentAuth AuthCode = "requires-recent-auth"
	CodePopupCancelled     AuthCode = "popup-cancelled"
	CodeDomainUnauthorized AuthCode = "domain-unauthorized"
	CodeMethodDisabled     AuthCode = "method-disabled"
	CodeUnauthenticated    AuthCode = "unauthenticated"

	// Session notices, shown once after the engine signs a principal out.
	CodeSessionExpired  AuthCode = "session-expired"
	CodeSessionInactive AuthCode = "session-inactive"
)

var messages = map[AuthCode]string{
	CodeNotFound:           "No account found with this email address",
	CodeWrongCredential:    "Incorrect password",
	CodeAlreadyExists:      "An account with this email already exists",
	CodeWeakCredential:     "Password must be at least 12 characters and not a common word",
	CodeInvalidEmail:       "Please enter a valid email address",
	CodeRateLimited:        "Too many failed attempts. Please try again later",
	CodeNetworkFailure:     "Network error. Please check your connection",
	CodeDisabledAccount:    "This account has been disabled",
	CodeRequiresRecentAuth: "Please sign in again to continue",
	CodePopupCancelled:     "Sign-in cancelled",
	CodeDomainUnauthorized: "This domain is not authorized for sign-in",
	CodeMethodDisabled:     "This sign-in method is not enabled",
	CodeUnauthenticated:    "Please sign in to continue",
	CodeSessionExpired:     "Your session has expired. Please sign in again.",
	CodeSessionInactive:    "You have been signed out due to inactivity.",
}

const unexpectedMessage = "An unexpected error occurred. Please try again."

// Message returns the user-facing text for code.
func Message(code AuthCode) string {
	if m, ok := messages[code]; ok {
		return m
	}
	return unexpectedMessage
}

// AuthError is returned by every AuthService operation that fails for a
// reason the user can act on. Err keeps the underlying cause for logs.
type AuthError struct {
	Code AuthCode
	Err  error
}

func (e *AuthError) Error() string {
	return Message(e.Code)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func authErr(code AuthCode, err error) *AuthError {
	return &AuthError{Code: code, Err: err}
}

// CodeOf extracts the auth code from err. The second result is false when
// err is not an AuthError.
func CodeOf(err error) (AuthCode, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code, true
	}
	return "", false
}
