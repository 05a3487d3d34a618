// Package apperror defines the error taxonomy of the identity core.
//
// Every failure a caller can act on is a sentinel error wrapped in an
// AppError, so call sites branch with errors.Is and never parse messages.
// The HTTP layer maps each sentinel to a status code in one place.
package apperror

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound — the referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation — malformed or missing input fields.
	ErrValidation = errors.New("validation error")
	// ErrDuplicateEmail — the address is already claimed, by any user.
	// Address uniqueness is global and case-insensitive.
	ErrDuplicateEmail = errors.New("duplicate email")
	// ErrIdentityConflict — the external (provider, subject) identity is
	// already bound to a different account. Raised instead of silently
	// re-binding, which would be an account takeover.
	ErrIdentityConflict = errors.New("identity conflict")
	// ErrNotOwned — the entity exists but belongs to another user.
	ErrNotOwned = errors.New("not owned")
	// ErrUnverified — the operation requires a verified email.
	ErrUnverified = errors.New("email not verified")
	// ErrWeakSecret — the password failed the minimum-entropy policy.
	ErrWeakSecret = errors.New("weak secret")
	// ErrInvalidCredentials — uniform authentication failure. Unknown
	// address, missing credential, and wrong password all collapse to this
	// so responses never reveal whether an account exists.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrForbidden — authenticated, but the required permission is absent.
	ErrForbidden = errors.New("forbidden")
	// ErrExpired — the token is past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrMalformed — the token failed signature or structural checks.
	ErrMalformed = errors.New("token malformed")
	// ErrRevoked — the token predates a revocation watermark.
	ErrRevoked = errors.New("token revoked")
	// ErrProviderVerification — the external provider handshake could not
	// be completed or verified.
	ErrProviderVerification = errors.New("provider verification failed")
)

// AppError pairs a sentinel with a human-readable message and, optionally,
// the input field at fault. Unwrap exposes the sentinel so errors.Is works
// through any additional fmt.Errorf wrapping above it.
type AppError struct {
	Err     error  // sentinel category
	Message string // human-readable description
	Field   string // optional: input field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// DuplicateEmail deliberately omits the address from the message; the
// caller already knows what it submitted and logs must not echo addresses.
func DuplicateEmail() *AppError {
	return &AppError{
		Err:     ErrDuplicateEmail,
		Message: "email address is already taken",
		Field:   "email",
	}
}

func IdentityConflict(provider string) *AppError {
	return &AppError{
		Err:     ErrIdentityConflict,
		Message: fmt.Sprintf("%s identity is already linked to another account", provider),
	}
}

func NotOwned(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotOwned,
		Message: fmt.Sprintf("%s %s belongs to another user", resource, id),
	}
}

func Unverified(emailID string) *AppError {
	return &AppError{
		Err:     ErrUnverified,
		Message: fmt.Sprintf("email %s is not verified", emailID),
	}
}

func WeakSecret(message string) *AppError {
	return &AppError{
		Err:     ErrWeakSecret,
		Message: message,
		Field:   "password",
	}
}

// InvalidCredentials carries a fixed message on purpose: a single string
// for every authentication failure mode prevents user enumeration.
func InvalidCredentials() *AppError {
	return &AppError{
		Err:     ErrInvalidCredentials,
		Message: "invalid email or password",
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

func Expired() *AppError {
	return &AppError{Err: ErrExpired, Message: "token has expired"}
}

func Malformed() *AppError {
	return &AppError{Err: ErrMalformed, Message: "token is malformed"}
}

func Revoked() *AppError {
	return &AppError{Err: ErrRevoked, Message: "token has been revoked"}
}

func ProviderVerificationFailed(provider string) *AppError {
	return &AppError{
		Err:     ErrProviderVerification,
		Message: fmt.Sprintf("could not verify %s identity", provider),
	}
}
