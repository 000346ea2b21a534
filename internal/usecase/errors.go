package usecase

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAccountNotFound indicates no account is registered under the identifier.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists indicates registration was attempted for an email already in use.
	ErrAccountExists = errors.New("account already exists")
	// ErrWrongOldCredential indicates the current password supplied to a change did not verify.
	ErrWrongOldCredential = errors.New("current password is incorrect")
	// ErrSameCredential indicates the new password equals the current one.
	ErrSameCredential = errors.New("new password must differ from current password")
	// ErrNewPasswordInvalid indicates the new password failed the strength policy.
	ErrNewPasswordInvalid = errors.New("new password does not meet policy")
	// ErrResetTokenInvalid indicates the reset token is unknown or was already used.
	ErrResetTokenInvalid = errors.New("password reset token invalid")
	// ErrResetTokenExpired indicates the reset token outlived its TTL.
	ErrResetTokenExpired = errors.New("password reset token expired")
	// ErrInvalidInput indicates a required field was empty.
	ErrInvalidInput = errors.New("invalid input")
)

// RateLimitExceededError is returned when a per-identifier limit is hit.
type RateLimitExceededError struct {
	Scope      string
	RetryAfter time.Duration
}

// Error implements error.
func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Scope, e.RetryAfter)
}
