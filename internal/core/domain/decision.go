package domain

import "time"

// DecisionKind enumerates the outcomes of a login attempt.
type DecisionKind string

const (
	DecisionAllowed                DecisionKind = "allowed"
	DecisionDeniedBadCredentials   DecisionKind = "denied_bad_credentials"
	DecisionDeniedLocked           DecisionKind = "denied_locked"
	DecisionDeniedDisabled         DecisionKind = "denied_disabled"
	DecisionOTPRequired            DecisionKind = "otp_required"
	DecisionDeniedOTPInvalid       DecisionKind = "denied_otp_invalid"
	DecisionPasswordChangeRequired DecisionKind = "password_change_required"
)

// AuthDecision is the result of a single login attempt.
// Account is populated only for Allowed and PasswordChangeRequired.
type AuthDecision struct {
	Kind         DecisionKind
	Account      *Account
	RetryAfter   time.Duration
	OTPExpiresAt *time.Time
}

// Authenticated reports whether the credential check passed.
func (d AuthDecision) Authenticated() bool {
	return d.Kind == DecisionAllowed || d.Kind == DecisionPasswordChangeRequired
}

// LockStatus is the outcome of an unlock check.
type LockStatus int

const (
	LockStatusNotLocked LockStatus = iota
	LockStatusUnlocked
	LockStatusStillLocked
)

// String returns a readable representation used in logs.
func (s LockStatus) String() string {
	switch s {
	case LockStatusNotLocked:
		return "not_locked"
	case LockStatusUnlocked:
		return "unlocked"
	case LockStatusStillLocked:
		return "still_locked"
	default:
		return "unknown"
	}
}

// OTPStatus describes whether a login must go through a one-time password challenge.
type OTPStatus int

const (
	OTPNotRequired OTPStatus = iota
	OTPRequired
	OTPAlreadyPending
)

// String returns a readable representation used in logs.
func (s OTPStatus) String() string {
	switch s {
	case OTPNotRequired:
		return "not_required"
	case OTPRequired:
		return "required"
	case OTPAlreadyPending:
		return "already_pending"
	default:
		return "unknown"
	}
}
