package domain

import "time"

// Account mirrors the persisted representation in the accounts table.
type Account struct {
	ID                 string
	Email              string
	Name               string
	PasswordHash       string
	Enabled            bool
	Roles              []string
	FailedAttempts     int
	Locked             bool
	LockedAt           *time.Time
	OTPHash            *string
	OTPIssuedAt        *time.Time
	PasswordChangedAt  *time.Time
	ResetTokenHash     *string
	ResetTokenIssuedAt *time.Time
	CreatedAt          time.Time
}

// Lock marks the account as locked at the supplied instant.
func (a *Account) Lock(at time.Time) {
	locked := at.UTC()
	a.Locked = true
	a.LockedAt = &locked
}

// Unlock clears the lock state and resets the failed-attempt counter.
func (a *Account) Unlock() {
	a.Locked = false
	a.LockedAt = nil
	a.FailedAttempts = 0
}

// HasOTP reports whether a one-time password hash is stored.
func (a *Account) HasOTP() bool {
	return a.OTPHash != nil && *a.OTPHash != "" && a.OTPIssuedAt != nil
}

// SetOTP stores the hashed one-time password together with its issue time.
func (a *Account) SetOTP(hash string, issuedAt time.Time) {
	issued := issuedAt.UTC()
	a.OTPHash = &hash
	a.OTPIssuedAt = &issued
}

// ClearOTP removes any stored one-time password.
func (a *Account) ClearOTP() {
	a.OTPHash = nil
	a.OTPIssuedAt = nil
}

// SetResetToken stores the hashed reset token together with its issue time.
func (a *Account) SetResetToken(hash string, issuedAt time.Time) {
	issued := issuedAt.UTC()
	a.ResetTokenHash = &hash
	a.ResetTokenIssuedAt = &issued
}

// ClearResetToken removes any stored reset token.
func (a *Account) ClearResetToken() {
	a.ResetTokenHash = nil
	a.ResetTokenIssuedAt = nil
}

// SetPassword replaces the stored credential hash and records the change time.
func (a *Account) SetPassword(hash string, changedAt time.Time) {
	changed := changedAt.UTC()
	a.PasswordHash = hash
	a.PasswordChangedAt = &changed
}

// Sanitized returns a copy without credential material, safe to hand to outer layers.
func (a Account) Sanitized() Account {
	a.PasswordHash = ""
	a.OTPHash = nil
	a.ResetTokenHash = nil
	return a
}

// LoginAttempt carries one login submission. It is never persisted.
type LoginAttempt struct {
	Identifier string
	Secret     string
	OTP        *string
	RiskScore  *float64
}

// HasOTP reports whether the attempt carries a one-time password.
func (a LoginAttempt) HasOTP() bool {
	return a.OTP != nil
}

// RiskRequest describes the request metadata handed to a risk scorer.
type RiskRequest struct {
	Token     string
	Action    string
	IP        string
	UserAgent string
}

// Message is a pre-rendered notification handed to a notifier.
type Message struct {
	To      string
	Subject string
	Body    string
	Kind    string
}

const (
	MessageKindOTP           = "otp"
	MessageKindPasswordReset = "password_reset"
)
