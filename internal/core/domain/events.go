package domain

import "time"

// AccountRegisteredEvent represents the payload for authguard.account.registered messages.
type AccountRegisteredEvent struct {
	EventID      string
	AccountID    string
	Email        string
	RegisteredAt time.Time
}

// AccountLockedEvent represents the payload for authguard.account.locked messages.
type AccountLockedEvent struct {
	EventID        string
	AccountID      string
	Email          string
	FailedAttempts int
	LockedAt       time.Time
	LockedUntil    time.Time
}

// AccountUnlockedEvent represents the payload for authguard.account.unlocked messages.
type AccountUnlockedEvent struct {
	EventID    string
	AccountID  string
	Email      string
	UnlockedAt time.Time
}

// OTPIssuedEvent represents the payload for authguard.otp.issued messages.
// The code itself is never part of the event.
type OTPIssuedEvent struct {
	EventID           string
	AccountID         string
	MaskedDestination string
	IssuedAt          time.Time
	ExpiresAt         time.Time
	Delivered         bool
}

// PasswordChangedEvent represents the payload for authguard.password.changed messages.
type PasswordChangedEvent struct {
	EventID   string
	AccountID string
	ChangedAt time.Time
	Reason    string
}

// PasswordResetRequestedEvent represents the payload for authguard.password.reset_requested messages.
type PasswordResetRequestedEvent struct {
	EventID           string
	AccountID         string
	MaskedDestination string
	RequestedAt       time.Time
	ExpiresAt         *time.Time
}

// NotificationFailedEvent represents the payload for authguard.notification.failed messages.
type NotificationFailedEvent struct {
	EventID           string
	AccountID         string
	Kind              string
	MaskedDestination string
	FailedAt          time.Time
	Reason            string
}
