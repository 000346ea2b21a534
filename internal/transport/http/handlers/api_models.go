package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/transport/http/middleware"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: middleware.GetTraceID(c),
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// AccountSummary is the public view of an account.
type AccountSummary struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	Name              string     `json:"name,omitempty"`
	Enabled           bool       `json:"enabled"`
	Roles             []string   `json:"roles"`
	PasswordChangedAt *time.Time `json:"password_changed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// RegistrationRequest defines the payload for the register endpoint.
type RegistrationRequest struct {
	Email    string `json:"email" binding:"required"`
	Name     string `json:"name"`
	Password string `json:"password" binding:"required"`
}

// LoginRequest defines the payload for the login endpoint.
// OTP is sent on the second step of a challenged login.
type LoginRequest struct {
	Email          string  `json:"email" binding:"required"`
	Password       string  `json:"password"`
	OTP            *string `json:"otp,omitempty"`
	RecaptchaToken string  `json:"recaptcha_token,omitempty"`
}

// LoginResponse is returned when a login yields an access token.
type LoginResponse struct {
	Decision    domain.DecisionKind `json:"decision"`
	AccessToken string              `json:"access_token"`
	TokenType   string              `json:"token_type"`
	Scope       string              `json:"scope"`
	ExpiresIn   int                 `json:"expires_in"`
	ExpiresAt   time.Time           `json:"expires_at"`
	Account     AccountSummary      `json:"account"`
}

// OTPChallengeResponse is returned when a login must be completed with a one-time password.
type OTPChallengeResponse struct {
	Decision     domain.DecisionKind `json:"decision"`
	Message      string              `json:"message"`
	OTPExpiresAt *time.Time          `json:"otp_expires_at,omitempty"`
}

// LockedResponse is returned for logins against a locked account.
type LockedResponse struct {
	Decision   domain.DecisionKind `json:"decision"`
	Error      string              `json:"error"`
	RetryAfter int                 `json:"retry_after"`
	TraceID    string              `json:"trace_id,omitempty"`
}

// PasswordChangeRequest defines the payload for the authenticated password change endpoint.
type PasswordChangeRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// PasswordChangeResponse reports a completed password change.
// Tokens issued before ChangedAt stop being accepted.
type PasswordChangeResponse struct {
	AccountID                string    `json:"account_id"`
	ChangedAt                time.Time `json:"changed_at"`
	ReauthenticationRequired bool      `json:"reauthentication_required"`
}

// PasswordResetRequest starts the emailed reset flow.
type PasswordResetRequest struct {
	Email string `json:"email" binding:"required"`
}

// PasswordResetConfirmRequest completes the reset flow.
type PasswordResetConfirmRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// JWKSKey describes an individual JSON Web Key in the JWKS response.
type JWKSKey struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// AssignRolesRequest replaces the roles of an account. The user role is always kept.
type AssignRolesRequest struct {
	Roles []string `json:"roles"`
}

// SetEnabledRequest enables or disables an account.
type SetEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// RolesResponse lists the roles that can be granted.
type RolesResponse struct {
	Roles []string `json:"roles"`
}

// JWKSResponse represents the JSON Web Key Set payload.
type JWKSResponse struct {
	Keys []JWKSKey `json:"keys"`
}

func newAccountSummary(account domain.Account) AccountSummary {
	return AccountSummary{
		ID:                account.ID,
		Email:             account.Email,
		Name:              account.Name,
		Enabled:           account.Enabled,
		Roles:             account.Roles,
		PasswordChangedAt: account.PasswordChangedAt,
		CreatedAt:         account.CreatedAt,
	}
}
