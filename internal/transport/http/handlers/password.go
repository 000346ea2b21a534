package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/authguard/internal/infra/logger"
	"github.com/arklim/authguard/internal/transport/http/middleware"
	"github.com/arklim/authguard/internal/usecase"
)

// PasswordChanger performs authenticated password changes.
type PasswordChanger interface {
	ChangePassword(ctx context.Context, identifier, oldPlain, newPlain string) (usecase.ChangeResult, error)
}

// PasswordResetter runs the emailed reset flow.
type PasswordResetter interface {
	IssueToken(ctx context.Context, email string) (string, error)
	ConsumeToken(ctx context.Context, token, newPlain string) (usecase.ChangeResult, error)
}

// PasswordHandler exposes endpoints for password management.
type PasswordHandler struct {
	lifecycle PasswordChanger
	reset     PasswordResetter
	logger    *zap.Logger
}

// NewPasswordHandler constructs PasswordHandler.
func NewPasswordHandler(lifecycle PasswordChanger, reset PasswordResetter, log *zap.Logger) *PasswordHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PasswordHandler{
		lifecycle: lifecycle,
		reset:     reset,
		logger:    log,
	}
}

func (h *PasswordHandler) ChangePassword(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req PasswordChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid password change payload"))
		return
	}

	result, err := h.lifecycle.ChangePassword(c.Request.Context(), claims.Email, req.OldPassword, req.NewPassword)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidInput, Status: http.StatusBadRequest, Message: "old and new password are required"},
			{Err: usecase.ErrSameCredential, Status: http.StatusUnprocessableEntity, Message: "new password must differ from current password"},
			{Err: usecase.ErrWrongOldCredential, Status: http.StatusUnauthorized, Message: "current password is incorrect"},
			{Err: usecase.ErrNewPasswordInvalid, Status: http.StatusUnprocessableEntity, Message: "password does not meet requirements"},
			{Err: usecase.ErrAccountNotFound, Status: http.StatusUnauthorized, Message: "account not found"},
		}, http.StatusInternalServerError, "failed to change password")
		return
	}

	c.JSON(http.StatusOK, PasswordChangeResponse{
		AccountID:                result.AccountID,
		ChangedAt:                result.ChangedAt,
		ReauthenticationRequired: result.InvalidateSessions,
	})
}

// RequestReset answers 202 whether or not the account exists.
func (h *PasswordHandler) RequestReset(c *gin.Context) {
	var req PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid password reset payload"))
		return
	}

	_, err := h.reset.IssueToken(c.Request.Context(), req.Email)

	var limited *usecase.RateLimitExceededError
	switch {
	case err == nil, errors.Is(err, usecase.ErrAccountNotFound):
	case errors.Is(err, usecase.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "a valid email is required"))
		return
	case errors.As(err, &limited):
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(limited.RetryAfter.Seconds()))))
		c.JSON(http.StatusTooManyRequests, NewErrorResponse(c, "too many reset requests for this address"))
		return
	default:
		h.logger.Error("password reset request failed",
			zap.String("email", logger.MaskEmail(req.Email)),
			zap.String("trace_id", middleware.GetTraceID(c)),
			zap.Error(err),
		)
	}

	c.JSON(http.StatusAccepted, MessageResponse{Message: "if the address is registered, a reset link has been sent"})
}

func (h *PasswordHandler) ConfirmReset(c *gin.Context) {
	var req PasswordResetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid password reset payload"))
		return
	}

	result, err := h.reset.ConsumeToken(c.Request.Context(), req.Token, req.NewPassword)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidInput, Status: http.StatusBadRequest, Message: "token and new password are required"},
			{Err: usecase.ErrResetTokenInvalid, Status: http.StatusBadRequest, Message: "invalid reset token"},
			{Err: usecase.ErrResetTokenExpired, Status: http.StatusGone, Message: "reset token expired"},
			{Err: usecase.ErrNewPasswordInvalid, Status: http.StatusUnprocessableEntity, Message: "password does not meet requirements"},
		}, http.StatusInternalServerError, "failed to reset password")
		return
	}

	c.JSON(http.StatusOK, PasswordChangeResponse{
		AccountID:                result.AccountID,
		ChangedAt:                result.ChangedAt,
		ReauthenticationRequired: result.InvalidateSessions,
	})
}
