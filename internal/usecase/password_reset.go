package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/core/port"
	"github.com/arklim/authguard/internal/infra/config"
	"github.com/arklim/authguard/internal/infra/logger"
	"github.com/arklim/authguard/internal/infra/security"
	"github.com/arklim/authguard/internal/repository"
)

const (
	resetTokenBytes             = 32
	passwordResetRateLimitScope = "password_reset"
)

// PasswordResetFlow issues single-use reset links and applies the new password when a link is followed.
type PasswordResetFlow struct {
	store      port.CredentialStore
	notifier   port.Notifier
	events     port.EventPublisher
	recorder   port.DecisionRecorder
	rateLimits port.RateLimitStore
	lifecycle  *PasswordLifecycle
	logger     *zap.Logger
	ttl        time.Duration
	baseURL    string
	limit      int
	window     time.Duration
	now        func() time.Time
}

// NewPasswordResetFlow constructs a PasswordResetFlow. rateLimits may be nil to disable per-account throttling.
func NewPasswordResetFlow(cfg *config.AppConfig, store port.CredentialStore, lifecycle *PasswordLifecycle, notifier port.Notifier, events port.EventPublisher, recorder port.DecisionRecorder, rateLimits port.RateLimitStore, log *zap.Logger) *PasswordResetFlow {
	if log == nil {
		log = zap.NewNop()
	}
	if recorder == nil {
		recorder = port.NopRecorder{}
	}
	flow := &PasswordResetFlow{
		store:      store,
		notifier:   notifier,
		events:     events,
		recorder:   recorder,
		rateLimits: rateLimits,
		lifecycle:  lifecycle,
		logger:     log,
		now:        time.Now,
	}
	if cfg != nil {
		flow.ttl = cfg.Reset.TokenTTL
		flow.baseURL = strings.TrimSpace(cfg.Reset.BaseURL)
		flow.limit = cfg.RateLimit.PasswordResetMaxAttempts
		flow.window = cfg.RateLimit.WindowDuration
	}
	return flow
}

// WithClock overrides the time source.
func (f *PasswordResetFlow) WithClock(clock func() time.Time) {
	if clock != nil {
		f.now = clock
	}
}

// IssueToken stores the hash of a new reset token for email and mails the reset link.
// The plaintext token is returned so callers can surface it in tests and tooling; it is never persisted.
func (f *PasswordResetFlow) IssueToken(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", ErrInvalidInput
	}

	now := f.now().UTC()
	if err := f.enforceRateLimit(ctx, email, now); err != nil {
		return "", err
	}

	token, err := security.GenerateSecureToken(resetTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	hash := security.HashToken(token)

	account, err := f.store.Update(ctx, email, func(acc *domain.Account) error {
		acc.SetResetToken(hash, now)
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrAccountNotFound
		}
		return "", fmt.Errorf("store reset token: %w", err)
	}

	masked := logger.MaskEmail(account.Email)
	if err := f.notifier.Send(ctx, renderResetMessage(*account, f.baseURL, token)); err != nil {
		f.logger.Error("password reset delivery failed",
			zap.String("account_id", account.ID),
			zap.String("destination", masked),
			zap.Error(err),
		)
		f.recorder.RecordDeliveryFailure(domain.MessageKindPasswordReset)
		f.publishDeliveryFailure(ctx, *account, masked, err)
	}

	f.logger.Info("password reset requested", zap.String("account_id", account.ID), zap.String("destination", masked))
	f.publishRequested(ctx, *account, masked, now)

	return token, nil
}

// ConsumeToken sets newPlain as the password of the account owning token and invalidates the token.
func (f *PasswordResetFlow) ConsumeToken(ctx context.Context, token, newPlain string) (ChangeResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return ChangeResult{}, ErrResetTokenInvalid
	}
	if strings.TrimSpace(newPlain) == "" {
		return ChangeResult{}, ErrInvalidInput
	}

	hash := security.HashToken(token)
	account, err := f.store.FindByResetToken(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ChangeResult{}, ErrResetTokenInvalid
		}
		return ChangeResult{}, fmt.Errorf("lookup reset token: %w", err)
	}

	now := f.now().UTC()
	if f.expired(*account, now) {
		return ChangeResult{}, ErrResetTokenExpired
	}

	if err := f.lifecycle.validateNew(newPlain, *account); err != nil {
		return ChangeResult{}, err
	}

	changedAt, err := f.lifecycle.storeNewPassword(ctx, account.Email, newPlain, func(acc *domain.Account) error {
		if acc.ResetTokenHash == nil || *acc.ResetTokenHash != hash {
			return ErrResetTokenInvalid
		}
		acc.ClearResetToken()
		return nil
	})
	if err != nil {
		return ChangeResult{}, err
	}

	f.logger.Info("password reset completed", zap.String("account_id", account.ID))
	f.lifecycle.publishChanged(ctx, account.ID, changedAt, passwordResetReason)

	return ChangeResult{AccountID: account.ID, ChangedAt: changedAt, InvalidateSessions: true}, nil
}

func (f *PasswordResetFlow) expired(account domain.Account, now time.Time) bool {
	if f.ttl <= 0 || account.ResetTokenIssuedAt == nil {
		return false
	}
	return now.After(account.ResetTokenIssuedAt.Add(f.ttl))
}

func (f *PasswordResetFlow) expiresAt(issuedAt time.Time) *time.Time {
	if f.ttl <= 0 {
		return nil
	}
	expires := issuedAt.Add(f.ttl)
	return &expires
}

func (f *PasswordResetFlow) enforceRateLimit(ctx context.Context, email string, now time.Time) error {
	if f.rateLimits == nil || f.limit <= 0 {
		return nil
	}
	window := f.window
	if window <= 0 {
		window = time.Hour
	}

	key := passwordResetRateLimitScope + ":" + email

	if err := f.rateLimits.TrimWindow(ctx, key, window, now); err != nil {
		f.logger.Warn("password reset rate limit trim failed", zap.Error(err))
		return nil
	}

	count, err := f.rateLimits.CountAttempts(ctx, key, window, now)
	if err != nil {
		f.logger.Warn("password reset rate limit count failed", zap.Error(err))
		return nil
	}

	if count >= f.limit {
		retryAfter := time.Duration(0)
		if oldest, ok, err := f.rateLimits.OldestAttempt(ctx, key, window, now); err == nil && ok {
			if reset := oldest.Add(window); reset.After(now) {
				retryAfter = reset.Sub(now)
			}
		} else if err != nil {
			f.logger.Warn("password reset rate limit oldest lookup failed", zap.Error(err))
		}
		return &RateLimitExceededError{Scope: passwordResetRateLimitScope, RetryAfter: retryAfter}
	}

	if err := f.rateLimits.RecordAttempt(ctx, key, now); err != nil {
		f.logger.Warn("password reset rate limit record failed", zap.Error(err))
	}
	return nil
}

func (f *PasswordResetFlow) publishRequested(ctx context.Context, account domain.Account, masked string, at time.Time) {
	if f.events == nil {
		return
	}
	event := domain.PasswordResetRequestedEvent{
		EventID:           uuid.NewString(),
		AccountID:         account.ID,
		MaskedDestination: masked,
		RequestedAt:       at,
		ExpiresAt:         f.expiresAt(at),
	}
	if err := f.events.PublishPasswordResetRequested(ctx, event); err != nil {
		f.logger.Warn("publish password reset requested failed", zap.String("account_id", account.ID), zap.Error(err))
	}
}

func (f *PasswordResetFlow) publishDeliveryFailure(ctx context.Context, account domain.Account, masked string, cause error) {
	if f.events == nil {
		return
	}
	event := domain.NotificationFailedEvent{
		EventID:           uuid.NewString(),
		AccountID:         account.ID,
		Kind:              domain.MessageKindPasswordReset,
		MaskedDestination: masked,
		FailedAt:          f.now().UTC(),
		Reason:            cause.Error(),
	}
	if err := f.events.PublishNotificationFailed(ctx, event); err != nil {
		f.logger.Warn("publish notification failed event failed", zap.String("account_id", account.ID), zap.Error(err))
	}
}
