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
	"github.com/arklim/authguard/internal/repository"
)

const (
	defaultPasswordMaxAge = 30 * 24 * time.Hour

	passwordChangeReason = "password_change"
	passwordResetReason  = "password_reset"
)

// ChangeResult reports a completed password change. Callers must drop every session issued before ChangedAt.
type ChangeResult struct {
	AccountID          string
	ChangedAt          time.Time
	InvalidateSessions bool
}

// PasswordLifecycle tracks password age and performs self-service password changes.
type PasswordLifecycle struct {
	store  port.CredentialStore
	hasher port.PasswordHasher
	policy port.PasswordPolicyValidator
	events port.EventPublisher
	logger *zap.Logger
	maxAge time.Duration
	now    func() time.Time
}

// NewPasswordLifecycle constructs a PasswordLifecycle. policy may be nil to accept any non-empty password.
func NewPasswordLifecycle(cfg config.PasswordSettings, store port.CredentialStore, hasher port.PasswordHasher, policy port.PasswordPolicyValidator, events port.EventPublisher, log *zap.Logger) *PasswordLifecycle {
	if log == nil {
		log = zap.NewNop()
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = defaultPasswordMaxAge
	}
	return &PasswordLifecycle{
		store:  store,
		hasher: hasher,
		policy: policy,
		events: events,
		logger: log,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// WithClock overrides the time source.
func (p *PasswordLifecycle) WithClock(clock func() time.Time) {
	if clock != nil {
		p.now = clock
	}
}

// IsExpired reports whether the password is older than the maximum age.
// Accounts without a recorded change time never expire.
func (p *PasswordLifecycle) IsExpired(account domain.Account, now time.Time) bool {
	if account.PasswordChangedAt == nil {
		return false
	}
	return now.After(account.PasswordChangedAt.Add(p.maxAge))
}

// ChangePassword replaces the password of identifier after verifying the current one.
func (p *PasswordLifecycle) ChangePassword(ctx context.Context, identifier, oldPlain, newPlain string) (ChangeResult, error) {
	email := normalizeEmail(identifier)
	if email == "" || oldPlain == "" || strings.TrimSpace(newPlain) == "" {
		return ChangeResult{}, ErrInvalidInput
	}
	if newPlain == oldPlain {
		return ChangeResult{}, ErrSameCredential
	}

	account, err := p.store.FindByIdentifier(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ChangeResult{}, ErrAccountNotFound
		}
		return ChangeResult{}, fmt.Errorf("lookup account: %w", err)
	}

	ok, err := p.hasher.Verify(oldPlain, account.PasswordHash)
	if err != nil {
		return ChangeResult{}, fmt.Errorf("verify current password: %w", err)
	}
	if !ok {
		return ChangeResult{}, ErrWrongOldCredential
	}

	if err := p.validateNew(newPlain, *account); err != nil {
		return ChangeResult{}, err
	}

	verifiedHash := account.PasswordHash
	changedAt, err := p.storeNewPassword(ctx, account.Email, newPlain, func(acc *domain.Account) error {
		if acc.PasswordHash != verifiedHash {
			return ErrWrongOldCredential
		}
		return nil
	})
	if err != nil {
		return ChangeResult{}, err
	}

	p.logger.Info("password changed", zap.String("account_id", account.ID))
	p.publishChanged(ctx, account.ID, changedAt, passwordChangeReason)

	return ChangeResult{AccountID: account.ID, ChangedAt: changedAt, InvalidateSessions: true}, nil
}

func (p *PasswordLifecycle) validateNew(password string, account domain.Account) error {
	if p.policy == nil {
		return nil
	}
	if err := p.policy.Validate(password, domain.PasswordContext{Email: account.Email, Name: account.Name}); err != nil {
		return fmt.Errorf("%w: %v", ErrNewPasswordInvalid, err)
	}
	return nil
}

// storeNewPassword hashes and persists plain. guard runs inside the update and may abort it.
func (p *PasswordLifecycle) storeNewPassword(ctx context.Context, email, plain string, guard port.AccountMutation) (time.Time, error) {
	hash, err := p.hasher.Hash(plain)
	if err != nil {
		return time.Time{}, fmt.Errorf("hash password: %w", err)
	}

	changedAt := p.now().UTC()
	_, err = p.store.Update(ctx, email, func(acc *domain.Account) error {
		if guard != nil {
			if err := guard(acc); err != nil {
				return err
			}
		}
		acc.SetPassword(hash, changedAt)
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return time.Time{}, ErrAccountNotFound
		}
		if errors.Is(err, ErrResetTokenInvalid) || errors.Is(err, ErrWrongOldCredential) {
			return time.Time{}, err
		}
		return time.Time{}, fmt.Errorf("store password: %w", err)
	}
	return changedAt, nil
}

func (p *PasswordLifecycle) publishChanged(ctx context.Context, accountID string, changedAt time.Time, reason string) {
	if p.events == nil {
		return
	}
	event := domain.PasswordChangedEvent{
		EventID:   uuid.NewString(),
		AccountID: accountID,
		ChangedAt: changedAt,
		Reason:    reason,
	}
	if err := p.events.PublishPasswordChanged(ctx, event); err != nil {
		p.logger.Warn("publish password changed event failed", zap.String("account_id", accountID), zap.Error(err))
	}
}

func normalizeEmail(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
