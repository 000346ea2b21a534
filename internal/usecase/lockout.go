package usecase

import (
	"context"
	"fmt"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/core/port"
	"github.com/arklim/authguard/internal/infra/config"
	"github.com/arklim/authguard/internal/infra/logger"
)

const (
	defaultLockoutThreshold = 3
	defaultLockoutDuration  = 24 * time.Hour
)

// LockoutTracker counts consecutive authentication failures and locks accounts for a fixed duration.
type LockoutTracker struct {
	store     port.CredentialStore
	events    port.EventPublisher
	logger    *zap.Logger
	threshold int
	duration  time.Duration
	now       func() time.Time
}

// NewLockoutTracker constructs a LockoutTracker. Non-positive settings fall back to 3 failures and 24h.
func NewLockoutTracker(cfg config.LockoutSettings, store port.CredentialStore, events port.EventPublisher, log *zap.Logger) *LockoutTracker {
	if log == nil {
		log = zap.NewNop()
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = defaultLockoutThreshold
	}
	duration := cfg.Duration
	if duration <= 0 {
		duration = defaultLockoutDuration
	}

	return &LockoutTracker{
		store:     store,
		events:    events,
		logger:    log,
		threshold: threshold,
		duration:  duration,
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (t *LockoutTracker) WithClock(clock func() time.Time) {
	if clock != nil {
		t.now = clock
	}
}

// Duration returns how long a lock lasts.
func (t *LockoutTracker) Duration() time.Duration {
	return t.duration
}

// RecordFailure increments the failure counter and locks the account once the threshold is reached.
// Failures against an account that is already locked change nothing.
// account is refreshed with the persisted state.
func (t *LockoutTracker) RecordFailure(ctx context.Context, account *domain.Account) error {
	now := t.now().UTC()
	var lockedNow bool

	updated, err := t.store.Update(ctx, account.Email, func(acc *domain.Account) error {
		if acc.Locked {
			return port.ErrSkipUpdate
		}
		acc.FailedAttempts++
		if acc.FailedAttempts >= t.threshold {
			acc.Lock(now)
			lockedNow = true
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	*account = *updated

	if lockedNow {
		t.logger.Warn("account locked",
			zap.String("account_id", updated.ID),
			zap.String("email", logger.MaskEmail(updated.Email)),
			zap.Int("failed_attempts", updated.FailedAttempts),
			zap.Duration("duration", t.duration),
		)
		t.publishLocked(ctx, *updated, now)
	}

	return nil
}

// RecordSuccess resets the failure counter. The lock state is left as is.
func (t *LockoutTracker) RecordSuccess(ctx context.Context, account *domain.Account) error {
	updated, err := t.store.Update(ctx, account.Email, func(acc *domain.Account) error {
		if acc.FailedAttempts == 0 {
			return port.ErrSkipUpdate
		}
		acc.FailedAttempts = 0
		return nil
	})
	if err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	*account = *updated
	return nil
}

// TryUnlock releases a lock whose duration has fully elapsed at now.
// StillLocked is returned with the time left; the account is not modified in that case.
func (t *LockoutTracker) TryUnlock(ctx context.Context, account *domain.Account, now time.Time) (domain.LockStatus, time.Duration, error) {
	if !account.Locked {
		return domain.LockStatusNotLocked, 0, nil
	}
	if remaining := t.remaining(*account, now); remaining > 0 {
		return domain.LockStatusStillLocked, remaining, nil
	}

	var unlocked bool
	updated, err := t.store.Update(ctx, account.Email, func(acc *domain.Account) error {
		if !acc.Locked || t.remaining(*acc, now) > 0 {
			return port.ErrSkipUpdate
		}
		acc.Unlock()
		unlocked = true
		return nil
	})
	if err != nil {
		return domain.LockStatusNotLocked, 0, fmt.Errorf("unlock account: %w", err)
	}
	*account = *updated

	switch {
	case unlocked:
		t.logger.Info("account unlocked", zap.String("account_id", updated.ID))
		t.publishUnlocked(ctx, *updated, now)
		return domain.LockStatusUnlocked, 0, nil
	case updated.Locked:
		return domain.LockStatusStillLocked, t.remaining(*updated, now), nil
	default:
		return domain.LockStatusNotLocked, 0, nil
	}
}

func (t *LockoutTracker) remaining(account domain.Account, now time.Time) time.Duration {
	if account.LockedAt == nil {
		return 0
	}
	unlockAt := account.LockedAt.Add(t.duration)
	if now.Before(unlockAt) {
		return unlockAt.Sub(now)
	}
	return 0
}

func (t *LockoutTracker) publishLocked(ctx context.Context, account domain.Account, lockedAt time.Time) {
	if t.events == nil {
		return
	}
	event := domain.AccountLockedEvent{
		EventID:        uuid.NewString(),
		AccountID:      account.ID,
		Email:          account.Email,
		FailedAttempts: account.FailedAttempts,
		LockedAt:       lockedAt,
		LockedUntil:    lockedAt.Add(t.duration),
	}
	if err := t.events.PublishAccountLocked(ctx, event); err != nil {
		t.logger.Warn("publish account locked event failed", zap.String("account_id", account.ID), zap.Error(err))
	}
}

func (t *LockoutTracker) publishUnlocked(ctx context.Context, account domain.Account, at time.Time) {
	if t.events == nil {
		return
	}
	event := domain.AccountUnlockedEvent{
		EventID:    uuid.NewString(),
		AccountID:  account.ID,
		Email:      account.Email,
		UnlockedAt: at.UTC(),
	}
	if err := t.events.PublishAccountUnlocked(ctx, event); err != nil {
		t.logger.Warn("publish account unlocked event failed", zap.String("account_id", account.ID), zap.Error(err))
	}
}
