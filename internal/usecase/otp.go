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
	"github.com/arklim/authguard/internal/infra/security"
)

const (
	defaultOTPLength             = 8
	defaultOTPValidity           = 5 * time.Minute
	defaultOTPSuspicionThreshold = 0.5
)

// OTPIssue describes a freshly issued one-time password. The code itself is only handed to the notifier.
type OTPIssue struct {
	IssuedAt  time.Time
	ExpiresAt time.Time
	Delivered bool
}

// OTPChallenge issues, validates and clears the one-time passwords demanded from suspicious logins.
type OTPChallenge struct {
	store     port.CredentialStore
	hasher    port.PasswordHasher
	notifier  port.Notifier
	events    port.EventPublisher
	recorder  port.DecisionRecorder
	logger    *zap.Logger
	length    int
	validity  time.Duration
	threshold float64
	now       func() time.Time
	generate  func(length int) (string, error)
}

// NewOTPChallenge constructs an OTPChallenge.
func NewOTPChallenge(cfg config.OTPSettings, store port.CredentialStore, hasher port.PasswordHasher, notifier port.Notifier, events port.EventPublisher, recorder port.DecisionRecorder, log *zap.Logger) *OTPChallenge {
	if log == nil {
		log = zap.NewNop()
	}
	if recorder == nil {
		recorder = port.NopRecorder{}
	}
	length := cfg.Length
	if length <= 0 {
		length = defaultOTPLength
	}
	validity := cfg.Validity
	if validity <= 0 {
		validity = defaultOTPValidity
	}
	// Zero disables score-based challenges.
	threshold := cfg.SuspicionThreshold
	if threshold < 0 || threshold > 1 {
		threshold = defaultOTPSuspicionThreshold
	}

	return &OTPChallenge{
		store:     store,
		hasher:    hasher,
		notifier:  notifier,
		events:    events,
		recorder:  recorder,
		logger:    log,
		length:    length,
		validity:  validity,
		threshold: threshold,
		now:       time.Now,
		generate:  security.GenerateAlphanumericCode,
	}
}

// WithClock overrides the time source.
func (c *OTPChallenge) WithClock(clock func() time.Time) {
	if clock != nil {
		c.now = clock
	}
}

// Status reports whether a login for account must be challenged.
// A stored, unexpired code takes precedence over the risk score. A missing score never requires a code.
func (c *OTPChallenge) Status(account domain.Account, riskScore *float64, now time.Time) domain.OTPStatus {
	if account.HasOTP() && !c.expired(account, now) {
		return domain.OTPAlreadyPending
	}
	if riskScore != nil && *riskScore < c.threshold {
		return domain.OTPRequired
	}
	return domain.OTPNotRequired
}

// ExpiresAt returns when the stored code expires, or nil when no code is stored.
func (c *OTPChallenge) ExpiresAt(account domain.Account) *time.Time {
	if !account.HasOTP() {
		return nil
	}
	expires := account.OTPIssuedAt.Add(c.validity)
	return &expires
}

// Issue generates a new code, persists only its hash and hands the plaintext to the notifier.
// A delivery failure is logged, counted and published but does not fail the call.
func (c *OTPChallenge) Issue(ctx context.Context, account *domain.Account) (OTPIssue, error) {
	code, err := c.generate(c.length)
	if err != nil {
		return OTPIssue{}, fmt.Errorf("generate otp: %w", err)
	}
	hash, err := c.hasher.Hash(code)
	if err != nil {
		return OTPIssue{}, fmt.Errorf("hash otp: %w", err)
	}

	issuedAt := c.now().UTC()
	updated, err := c.store.Update(ctx, account.Email, func(acc *domain.Account) error {
		acc.SetOTP(hash, issuedAt)
		return nil
	})
	if err != nil {
		return OTPIssue{}, fmt.Errorf("store otp: %w", err)
	}
	*account = *updated

	issue := OTPIssue{IssuedAt: issuedAt, ExpiresAt: issuedAt.Add(c.validity)}
	masked := logger.MaskEmail(account.Email)

	msg := renderOTPMessage(*account, code, c.validity)
	if err := c.notifier.Send(ctx, msg); err != nil {
		c.logger.Error("otp delivery failed",
			zap.String("account_id", account.ID),
			zap.String("destination", masked),
			zap.Error(err),
		)
		c.recorder.RecordDeliveryFailure(domain.MessageKindOTP)
		c.publishDeliveryFailure(ctx, *account, masked, err)
	} else {
		issue.Delivered = true
	}

	c.logger.Info("otp issued",
		zap.String("account_id", account.ID),
		zap.String("destination", masked),
		zap.Time("expires_at", issue.ExpiresAt),
		zap.Bool("delivered", issue.Delivered),
	)
	c.publishIssued(ctx, *account, masked, issue)

	return issue, nil
}

// Validate checks code against the stored hash and consumes it on success.
// Only one of several concurrent validations of the same code can succeed.
func (c *OTPChallenge) Validate(ctx context.Context, account *domain.Account, code string, now time.Time) (bool, error) {
	if !account.HasOTP() || c.expired(*account, now) {
		return false, nil
	}

	expected := *account.OTPHash
	ok, err := c.hasher.Verify(code, expected)
	if err != nil {
		return false, fmt.Errorf("verify otp: %w", err)
	}
	if !ok {
		return false, nil
	}

	var consumed bool
	updated, err := c.store.Update(ctx, account.Email, func(acc *domain.Account) error {
		if acc.OTPHash == nil || *acc.OTPHash != expected {
			return port.ErrSkipUpdate
		}
		acc.ClearOTP()
		consumed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("consume otp: %w", err)
	}
	*account = *updated

	return consumed, nil
}

// Clear removes any stored code. Nothing is written when no code is stored.
func (c *OTPChallenge) Clear(ctx context.Context, account *domain.Account) error {
	if !account.HasOTP() {
		return nil
	}
	updated, err := c.store.Update(ctx, account.Email, func(acc *domain.Account) error {
		if acc.OTPHash == nil && acc.OTPIssuedAt == nil {
			return port.ErrSkipUpdate
		}
		acc.ClearOTP()
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear otp: %w", err)
	}
	*account = *updated
	return nil
}

func (c *OTPChallenge) expired(account domain.Account, now time.Time) bool {
	if account.OTPIssuedAt == nil {
		return true
	}
	return now.After(account.OTPIssuedAt.Add(c.validity))
}

func (c *OTPChallenge) publishIssued(ctx context.Context, account domain.Account, masked string, issue OTPIssue) {
	if c.events == nil {
		return
	}
	event := domain.OTPIssuedEvent{
		EventID:           uuid.NewString(),
		AccountID:         account.ID,
		MaskedDestination: masked,
		IssuedAt:          issue.IssuedAt,
		ExpiresAt:         issue.ExpiresAt,
		Delivered:         issue.Delivered,
	}
	if err := c.events.PublishOTPIssued(ctx, event); err != nil {
		c.logger.Warn("publish otp issued event failed", zap.String("account_id", account.ID), zap.Error(err))
	}
}

func (c *OTPChallenge) publishDeliveryFailure(ctx context.Context, account domain.Account, masked string, cause error) {
	if c.events == nil {
		return
	}
	event := domain.NotificationFailedEvent{
		EventID:           uuid.NewString(),
		AccountID:         account.ID,
		Kind:              domain.MessageKindOTP,
		MaskedDestination: masked,
		FailedAt:          c.now().UTC(),
		Reason:            cause.Error(),
	}
	if err := c.events.PublishNotificationFailed(ctx, event); err != nil {
		c.logger.Warn("publish notification failed event failed", zap.String("account_id", account.ID), zap.Error(err))
	}
}
