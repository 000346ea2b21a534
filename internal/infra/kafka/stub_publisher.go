package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Used when no brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a logging event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, accountID string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	base := []zap.Field{
		zap.String("event_type", eventType),
		zap.String("account_id", accountID),
		zap.Time("timestamp", at.UTC()),
	}
	p.logger.Info("stub event published", append(base, fields...)...)
}

func (p *StubPublisher) PublishAccountRegistered(_ context.Context, event domain.AccountRegisteredEvent) error {
	p.logEvent(EventAccountRegistered, event.AccountID, event.RegisteredAt)
	return nil
}

func (p *StubPublisher) PublishAccountLocked(_ context.Context, event domain.AccountLockedEvent) error {
	p.logEvent(EventAccountLocked, event.AccountID, event.LockedAt,
		zap.Int("failed_attempts", event.FailedAttempts),
		zap.Time("locked_until", event.LockedUntil),
	)
	return nil
}

func (p *StubPublisher) PublishAccountUnlocked(_ context.Context, event domain.AccountUnlockedEvent) error {
	p.logEvent(EventAccountUnlocked, event.AccountID, event.UnlockedAt)
	return nil
}

func (p *StubPublisher) PublishOTPIssued(_ context.Context, event domain.OTPIssuedEvent) error {
	p.logEvent(EventOTPIssued, event.AccountID, event.IssuedAt,
		zap.String("destination", event.MaskedDestination),
		zap.Bool("delivered", event.Delivered),
	)
	return nil
}

func (p *StubPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	p.logEvent(EventPasswordChanged, event.AccountID, event.ChangedAt, zap.String("reason", event.Reason))
	return nil
}

func (p *StubPublisher) PublishPasswordResetRequested(_ context.Context, event domain.PasswordResetRequestedEvent) error {
	p.logEvent(EventPasswordResetRequested, event.AccountID, event.RequestedAt,
		zap.String("destination", event.MaskedDestination),
	)
	return nil
}

func (p *StubPublisher) PublishNotificationFailed(_ context.Context, event domain.NotificationFailedEvent) error {
	p.logEvent(EventNotificationFailed, event.AccountID, event.FailedAt,
		zap.String("kind", event.Kind),
		zap.String("reason", event.Reason),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
