package port

import (
	"context"

	"github.com/arklim/authguard/internal/core/domain"
)

// EventPublisher publishes domain events to the message bus.
type EventPublisher interface {
	PublishAccountRegistered(ctx context.Context, event domain.AccountRegisteredEvent) error
	PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error
	PublishAccountUnlocked(ctx context.Context, event domain.AccountUnlockedEvent) error
	PublishOTPIssued(ctx context.Context, event domain.OTPIssuedEvent) error
	PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error
	PublishPasswordResetRequested(ctx context.Context, event domain.PasswordResetRequestedEvent) error
	PublishNotificationFailed(ctx context.Context, event domain.NotificationFailedEvent) error
}
