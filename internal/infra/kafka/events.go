package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/core/port"
	"github.com/arklim/authguard/internal/infra/config"
)

const schemaVersion = "1.0"

// Event types. Topics are derived from them through Producer.TopicName.
const (
	EventAccountRegistered      = "authguard.account.registered"
	EventAccountLocked          = "authguard.account.locked"
	EventAccountUnlocked        = "authguard.account.unlocked"
	EventOTPIssued              = "authguard.otp.issued"
	EventPasswordChanged        = "authguard.password.changed"
	EventPasswordResetRequested = "authguard.password.reset_requested"
	EventNotificationFailed     = "authguard.notification.failed"
)

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, accountID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		UserID:    accountID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Key:   sarama.StringEncoder(accountID),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishAccountRegistered publishes authguard.account.registered events.
func (p *EventPublisher) PublishAccountRegistered(ctx context.Context, event domain.AccountRegisteredEvent) error {
	payload := struct {
		AccountID    string    `json:"account_id"`
		Email        string    `json:"email"`
		RegisteredAt time.Time `json:"registered_at"`
	}{
		AccountID:    event.AccountID,
		Email:        event.Email,
		RegisteredAt: event.RegisteredAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventAccountRegistered, event.AccountID, event.RegisteredAt, payload)
}

// PublishAccountLocked publishes authguard.account.locked events.
func (p *EventPublisher) PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error {
	payload := struct {
		AccountID      string    `json:"account_id"`
		Email          string    `json:"email"`
		FailedAttempts int       `json:"failed_attempts"`
		LockedAt       time.Time `json:"locked_at"`
		LockedUntil    time.Time `json:"locked_until"`
	}{
		AccountID:      event.AccountID,
		Email:          event.Email,
		FailedAttempts: event.FailedAttempts,
		LockedAt:       event.LockedAt.UTC(),
		LockedUntil:    event.LockedUntil.UTC(),
	}

	return p.publish(ctx, event.EventID, EventAccountLocked, event.AccountID, event.LockedAt, payload)
}

// PublishAccountUnlocked publishes authguard.account.unlocked events.
func (p *EventPublisher) PublishAccountUnlocked(ctx context.Context, event domain.AccountUnlockedEvent) error {
	payload := struct {
		AccountID  string    `json:"account_id"`
		Email      string    `json:"email"`
		UnlockedAt time.Time `json:"unlocked_at"`
	}{
		AccountID:  event.AccountID,
		Email:      event.Email,
		UnlockedAt: event.UnlockedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventAccountUnlocked, event.AccountID, event.UnlockedAt, payload)
}

// PublishOTPIssued publishes authguard.otp.issued events.
func (p *EventPublisher) PublishOTPIssued(ctx context.Context, event domain.OTPIssuedEvent) error {
	payload := struct {
		AccountID         string    `json:"account_id"`
		MaskedDestination string    `json:"masked_destination"`
		IssuedAt          time.Time `json:"issued_at"`
		ExpiresAt         time.Time `json:"expires_at"`
		Delivered         bool      `json:"delivered"`
	}{
		AccountID:         event.AccountID,
		MaskedDestination: event.MaskedDestination,
		IssuedAt:          event.IssuedAt.UTC(),
		ExpiresAt:         event.ExpiresAt.UTC(),
		Delivered:         event.Delivered,
	}

	return p.publish(ctx, event.EventID, EventOTPIssued, event.AccountID, event.IssuedAt, payload)
}

// PublishPasswordChanged publishes authguard.password.changed events.
func (p *EventPublisher) PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error {
	payload := struct {
		AccountID string    `json:"account_id"`
		ChangedAt time.Time `json:"changed_at"`
		Reason    string    `json:"reason"`
	}{
		AccountID: event.AccountID,
		ChangedAt: event.ChangedAt.UTC(),
		Reason:    event.Reason,
	}

	return p.publish(ctx, event.EventID, EventPasswordChanged, event.AccountID, event.ChangedAt, payload)
}

// PublishPasswordResetRequested publishes authguard.password.reset_requested events.
func (p *EventPublisher) PublishPasswordResetRequested(ctx context.Context, event domain.PasswordResetRequestedEvent) error {
	payload := struct {
		AccountID         string     `json:"account_id"`
		MaskedDestination string     `json:"masked_destination"`
		RequestedAt       time.Time  `json:"requested_at"`
		ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	}{
		AccountID:         event.AccountID,
		MaskedDestination: event.MaskedDestination,
		RequestedAt:       event.RequestedAt.UTC(),
	}
	if event.ExpiresAt != nil {
		expires := event.ExpiresAt.UTC()
		payload.ExpiresAt = &expires
	}

	return p.publish(ctx, event.EventID, EventPasswordResetRequested, event.AccountID, event.RequestedAt, payload)
}

// PublishNotificationFailed publishes authguard.notification.failed events.
func (p *EventPublisher) PublishNotificationFailed(ctx context.Context, event domain.NotificationFailedEvent) error {
	payload := struct {
		AccountID         string    `json:"account_id"`
		Kind              string    `json:"kind"`
		MaskedDestination string    `json:"masked_destination"`
		FailedAt          time.Time `json:"failed_at"`
		Reason            string    `json:"reason"`
	}{
		AccountID:         event.AccountID,
		Kind:              event.Kind,
		MaskedDestination: event.MaskedDestination,
		FailedAt:          event.FailedAt.UTC(),
		Reason:            event.Reason,
	}

	return p.publish(ctx, event.EventID, EventNotificationFailed, event.AccountID, event.FailedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
