package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/infra/config"
)

type fakeAsyncProducer struct {
	input  chan *sarama.ProducerMessage
	errors chan *sarama.ProducerError
}

func newFakeAsyncProducer() *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:  make(chan *sarama.ProducerMessage, 1),
		errors: make(chan *sarama.ProducerError, 1),
	}
}

func (f *fakeAsyncProducer) AsyncClose() {}

func (f *fakeAsyncProducer) Close() error { return nil }

func (f *fakeAsyncProducer) Input() chan<- *sarama.ProducerMessage { return f.input }

func (f *fakeAsyncProducer) Successes() <-chan *sarama.ProducerMessage { return nil }

func (f *fakeAsyncProducer) Errors() <-chan *sarama.ProducerError { return f.errors }

func (f *fakeAsyncProducer) IsTransactional() bool { return false }

func (f *fakeAsyncProducer) BeginTxn() error { return nil }

func (f *fakeAsyncProducer) CommitTxn() error { return nil }

func (f *fakeAsyncProducer) AbortTxn() error { return nil }

func (f *fakeAsyncProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (f *fakeAsyncProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func (f *fakeAsyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnStatusFlag(0)
}

func newTestPublisher(t *testing.T) (*EventPublisher, *fakeAsyncProducer) {
	t.Helper()
	asyncProducer := newFakeAsyncProducer()
	producer := newProducer(asyncProducer, config.KafkaSettings{TopicPrefix: "authguard"}, zaptest.NewLogger(t))
	publisher := NewEventPublisher(producer, config.AppSettings{
		Name: "authguard",
		Env:  "test",
	}, zaptest.NewLogger(t))
	return publisher, asyncProducer
}

func receiveEnvelope(t *testing.T, producer *fakeAsyncProducer) (*sarama.ProducerMessage, map[string]any) {
	t.Helper()
	select {
	case msg := <-producer.input:
		bytes, err := msg.Value.Encode()
		if err != nil {
			t.Fatalf("Value.Encode returned error: %v", err)
		}
		var envelope map[string]any
		if err := json.Unmarshal(bytes, &envelope); err != nil {
			t.Fatalf("failed to unmarshal envelope: %v", err)
		}
		return msg, envelope
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message on async producer input channel")
	}
	return nil, nil
}

func TestPublishAccountLocked(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	lockedAt := time.Date(2025, 10, 31, 12, 0, 0, 0, time.UTC)
	event := domain.AccountLockedEvent{
		EventID:        "event-123",
		AccountID:      "acc-789",
		Email:          "ada@example.com",
		FailedAttempts: 3,
		LockedAt:       lockedAt,
		LockedUntil:    lockedAt.Add(24 * time.Hour),
	}

	if err := publisher.PublishAccountLocked(context.Background(), event); err != nil {
		t.Fatalf("PublishAccountLocked returned error: %v", err)
	}

	msg, envelope := receiveEnvelope(t, asyncProducer)
	if msg.Topic != EventAccountLocked {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	key, err := msg.Key.Encode()
	if err != nil || string(key) != event.AccountID {
		t.Fatalf("unexpected key: %q (%v)", key, err)
	}
	if got := envelope["event_id"]; got != event.EventID {
		t.Fatalf("unexpected event_id: %v", got)
	}
	if got := envelope["event_type"]; got != EventAccountLocked {
		t.Fatalf("unexpected event_type: %v", got)
	}
	if got := envelope["user_id"]; got != event.AccountID {
		t.Fatalf("unexpected user_id: %v", got)
	}
	if got := envelope["version"]; got != schemaVersion {
		t.Fatalf("unexpected version: %v", got)
	}
	if got := envelope["timestamp"]; got != lockedAt.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp: %v", got)
	}

	payload, ok := envelope["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload not a map: %T", envelope["payload"])
	}
	if got, ok := payload["failed_attempts"].(float64); !ok || int(got) != 3 {
		t.Fatalf("unexpected failed_attempts: %v", payload["failed_attempts"])
	}
	if got := payload["locked_until"]; got != lockedAt.Add(24*time.Hour).Format(time.RFC3339Nano) {
		t.Fatalf("unexpected locked_until: %v", got)
	}

	metadata, ok := envelope["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("envelope metadata not a map: %T", envelope["metadata"])
	}
	if metadata["service"] != "authguard" || metadata["environment"] != "test" {
		t.Fatalf("unexpected metadata: %v", metadata)
	}
	if _, ok := metadata["trace_id"]; ok {
		t.Fatalf("trace_id must be absent without an active span")
	}
}

func TestPublishPasswordResetRequestedOmitsExpiryWhenUnbounded(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	requestedAt := time.Date(2025, 11, 2, 8, 30, 0, 0, time.UTC)
	event := domain.PasswordResetRequestedEvent{
		AccountID:         "acc-1",
		MaskedDestination: "a***@example.com",
		RequestedAt:       requestedAt,
	}
	if err := publisher.PublishPasswordResetRequested(context.Background(), event); err != nil {
		t.Fatalf("PublishPasswordResetRequested returned error: %v", err)
	}

	_, envelope := receiveEnvelope(t, asyncProducer)
	if id, _ := envelope["event_id"].(string); id == "" {
		t.Fatalf("expected generated event_id")
	}
	payload := envelope["payload"].(map[string]any)
	if _, ok := payload["expires_at"]; ok {
		t.Fatalf("expires_at must be omitted for tokens without expiry: %v", payload)
	}
	if payload["masked_destination"] != event.MaskedDestination {
		t.Fatalf("unexpected masked_destination: %v", payload["masked_destination"])
	}

	expires := requestedAt.Add(time.Hour)
	event.ExpiresAt = &expires
	if err := publisher.PublishPasswordResetRequested(context.Background(), event); err != nil {
		t.Fatalf("PublishPasswordResetRequested returned error: %v", err)
	}
	_, envelope = receiveEnvelope(t, asyncProducer)
	payload = envelope["payload"].(map[string]any)
	if payload["expires_at"] != expires.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected expires_at: %v", payload["expires_at"])
	}
}

func TestPublishHonoursCancelledContext(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)
	asyncProducer.input <- &sarama.ProducerMessage{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := publisher.PublishPasswordChanged(ctx, domain.PasswordChangedEvent{AccountID: "acc-1", ChangedAt: time.Now()})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTopicName(t *testing.T) {
	cases := []struct {
		prefix string
		name   string
		want   string
	}{
		{"", "notifications.email", "notifications.email"},
		{"authguard", "notifications.email", "authguard.notifications.email"},
		{"authguard", EventOTPIssued, EventOTPIssued},
		{"staging", EventOTPIssued, "staging." + EventOTPIssued},
	}
	for _, tc := range cases {
		if got := topicName(tc.prefix, tc.name); got != tc.want {
			t.Fatalf("topicName(%q, %q) = %q, want %q", tc.prefix, tc.name, got, tc.want)
		}
	}
}
