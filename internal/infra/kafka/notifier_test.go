package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/infra/config"
)

func TestNotifierSendPublishesRenderedMessage(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	notifier := NewNotifier(producer, config.KafkaSettings{TopicPrefix: "authguard"}, zaptest.NewLogger(t))
	notifier.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	if notifier.topic != "authguard.notifications.email" {
		t.Fatalf("unexpected topic: %s", notifier.topic)
	}

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var record map[string]any
		if err := json.Unmarshal(val, &record); err != nil {
			return err
		}
		if record["to"] != "ada@example.com" {
			return fmt.Errorf("unexpected recipient %v", record["to"])
		}
		if record["kind"] != domain.MessageKindOTP {
			return fmt.Errorf("unexpected kind %v", record["kind"])
		}
		if record["subject"] != "Your code" {
			return fmt.Errorf("unexpected subject %v", record["subject"])
		}
		if record["created_at"] != "2025-01-02T03:04:05Z" {
			return fmt.Errorf("unexpected created_at %v", record["created_at"])
		}
		return nil
	})

	err := notifier.Send(context.Background(), domain.Message{
		To:      "ada@example.com",
		Subject: "Your code",
		Body:    "<p>ABCD1234</p>",
		Kind:    domain.MessageKindOTP,
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if err := notifier.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestNotifierSendReportsBrokerFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	notifier := NewNotifier(producer, config.KafkaSettings{}, nil)

	brokerErr := errors.New("leader not available")
	producer.ExpectSendMessageAndFail(brokerErr)

	err := notifier.Send(context.Background(), domain.Message{To: "ada@example.com", Kind: domain.MessageKindPasswordReset})
	if !errors.Is(err, brokerErr) {
		t.Fatalf("expected broker error, got %v", err)
	}

	if err := notifier.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestNotifierSendSkipsCancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	notifier := NewNotifier(producer, config.KafkaSettings{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := notifier.Send(ctx, domain.Message{To: "ada@example.com"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := notifier.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}
