package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/core/port"
	"github.com/arklim/authguard/internal/infra/config"
	"github.com/arklim/authguard/internal/infra/logger"
)

// NotificationTopic carries rendered e-mails for the mail dispatcher.
const NotificationTopic = "notifications.email"

// Notifier hands rendered messages to the mail dispatcher over Kafka and
// waits for the broker acknowledgement.
type Notifier struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
	now      func() time.Time
}

// NewNotifier wraps a synchronous producer. The topic is NotificationTopic under the configured prefix.
func NewNotifier(producer sarama.SyncProducer, cfg config.KafkaSettings, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{
		producer: producer,
		topic:    topicName(cfg.TopicPrefix, NotificationTopic),
		logger:   log,
		now:      time.Now,
	}
}

type notificationRecord struct {
	MessageID string    `json:"message_id"`
	Kind      string    `json:"kind"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Send publishes msg keyed by recipient so messages to one address stay ordered.
func (n *Notifier) Send(ctx context.Context, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	record := notificationRecord{
		MessageID: uuid.NewString(),
		Kind:      msg.Kind,
		To:        msg.To,
		Subject:   msg.Subject,
		Body:      msg.Body,
		CreatedAt: n.now().UTC(),
	}
	bytes, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	partition, offset, err := n.producer.SendMessage(&sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(msg.To),
		Value: sarama.ByteEncoder(bytes),
	})
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}

	n.logger.Debug("notification queued",
		zap.String("kind", msg.Kind),
		zap.String("to", logger.MaskEmail(msg.To)),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

// Close releases the underlying producer.
func (n *Notifier) Close() error {
	if err := n.producer.Close(); err != nil {
		return fmt.Errorf("close kafka notifier: %w", err)
	}
	return nil
}

var _ port.Notifier = (*Notifier)(nil)
