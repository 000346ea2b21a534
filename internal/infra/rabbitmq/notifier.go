package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/core/port"
	"github.com/arklim/authguard/internal/infra/config"
	"github.com/arklim/authguard/internal/infra/logger"
)

const exchangeKind = "topic"

// channel is the subset of *amqp.Channel the notifier uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Notifier publishes rendered messages to a durable topic exchange.
type Notifier struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	ch         channel
	exchange   string
	routingKey string
	logger     *zap.Logger
	now        func() time.Time
}

// Dial connects to the broker and declares the configured exchange.
func Dial(cfg config.RabbitMQSettings, log *zap.Logger) (*Notifier, error) {
	rawURL, err := sanitizeURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(rawURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	n, err := newNotifier(ch, cfg, log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	n.conn = conn
	return n, nil
}

func newNotifier(ch channel, cfg config.RabbitMQSettings, log *zap.Logger) (*Notifier, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Exchange == "" {
		return nil, errors.New("rabbitmq exchange is required")
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, exchangeKind, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %q: %w", cfg.Exchange, err)
	}
	return &Notifier{
		ch:         ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     log,
		now:        time.Now,
	}, nil
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("parse rabbitmq url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("rabbitmq url scheme must be amqp or amqps")
	}
	return clean, nil
}

type notificationBody struct {
	Kind    string `json:"kind"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Send publishes msg as a persistent JSON message under the configured routing key.
func (n *Notifier) Send(ctx context.Context, msg domain.Message) error {
	payload, err := json.Marshal(notificationBody{
		Kind:    msg.Kind,
		To:      msg.To,
		Subject: msg.Subject,
		Body:    msg.Body,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    n.now().UTC(),
		Type:         msg.Kind,
		Body:         payload,
	}

	n.mu.Lock()
	err = n.ch.PublishWithContext(ctx, n.exchange, n.routingKey, false, false, publishing)
	n.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	n.logger.Debug("notification published",
		zap.String("exchange", n.exchange),
		zap.String("kind", msg.Kind),
		zap.String("to", logger.MaskEmail(msg.To)),
	)
	return nil
}

// Close closes the channel and, when owned, the connection.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	var errs []error
	if err := n.ch.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close rabbitmq channel: %w", err))
	}
	if n.conn != nil {
		if err := n.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close rabbitmq connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

var _ port.Notifier = (*Notifier)(nil)
