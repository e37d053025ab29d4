package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	routingKeyLoanNoticePrefix = "loan.notice."
	publisherAppID             = "ebook-lending"
	headerNoticeKind           = "x-notice-kind"
)

type EventPublisher interface {
	PublishLoanNotice(ctx context.Context, event LoanNoticeEvent) error
}

// RabbitMQEventPublisher keeps one channel open and reopens it after the
// broker closes it.
type RabbitMQEventPublisher struct {
	conn         *amqp.Connection
	exchangeName string
	logger       *slog.Logger

	mu      sync.Mutex
	channel *amqp.Channel
}

func declareExchange(ch *amqp.Channel, exchangeName string) error {
	if err := ch.ExchangeDeclare(exchangeName, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange '%s': %w", exchangeName, err)
	}
	return nil
}

func NewRabbitMQEventPublisher(conn *amqp.Connection, exchangeName string, logger *slog.Logger) (EventPublisher, error) {
	if conn == nil {
		return nil, errors.New("RabbitMQ connection cannot be nil")
	}
	if exchangeName == "" {
		return nil, errors.New("RabbitMQ exchange name cannot be empty")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open publisher channel: %w", err)
	}
	if err := declareExchange(ch, exchangeName); err != nil {
		_ = ch.Close()
		return nil, err
	}
	logger.Info("Ensured RabbitMQ exchange exists", "exchange", exchangeName, "type", amqp.ExchangeTopic)

	return &RabbitMQEventPublisher{
		conn:         conn,
		exchangeName: exchangeName,
		channel:      ch,
		logger:       logger.With("component", "RabbitMQEventPublisher", "exchange", exchangeName),
	}, nil
}

func (p *RabbitMQEventPublisher) openChannel() (*amqp.Channel, error) {
	if p.channel != nil && !p.channel.IsClosed() {
		return p.channel, nil
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, err
	}
	p.channel = ch
	p.logger.Info("Reopened RabbitMQ publisher channel")
	return ch, nil
}

func (p *RabbitMQEventPublisher) publish(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	logCtx := p.logger.With(slog.String("routingKey", routingKey), slog.String("messageID", msg.MessageId))

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.openChannel()
	if err != nil {
		logCtx.ErrorContext(ctx, "Failed to open RabbitMQ channel", slog.Any("error", err))
		return fmt.Errorf("failed to open channel: %w", err)
	}

	logCtx.DebugContext(ctx, "Publishing message", "bodySize", len(msg.Body))
	if err := ch.PublishWithContext(ctx, p.exchangeName, routingKey, false, false, msg); err != nil {
		logCtx.ErrorContext(ctx, "Failed to publish message to RabbitMQ", slog.Any("error", err))
		return fmt.Errorf("failed to publish message: %w", err)
	}

	logCtx.InfoContext(ctx, "Published message")
	return nil
}

func newPublishing(body []byte, at time.Time) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    at,
		Body:         body,
		AppId:        publisherAppID,
	}
}
