package event

import (
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Connect dials RabbitMQ with a linear backoff between attempts.
func Connect(uri string, maxAttempts int, logger *slog.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	for i := 1; i <= maxAttempts; i++ {
		conn, err = amqp.Dial(uri)
		if err == nil {
			logger.Info("Successfully connected to RabbitMQ")
			go watchConnection(conn, logger)
			return conn, nil
		}
		logger.Warn("Failed to connect to RabbitMQ, retrying...",
			slog.Int("attempt", i),
			slog.Int("max_attempts", maxAttempts),
			slog.Any("error", err),
		)
		if i < maxAttempts {
			time.Sleep(time.Duration(i*2) * time.Second)
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxAttempts, err)
}

func watchConnection(conn *amqp.Connection, logger *slog.Logger) {
	blockChan := conn.NotifyBlocked(make(chan amqp.Blocking, 1))
	closeChan := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case b, ok := <-blockChan:
			if !ok {
				return
			}
			if b.Active {
				logger.Warn("RabbitMQ connection blocked", "reason", b.Reason)
			} else {
				logger.Info("RabbitMQ connection unblocked")
			}
		case e, ok := <-closeChan:
			if ok && e != nil {
				logger.Error("RabbitMQ connection closed", slog.Any("error", e))
			}
			return
		}
	}
}
