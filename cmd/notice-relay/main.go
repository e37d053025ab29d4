package main

import (
	"context"
	"ebook-lending/internal/config"
	"ebook-lending/internal/event"
	"ebook-lending/internal/infrastructure/logging"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	rabbitMQMaxAttempts = 5
	shutdownTimeout     = 10 * time.Second
)

func main() {
	cfg, logger := initializeConfigAndLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rabbitConn := setupRabbitMQ(cfg, logger)
	defer closeRabbitMQ(rabbitConn, logger)

	relay := event.NewNoticeRelay(event.NewLogMailer(logger), logger)
	consumer, err := event.NewConsumer(
		rabbitConn,
		cfg.RabbitMQ.ExchangeName,
		cfg.RabbitMQ.QueueName,
		cfg.RabbitMQ.ConsumerTag,
		relay.HandleDelivery,
		logger,
	)
	if err != nil {
		logger.Error("Failed to set up notice consumer", slog.Any("error", err))
		os.Exit(1)
	}

	server := newMetricsServer(cfg.Metrics)
	go func() {
		logger.Info("Serving relay metrics", "addr", server.Addr, "path", cfg.Metrics.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", slog.Any("error", err))
			stop()
		}
	}()

	if err := consumer.Start(ctx); err != nil {
		logger.Error("Failed to start notice consumer", slog.Any("error", err))
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received, stopping notice relay...")
	consumer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down metrics server", slog.Any("error", err))
	}
	logger.Info("Notice relay stopped.")
}

func initializeConfigAndLogger() (*config.Config, *slog.Logger) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := logging.NewLogger(cfg.Logger).With("service", "notice-relay")
	logger.Info("Configuration loaded successfully")
	return cfg, logger
}

func newMetricsServer(cfg config.MetricsConfig) *http.Server {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func setupRabbitMQ(cfg *config.Config, logger *slog.Logger) *amqp.Connection {
	uri, err := cfg.RabbitMQ.URI()
	if err != nil {
		logger.Error("Invalid RabbitMQ configuration", slog.Any("error", err))
		os.Exit(1)
	}
	conn, err := event.Connect(uri, rabbitMQMaxAttempts, logger)
	if err != nil {
		logger.Error("Could not connect to RabbitMQ", slog.Any("error", err))
		os.Exit(1)
	}
	return conn
}

func closeRabbitMQ(conn *amqp.Connection, logger *slog.Logger) {
	if conn == nil || conn.IsClosed() {
		return
	}
	if err := conn.Close(); err != nil {
		logger.Error("Failed to close RabbitMQ connection", slog.Any("error", err))
		return
	}
	logger.Info("RabbitMQ connection closed.")
}
