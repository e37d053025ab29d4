package cache

import (
	"context"
	"ebook-lending/internal/domain/loan"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	reminderKeyPrefix        = "lending:reminder:"
	reminderMarkerValue      = "sent"
	defaultReminderMarkerTTL = 48 * time.Hour
)

// ReminderMarker records in Redis which (loan, end date) pairs already got a reminder.
type ReminderMarker struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ loan.ReminderMarker = (*ReminderMarker)(nil)

func NewReminderMarker(client *redis.Client, ttl time.Duration, logger *slog.Logger) *ReminderMarker {
	if client == nil || logger == nil {
		panic("ReminderMarker dependencies cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultReminderMarkerTTL
	}
	return &ReminderMarker{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "ReminderMarker"),
	}
}

func reminderKey(loanID uuid.UUID, target time.Time) string {
	return reminderKeyPrefix + loanID.String() + ":" + target.Format(time.DateOnly)
}

// MarkReminder claims the marker and reports whether this caller was first.
func (m *ReminderMarker) MarkReminder(ctx context.Context, loanID uuid.UUID, target time.Time) (bool, error) {
	key := reminderKey(loanID, target)
	claimed, err := m.client.SetNX(ctx, key, reminderMarkerValue, m.ttl).Result()
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to set reminder marker", slog.String("key", key), slog.Any("error", err))
		return false, fmt.Errorf("failed to claim reminder marker %s: %w", key, err)
	}
	if !claimed {
		m.logger.DebugContext(ctx, "Reminder marker already present", slog.String("key", key))
	}
	return claimed, nil
}

func (m *ReminderMarker) ClearReminder(ctx context.Context, loanID uuid.UUID, target time.Time) error {
	key := reminderKey(loanID, target)
	if err := m.client.Del(ctx, key).Err(); err != nil {
		m.logger.ErrorContext(ctx, "Failed to clear reminder marker", slog.String("key", key), slog.Any("error", err))
		return fmt.Errorf("failed to clear reminder marker %s: %w", key, err)
	}
	return nil
}
