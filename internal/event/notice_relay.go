package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"ebook-lending/internal/infrastructure/monitoring"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	relayDelivered = "delivered"
	relayRejected  = "rejected"
	relayRequeued  = "requeued"
	relayDropped   = "dropped"
)

var errIncompleteNotice = errors.New("notice is missing recipient or subject")

// Mailer delivers one rendered notice to its recipient.
type Mailer interface {
	Send(ctx context.Context, notice LoanNoticePayload) error
}

// LogMailer writes each notice to the log instead of sending email.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With("component", "LogMailer")}
}

func (m *LogMailer) Send(ctx context.Context, n LoanNoticePayload) error {
	m.logger.InfoContext(ctx, "Delivering loan notice",
		slog.String("to", n.Recipient),
		slog.String("subject", n.Subject),
		slog.String("kind", n.Kind),
		slog.String("loanID", n.LoanID.String()),
		slog.String("body", n.Body),
	)
	return nil
}

// NoticeRelay turns queued loan notice events into mail.
type NoticeRelay struct {
	mailer Mailer
	logger *slog.Logger
}

func NewNoticeRelay(mailer Mailer, logger *slog.Logger) *NoticeRelay {
	if mailer == nil || logger == nil {
		panic("NoticeRelay dependencies cannot be nil")
	}
	return &NoticeRelay{mailer: mailer, logger: logger.With("component", "NoticeRelay")}
}

func decodeLoanNotice(d amqp.Delivery) (LoanNoticePayload, error) {
	if !strings.HasPrefix(d.RoutingKey, routingKeyLoanNoticePrefix) {
		return LoanNoticePayload{}, fmt.Errorf("unexpected routing key %q", d.RoutingKey)
	}
	var evt LoanNoticeEvent
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		return LoanNoticePayload{}, fmt.Errorf("failed to unmarshal loan notice: %w", err)
	}
	if evt.Payload.Recipient == "" || evt.Payload.Subject == "" {
		return LoanNoticePayload{}, errIncompleteNotice
	}
	return evt.Payload, nil
}

// HandleDelivery acks delivered notices and rejects malformed ones. A failed
// send is requeued once; a redelivered message that fails again is dropped.
func (r *NoticeRelay) HandleDelivery(ctx context.Context, d amqp.Delivery) {
	logCtx := r.logger.With(slog.Uint64("deliveryTag", d.DeliveryTag), slog.String("routingKey", d.RoutingKey))

	payload, err := decodeLoanNotice(d)
	if err != nil {
		logCtx.ErrorContext(ctx, "Discarding malformed loan notice", slog.Any("error", err))
		if rejectErr := d.Reject(false); rejectErr != nil {
			logCtx.ErrorContext(ctx, "Failed to reject message", slog.Any("error", rejectErr))
		}
		monitoring.RecordRelayDelivery(relayRejected)
		return
	}
	logCtx = logCtx.With(slog.String("noticeID", payload.NoticeID.String()))

	if err := r.mailer.Send(ctx, payload); err != nil {
		requeue := !d.Redelivered
		logCtx.ErrorContext(ctx, "Failed to deliver loan notice", slog.Any("error", err), slog.Bool("requeue", requeue))
		if nackErr := d.Nack(false, requeue); nackErr != nil {
			logCtx.ErrorContext(ctx, "Failed to nack message", slog.Any("error", nackErr))
		}
		if requeue {
			monitoring.RecordRelayDelivery(relayRequeued)
		} else {
			monitoring.RecordRelayDelivery(relayDropped)
		}
		return
	}

	if err := d.Ack(false); err != nil {
		logCtx.ErrorContext(ctx, "Failed to acknowledge message after delivery", slog.Any("error", err))
		return
	}
	monitoring.RecordRelayDelivery(relayDelivered)
	logCtx.DebugContext(ctx, "Loan notice delivered")
}
