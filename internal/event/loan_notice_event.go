package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type LoanNoticePayload struct {
	NoticeID   uuid.UUID `json:"noticeId"`
	LoanID     uuid.UUID `json:"loanId"`
	AccountID  uuid.UUID `json:"accountId"`
	Recipient  string    `json:"recipient"`
	Kind       string    `json:"kind"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	TargetDate time.Time `json:"targetDate"`
}

// LoanNoticeEvent asks the mail relay to deliver one generated notice.
type LoanNoticeEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Payload   LoanNoticePayload `json:"payload"`
}

func LoanNoticeRoutingKey(kind string) string {
	return routingKeyLoanNoticePrefix + kind
}

func newLoanNoticePublishing(evt LoanNoticeEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal loan notice: %w", err)
	}
	at := evt.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	msg := newPublishing(body, at)
	msg.MessageId = evt.Payload.NoticeID.String()
	msg.Headers = amqp.Table{headerNoticeKind: evt.Payload.Kind}
	return msg, nil
}

func (p *RabbitMQEventPublisher) PublishLoanNotice(ctx context.Context, evt LoanNoticeEvent) error {
	msg, err := newLoanNoticePublishing(evt)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to encode loan notice", slog.String("noticeID", evt.Payload.NoticeID.String()), slog.Any("error", err))
		return err
	}
	return p.publish(ctx, LoanNoticeRoutingKey(evt.Payload.Kind), msg)
}

var _ EventPublisher = (*RabbitMQEventPublisher)(nil)
