// Package notify delivers administrator alerts raised by funding and contributor flows.
//
// Producers hand a Notification to a Notifier. In production that is RedisOutbox, which
// queues the message; Dispatcher drains the queue and calls a Sender. A slow or failing
// Sender therefore never blocks a money-moving request.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var ErrNotificationFailed = errors.New("notification failed")

type Kind string

const (
	KindDepositSubmitted    Kind = "deposit_submitted"
	KindWithdrawalRequested Kind = "withdrawal_requested"
	KindContributorApplied  Kind = "contributor_applied"
	KindReferralCommission  Kind = "referral_commission"
)

type Notification struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Recipient string          `json:"recipient"`
	UserID    string          `json:"user_id"`
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
	Attempts  int             `json:"attempts"`
}

func (n Notification) Subject() string {
	switch n.Kind {
	case KindDepositSubmitted:
		return "New deposit proof awaiting review"
	case KindWithdrawalRequested:
		return "New withdrawal request awaiting review"
	case KindContributorApplied:
		return "New contributor application awaiting review"
	case KindReferralCommission:
		return "Referral commission credited"
	default:
		return string(n.Kind)
	}
}

// Notifier accepts a notification for delivery.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Sender performs the final delivery (mail relay, chat webhook).
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// RedisOutbox queues notifications on a redis list.
type RedisOutbox struct {
	rdb       *redis.Client
	key       string
	recipient string
}

func NewRedisOutbox(rdb *redis.Client, key, recipient string) *RedisOutbox {
	return &RedisOutbox{rdb: rdb, key: key, recipient: recipient}
}

func (o *RedisOutbox) Notify(ctx context.Context, n Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Recipient == "" {
		n.Recipient = o.recipient
	}

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := o.rdb.RPush(ctx, o.key, string(data)).Err(); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// LogNotifier writes notifications to the log. Used when redis is unavailable.
type LogNotifier struct {
	log logrus.FieldLogger
}

func NewLogNotifier(log logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.log.WithFields(logrus.Fields{
		"kind":      n.Kind,
		"user_id":   n.UserID,
		"reference": n.Reference,
		"amount":    n.Amount.String(),
	}).Info("[Notify] " + n.Subject())
	return nil
}

// LogSender is the Sender used until a mail relay is configured.
type LogSender struct {
	log logrus.FieldLogger
}

func NewLogSender(log logrus.FieldLogger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, n Notification) error {
	s.log.WithFields(logrus.Fields{
		"id":        n.ID,
		"kind":      n.Kind,
		"recipient": n.Recipient,
		"user_id":   n.UserID,
		"reference": n.Reference,
		"amount":    n.Amount.String(),
	}).Info("[Notify] delivered: " + n.Subject())
	return nil
}
