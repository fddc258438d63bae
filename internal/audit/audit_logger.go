package audit

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Event is one line of the money-movement trail.
type Event struct {
	Timestamp time.Time       `json:"timestamp"`
	EventType string          `json:"event_type"`
	Reference string          `json:"reference"`
	AccountID string          `json:"account_id"`
	Actor     string          `json:"actor,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	Details   map[string]any  `json:"details,omitempty"`
}

type Logger struct {
	log logrus.FieldLogger
}

func NewLogger(log logrus.FieldLogger) *Logger {
	return &Logger{log: log}
}

// LogMovement records a committed balance change on accountID.
func (a *Logger) LogMovement(eventType, reference, accountID, actor string, amount decimal.Decimal) {
	a.emit(Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Reference: reference,
		AccountID: accountID,
		Actor:     actor,
		Amount:    amount,
		Status:    "SUCCESS",
	})
}

// LogTransition records a status change on a request record.
func (a *Logger) LogTransition(recordType, reference, accountID, actor, from, to string) {
	a.emit(Event{
		Timestamp: time.Now().UTC(),
		EventType: recordType + "_TRANSITION",
		Reference: reference,
		AccountID: accountID,
		Actor:     actor,
		Status:    "SUCCESS",
		Details:   map[string]any{"from": from, "to": to},
	})
}

func (a *Logger) LogError(eventType, reference, accountID string, err error) {
	a.emit(Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Reference: reference,
		AccountID: accountID,
		Status:    "FAILED",
		Details:   map[string]any{"error": err.Error()},
	})
}

func (a *Logger) emit(e Event) {
	if a == nil || a.log == nil {
		return
	}
	a.log.WithFields(logrus.Fields{
		"audit":      true,
		"event_type": e.EventType,
		"reference":  e.Reference,
		"account_id": e.AccountID,
		"actor":      e.Actor,
		"amount":     e.Amount.StringFixed(2),
		"status":     e.Status,
		"details":    e.Details,
		"at":         e.Timestamp.Format(time.RFC3339Nano),
	}).Info("AUDIT")
}
