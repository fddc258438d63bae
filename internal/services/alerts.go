package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/yieldledger/backend/internal/metrics"
	"github.com/yieldledger/backend/internal/notify"
)

// adminAlerts sends post-commit notifications. Failures are logged; in strict mode they
// are also returned wrapped in notify.ErrNotificationFailed.
type adminAlerts struct {
	notifier notify.Notifier
	strict   bool
	log      logrus.FieldLogger
}

func newAdminAlerts(notifier notify.Notifier, strict bool, log logrus.FieldLogger) *adminAlerts {
	return &adminAlerts{notifier: notifier, strict: strict, log: log}
}

func (a *adminAlerts) send(ctx context.Context, n notify.Notification) error {
	if a == nil || a.notifier == nil {
		return nil
	}

	err := a.notifier.Notify(ctx, n)
	metrics.RecordNotification(string(n.Kind), err == nil)
	if err == nil {
		return nil
	}

	a.log.WithFields(logrus.Fields{
		"kind":      n.Kind,
		"user_id":   n.UserID,
		"reference": n.Reference,
		"error":     err,
	}).Warn("[Notify] admin alert failed")

	if a.strict {
		return fmt.Errorf("%w: %v", notify.ErrNotificationFailed, err)
	}
	return nil
}
