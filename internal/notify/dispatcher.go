package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/yieldledger/backend/internal/metrics"
)

const defaultMaxAttempts = 5

// Dispatcher drains the outbox list and hands each message to a Sender. Failed sends are
// pushed back with an incremented attempt count; after maxAttempts they move to
// "<key>:dead".
type Dispatcher struct {
	rdb         *redis.Client
	key         string
	sender      Sender
	log         logrus.FieldLogger
	pollTimeout time.Duration
	maxAttempts int
}

func NewDispatcher(rdb *redis.Client, key string, sender Sender, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		rdb:         rdb,
		key:         key,
		sender:      sender,
		log:         log,
		pollTimeout: 5 * time.Second,
		maxAttempts: defaultMaxAttempts,
	}
}

// Run blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.WithField("key", d.key).Info("[Notify] dispatcher started")
	for {
		if _, err := d.ProcessOne(ctx); err != nil {
			if ctx.Err() != nil {
				d.log.Info("[Notify] dispatcher stopped")
				return ctx.Err()
			}
			d.log.WithError(err).Warn("[Notify] outbox poll failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessOne waits up to the poll timeout for one message. It reports whether a message
// was taken off the queue.
func (d *Dispatcher) ProcessOne(ctx context.Context) (bool, error) {
	res, err := d.rdb.BLPop(ctx, d.pollTimeout, d.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(res) != 2 {
		return false, nil
	}

	var n Notification
	if err := json.Unmarshal([]byte(res[1]), &n); err != nil {
		d.log.WithError(err).Error("[Notify] dropping malformed outbox message")
		return true, nil
	}

	if err := d.sender.Send(ctx, n); err != nil {
		metrics.RecordNotification(string(n.Kind), false)
		return true, d.requeue(ctx, n, err)
	}
	metrics.RecordNotification(string(n.Kind), true)
	return true, nil
}

func (d *Dispatcher) requeue(ctx context.Context, n Notification, cause error) error {
	n.Attempts++
	target := d.key
	if n.Attempts >= d.maxAttempts {
		target = d.key + ":dead"
	}

	d.log.WithFields(logrus.Fields{
		"id":       n.ID,
		"kind":     n.Kind,
		"attempts": n.Attempts,
		"target":   target,
		"error":    cause,
	}).Warn("[Notify] send failed")

	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return d.rdb.RPush(ctx, target, string(data)).Err()
}
