package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/yieldledger/backend/internal/config"
	mW "github.com/yieldledger/backend/internal/middleware"
)

const (
	AccrualPath  = "/api/v1/cron/daily-accrual"
	MaturityPath = "/api/v1/cron/maturity"
)

// Trigger calls the server's cron endpoints with the shared key.
type Trigger struct {
	client  *http.Client
	baseURL string
	key     string
	log     logrus.FieldLogger
}

func NewTrigger(client *http.Client, baseURL, key string, log logrus.FieldLogger) *Trigger {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Trigger{client: client, baseURL: baseURL, key: key, log: log}
}

// Call POSTs to path and decodes the JSON summary the server answers with.
func (t *Trigger) Call(ctx context.Context, path string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(mW.CronKeyHeader, t.key)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("call %s: status %d: %s", path, resp.StatusCode, body)
	}

	var summary map[string]any
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	return summary, nil
}

// job logs the outcome of one scheduled call; failures are retried by the next tick.
func (t *Trigger) job(ctx context.Context, name, path string, timeout time.Duration) func() {
	return func() {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		summary, err := t.Call(callCtx, path)
		if err != nil {
			t.log.WithError(err).WithField("job", name).Error("[Scheduler] job failed")
			return
		}
		t.log.WithFields(logrus.Fields{"job": name, "summary": summary}).Info("[Scheduler] job complete")
	}
}

// New builds a cron instance running the accrual and maturity jobs on their schedules.
func New(ctx context.Context, cfg config.SchedulerConfig, t *Trigger) (*cron.Cron, error) {
	c := cron.New()

	if _, err := c.AddFunc(cfg.AccrualSpec, t.job(ctx, "daily-accrual", AccrualPath, cfg.Timeout)); err != nil {
		return nil, fmt.Errorf("accrual schedule %q: %w", cfg.AccrualSpec, err)
	}
	if _, err := c.AddFunc(cfg.MaturitySpec, t.job(ctx, "maturity", MaturityPath, cfg.Timeout)); err != nil {
		return nil, fmt.Errorf("maturity schedule %q: %w", cfg.MaturitySpec, err)
	}
	return c, nil
}
