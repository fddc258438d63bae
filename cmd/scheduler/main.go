package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/yieldledger/backend/internal/config"
	"github.com/yieldledger/backend/internal/logging"
	"github.com/yieldledger/backend/internal/scheduler"
)

func main() {
	if err := config.Setup(); err != nil {
		logrus.Fatalf("Failed to read configuration: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	if cfg.Auth.CronKey == "" {
		log.Fatal("CRON_KEY must be set for the scheduler")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	trigger := scheduler.NewTrigger(nil, cfg.Scheduler.BaseURL, cfg.Auth.CronKey, log)
	c, err := scheduler.New(ctx, cfg.Scheduler, trigger)
	if err != nil {
		log.Fatalf("Invalid schedule: %v", err)
	}

	c.Start()
	log.WithFields(logrus.Fields{
		"target":   cfg.Scheduler.BaseURL,
		"accrual":  cfg.Scheduler.AccrualSpec,
		"maturity": cfg.Scheduler.MaturitySpec,
	}).Info("[Scheduler] started")

	<-ctx.Done()
	<-c.Stop().Done()
	log.Info("[Scheduler] stopped")
}
