package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yieldledger/backend/internal/audit"
	"github.com/yieldledger/backend/internal/catalog"
	"github.com/yieldledger/backend/internal/config"
	"github.com/yieldledger/backend/internal/database"
	"github.com/yieldledger/backend/internal/handlers"
	"github.com/yieldledger/backend/internal/ledger"
	"github.com/yieldledger/backend/internal/logging"
	mW "github.com/yieldledger/backend/internal/middleware"
	"github.com/yieldledger/backend/internal/notify"
	"github.com/yieldledger/backend/internal/services"
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
	logrus.SetLevel(log.GetLevel())
	logrus.SetFormatter(log.Formatter)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db := database.InitDatabase(ctx)
	defer db.Close()

	redisClient := database.InitRedis(ctx)
	if redisClient != nil {
		defer redisClient.Close()
	}

	cat, err := catalog.LoadFile(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}

	store := database.NewPostgresStore(db)
	l := ledger.New(store, cfg.Ledger.MaxTxAttempts, cfg.Ledger.RetryBackoff, log)
	auditLog := audit.NewLogger(log)
	policy := services.NewAllowListPolicy(cfg.Auth.AdminIDs, cfg.Auth.AdminEmails)

	var notifier notify.Notifier = notify.NewLogNotifier(log)
	if redisClient != nil {
		notifier = notify.NewRedisOutbox(redisClient, cfg.Notify.OutboxKey, cfg.Notify.AdminEmail)
		dispatcher := notify.NewDispatcher(redisClient, cfg.Notify.OutboxKey, notify.NewLogSender(log), log)
		go func() {
			if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("[Notify] dispatcher stopped")
			}
		}()
	}

	accountService := services.NewAccountService(l, policy, auditLog, log)
	referralService := services.NewReferralService(l, cfg.Ledger.CommissionRate, notifier, auditLog, log)
	purchaseService := services.NewPurchaseService(l, cat, referralService, auditLog, log)
	fundingService := services.NewFundingService(l, notifier, cfg.Notify.Strict, cfg.Ledger.WithdrawalHold, auditLog, log)
	contributorService := services.NewContributorService(l, cat, policy, notifier, cfg.Notify.Strict, cfg.Ledger.MinActiveReferrals, auditLog, log)
	approvalService := services.NewApprovalService(l, policy, auditLog, log)
	investmentAdmin := services.NewInvestmentAdminService(l, policy, auditLog, log)
	statusSync := services.NewStatusSync(l, log)
	accrualEngine := services.NewAccrualEngine(l, redisClient, cfg.Accrual.Location, cfg.Accrual.LockTTL, auditLog, log)
	maturitySweep := services.NewMaturitySweep(l, log)

	limiter := mW.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, log)
	limiter.StartCleanup(10*time.Minute, ctx.Done())

	if cfg.Auth.JWTSecret == "" {
		log.Warn("JWT secret not configured, every authenticated route will refuse requests")
	}
	if cfg.Auth.CronKey == "" {
		log.Warn("Cron key not configured, scheduled jobs cannot be triggered")
	}

	router := handlers.NewRouter(handlers.Routes{
		Accounts:    handlers.NewAccountHandler(accountService, l, log),
		Catalog:     handlers.NewCatalogHandler(cat),
		Funding:     handlers.NewFundingHandler(fundingService, purchaseService, contributorService, log),
		Admin:       handlers.NewAdminHandler(approvalService, contributorService, investmentAdmin, accountService, statusSync, log),
		Cron:        handlers.NewCronHandler(accrualEngine, maturitySweep, log),
		Auth:        mW.NewAuthenticator(cfg.Auth.JWTSecret, log).Middleware,
		Policy:      policy,
		RateLimiter: limiter,
		CronKey:     cfg.Auth.CronKey,
		CronTimeout: cfg.Scheduler.Timeout,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Scheduler.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()

	log.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server stopped")
}
