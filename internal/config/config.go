package config

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type LedgerConfig struct {
	CommissionRate     decimal.Decimal
	MaxTxAttempts      int
	RetryBackoff       time.Duration
	WithdrawalHold     bool // debit at request time, refund on rejection
	MinActiveReferrals int
}

type AccrualConfig struct {
	Location *time.Location
	LockTTL  time.Duration
}

type AuthConfig struct {
	JWTSecret   string
	AdminIDs    []string
	AdminEmails []string
	CronKey     string
}

type NotifyConfig struct {
	AdminEmail string
	OutboxKey  string
	Strict     bool // surface notification failures to the caller
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type SchedulerConfig struct {
	BaseURL      string
	AccrualSpec  string
	MaturitySpec string
	Timeout      time.Duration
}

type Config struct {
	Port        string
	LogLevel    string
	LogFormat   string
	CatalogPath string
	Ledger      LedgerConfig
	Accrual     AccrualConfig
	Auth        AuthConfig
	Notify      NotifyConfig
	RateLimit   RateLimitConfig
	Scheduler   SchedulerConfig
}

// Setup points viper at the .env file and binds the environment variables every
// binary reads. Missing .env is not an error.
func Setup() error {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, env := range map[string]string{
		"database.host":           "DATABASE_HOST",
		"database.port":           "DATABASE_PORT",
		"database.user":           "DATABASE_USER",
		"database.password":       "DATABASE_PASSWORD",
		"database.name":           "DATABASE_NAME",
		"database.ssl_mode":       "DATABASE_SSL_MODE",
		"redis.host":              "REDIS_HOST",
		"redis.port":              "REDIS_PORT",
		"redis.password":          "REDIS_PASSWORD",
		"redis.db":                "REDIS_DB",
		"jwt.secret_key":          "JWT_SECRET_KEY",
		"cron.key":                "CRON_KEY",
		"auth.admin_ids":          "ADMIN_IDS",
		"auth.admin_emails":       "ADMIN_EMAILS",
		"ledger.commission_rate":  "COMMISSION_RATE",
		"ledger.withdrawal_hold":  "WITHDRAWAL_HOLD",
		"notify.admin_email":      "NOTIFY_ADMIN_EMAIL",
		"notify.strict":           "NOTIFY_STRICT",
		"catalog.path":            "CATALOG_PATH",
		"scheduler.base_url":      "SCHEDULER_BASE_URL",
		"scheduler.accrual_spec":  "SCHEDULER_ACCRUAL_SPEC",
		"scheduler.maturity_spec": "SCHEDULER_MATURITY_SPEC",
		"server.port":             "PORT",
		"log.level":               "LOG_LEVEL",
		"log.format":              "LOG_FORMAT",
	} {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !strings.Contains(err.Error(), "no such file") {
			return err
		}
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("catalog.path", "./catalog.yaml")

	viper.SetDefault("ledger.commission_rate", "0.05")
	viper.SetDefault("ledger.max_tx_attempts", 5)
	viper.SetDefault("ledger.retry_backoff", 25*time.Millisecond)
	viper.SetDefault("ledger.withdrawal_hold", false)
	viper.SetDefault("ledger.min_active_referrals", 2)

	viper.SetDefault("accrual.timezone", "UTC")
	viper.SetDefault("accrual.lock_ttl", 10*time.Minute)

	viper.SetDefault("notify.outbox_key", "notify:outbox")
	viper.SetDefault("notify.strict", false)

	viper.SetDefault("ratelimit.rps", 5)
	viper.SetDefault("ratelimit.burst", 10)

	viper.SetDefault("scheduler.base_url", "http://localhost:8080")
	viper.SetDefault("scheduler.accrual_spec", "0 0 * * *")
	viper.SetDefault("scheduler.maturity_spec", "15 0 * * *")
	viper.SetDefault("scheduler.timeout", 5*time.Minute)
}

// Load reads the typed configuration from viper, applying defaults first.
func Load() (*Config, error) {
	setDefaults()

	rate, err := decimal.NewFromString(viper.GetString("ledger.commission_rate"))
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(viper.GetString("accrual.timezone"))
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:        viper.GetString("server.port"),
		LogLevel:    viper.GetString("log.level"),
		LogFormat:   viper.GetString("log.format"),
		CatalogPath: viper.GetString("catalog.path"),
		Ledger: LedgerConfig{
			CommissionRate:     rate,
			MaxTxAttempts:      viper.GetInt("ledger.max_tx_attempts"),
			RetryBackoff:       viper.GetDuration("ledger.retry_backoff"),
			WithdrawalHold:     viper.GetBool("ledger.withdrawal_hold"),
			MinActiveReferrals: viper.GetInt("ledger.min_active_referrals"),
		},
		Accrual: AccrualConfig{
			Location: loc,
			LockTTL:  viper.GetDuration("accrual.lock_ttl"),
		},
		Auth: AuthConfig{
			JWTSecret:   viper.GetString("jwt.secret_key"),
			AdminIDs:    splitList(viper.GetString("auth.admin_ids")),
			AdminEmails: splitList(viper.GetString("auth.admin_emails")),
			CronKey:     viper.GetString("cron.key"),
		},
		Notify: NotifyConfig{
			AdminEmail: viper.GetString("notify.admin_email"),
			OutboxKey:  viper.GetString("notify.outbox_key"),
			Strict:     viper.GetBool("notify.strict"),
		},
		RateLimit: RateLimitConfig{
			RPS:   viper.GetFloat64("ratelimit.rps"),
			Burst: viper.GetInt("ratelimit.burst"),
		},
		Scheduler: SchedulerConfig{
			BaseURL:      strings.TrimRight(viper.GetString("scheduler.base_url"), "/"),
			AccrualSpec:  viper.GetString("scheduler.accrual_spec"),
			MaturitySpec: viper.GetString("scheduler.maturity_spec"),
			Timeout:      viper.GetDuration("scheduler.timeout"),
		},
	}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
