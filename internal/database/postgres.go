package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

//go:embed schema.sql
var schema string

// PoolConfig describes the postgres connection and pool sizing, read from the
// "database" viper section.
type PoolConfig struct {
	Host        string        `mapstructure:"host"`
	Port        string        `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	Name        string        `mapstructure:"name"`
	SSLMode     string        `mapstructure:"ssl_mode"`
	MaxOpen     int           `mapstructure:"max_open_conns"`
	MaxIdle     int           `mapstructure:"max_idle_conns"`
	MaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

var poolDefaults = map[string]any{
	"database.host":              "localhost",
	"database.port":              "5432",
	"database.user":              "postgres",
	"database.password":          "",
	"database.name":              "yield_ledger",
	"database.ssl_mode":          "disable",
	"database.max_open_conns":    25,
	"database.max_idle_conns":    5,
	"database.conn_max_lifetime": 5 * time.Minute,
}

// LoadPoolConfig reads the database section, falling back to local defaults.
func LoadPoolConfig() (PoolConfig, error) {
	for key, value := range poolDefaults {
		viper.SetDefault(key, value)
	}

	// Unmarshal walks every leaf key, so env bindings take effect.
	var settings struct {
		Database PoolConfig `mapstructure:"database"`
	}
	if err := viper.Unmarshal(&settings); err != nil {
		return PoolConfig{}, fmt.Errorf("database config: %w", err)
	}
	return settings.Database, nil
}

// DSN renders the config as a postgres:// URL understood by lib/pq.
func (c PoolConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Open connects, sizes the pool and verifies the server answers.
func Open(ctx context.Context, cfg PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpen)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres at %s: %w", cfg.Host, err)
	}
	return db, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// InitDatabase opens and migrates the ledger database, exiting the process on failure.
func InitDatabase(ctx context.Context) *sql.DB {
	cfg, err := LoadPoolConfig()
	if err != nil {
		logrus.Fatalf("[DB] %v", err)
	}

	db, err := Open(ctx, cfg)
	if err != nil {
		logrus.Fatalf("[DB] %v", err)
	}
	if err := Migrate(ctx, db); err != nil {
		logrus.Fatalf("[DB] %v", err)
	}

	logrus.WithFields(logrus.Fields{"host": cfg.Host, "db": cfg.Name}).Info("[DB] ledger schema ready")
	return db
}
