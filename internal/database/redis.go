package database

import (
	"context"
	"net"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type redisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// InitRedis connects the client backing the notification outbox and the accrual
// run lock. A nil client means Redis is unavailable and both features degrade.
func InitRedis(ctx context.Context) *redis.Client {
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.db", 0)

	var settings struct {
		Redis redisConfig `mapstructure:"redis"`
	}
	if err := viper.Unmarshal(&settings); err != nil {
		logrus.WithError(err).Warn("[Redis] bad config, running without Redis")
		return nil
	}

	cfg := settings.Redis
	opts := &redis.Options{
		Addr:     net.JoinHostPort(cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logrus.WithError(err).WithField("addr", opts.Addr).Warn("[Redis] unreachable, running without Redis")
		client.Close()
		return nil
	}

	logrus.WithField("addr", opts.Addr).Info("[Redis] connected")
	return client
}
