package database

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPoolConfig(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	cfg, err := LoadPoolConfig()
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, "yield_ledger", cfg.Name)
	assert.Equal(t, 25, cfg.MaxOpen)
	assert.Equal(t, 5*time.Minute, cfg.MaxLifetime)

	viper.Set("database.host", "db")
	viper.Set("database.port", "6543")
	viper.Set("database.password", "secret")
	viper.Set("database.name", "ledger")
	viper.Set("database.ssl_mode", "require")

	cfg, err = LoadPoolConfig()
	require.NoError(t, err)
	assert.Equal(t, "postgres://postgres:secret@db:6543/ledger?sslmode=require", cfg.DSN())
}
