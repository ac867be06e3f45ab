package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Server: ServerConfig{Port: 8090},
				Redis:  RedisConfig{URL: "redis://localhost:6379/0"},
				Rotif:  RotifConfig{MaxRetries: 5, BlockInterval: time.Second, CheckDelayInterval: time.Second},
			},
			wantErr: false,
		},
		{
			name: "invalid server port",
			cfg: Config{
				Server: ServerConfig{Port: 70000},
				Redis:  RedisConfig{URL: "redis://localhost:6379/0"},
				Rotif:  RotifConfig{BlockInterval: time.Second, CheckDelayInterval: time.Second},
			},
			wantErr: true,
		},
		{
			name: "missing redis url and host",
			cfg: Config{
				Server: ServerConfig{Port: 8090},
				Rotif:  RotifConfig{BlockInterval: time.Second, CheckDelayInterval: time.Second},
			},
			wantErr: true,
		},
		{
			name: "negative max retries",
			cfg: Config{
				Server: ServerConfig{Port: 8090},
				Redis:  RedisConfig{URL: "redis://localhost:6379/0"},
				Rotif:  RotifConfig{MaxRetries: -1, BlockInterval: time.Second, CheckDelayInterval: time.Second},
			},
			wantErr: true,
		},
		{
			name: "zero block interval",
			cfg: Config{
				Server: ServerConfig{Port: 8090},
				Redis:  RedisConfig{URL: "redis://localhost:6379/0"},
				Rotif:  RotifConfig{CheckDelayInterval: time.Second},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"development", true},
		{"Development", true},
		{"production", false},
		{"", false},
	}

	for _, tt := range tests {
		cfg := &Config{Environment: tt.env}
		assert.Equal(t, tt.want, cfg.IsDevelopment())
	}
}

func TestConfig_GetRedisURL(t *testing.T) {
	t.Run("explicit url wins", func(t *testing.T) {
		cfg := &Config{Redis: RedisConfig{URL: "redis://explicit:6379/2", Host: "host", Port: 1234, Database: 3}}
		assert.Equal(t, "redis://explicit:6379/2", cfg.GetRedisURL())
	})

	t.Run("built from parts when url is empty", func(t *testing.T) {
		cfg := &Config{Redis: RedisConfig{Host: "redis-host", Port: 6380, Database: 1}}
		assert.Equal(t, "redis://redis-host:6380/1", cfg.GetRedisURL())
	})
}

func TestConfig_GetDatabaseURL(t *testing.T) {
	t.Run("explicit url wins", func(t *testing.T) {
		cfg := &Config{Database: DatabaseConfig{URL: "postgres://explicit"}}
		assert.Equal(t, "postgres://explicit", cfg.GetDatabaseURL())
	})

	t.Run("built from parts when url is empty", func(t *testing.T) {
		cfg := &Config{Database: DatabaseConfig{
			User: "rotif", Password: "secret", Host: "db", Port: 5432,
			Database: "rotif_archive", SSLMode: "disable",
		}}
		assert.Equal(t, "postgres://rotif:secret@db:5432/rotif_archive?sslmode=disable", cfg.GetDatabaseURL())
	})
}

func TestConfig_GetServerAddress(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Host: "0.0.0.0", Port: 8090}}
	assert.Equal(t, "0.0.0.0:8090", cfg.GetServerAddress())
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"REDIS_URL", "ENV", "PORT"} {
		old, had := os.LookupEnv(key)
		os.Unsetenv(key)
		defer func(k, v string, had bool) {
			if had {
				os.Setenv(k, v)
			}
		}(key, old, had)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "rotif", cfg.App.Name)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Rotif.MaxRetries)
	assert.Equal(t, "fixed", cfg.Rotif.RetryStrategy)
	assert.Equal(t, "rotif-group", cfg.Rotif.ConsumerGroup)
	assert.False(t, cfg.Rotif.DLQCleanup.Enabled)
	assert.Equal(t, int64(10000), cfg.Rotif.DLQCleanup.MaxSize)
	assert.False(t, cfg.Archive.S3.Enabled)
	assert.False(t, cfg.Archive.ClickHouse.Enabled)
	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.Database.AutoMigrate)
	assert.False(t, cfg.Notifications.DLQAlertEnabled)
	assert.Equal(t, int64(1000), cfg.Notifications.DLQAlertThreshold)
	assert.Equal(t, "info", cfg.Logging.Level)
}
