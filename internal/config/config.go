// Package config provides configuration management for the Rotif broker.
//
// Configuration is loaded from multiple sources in this order:
// 1. Configuration files (YAML)
// 2. Environment variables
// 3. Defaults
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Environment   string              `mapstructure:"environment"`
	Server        ServerConfig        `mapstructure:"server"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Rotif         RotifConfig         `mapstructure:"rotif"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	Database      DatabaseConfig      `mapstructure:"database"`
	ClickHouse    ClickHouseConfig    `mapstructure:"clickhouse"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// AppConfig contains application-level configuration.
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// ServerConfig contains the admin HTTP API configuration.
type ServerConfig struct {
	Host               string        `mapstructure:"host"`
	CORSAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
	Port               int           `mapstructure:"port"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
}

// RedisConfig contains the Redis connection configuration backing the broker.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	Host         string        `mapstructure:"host"`
	Password     string        `mapstructure:"password"`
	Port         int           `mapstructure:"port"`
	Database     int           `mapstructure:"database"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// RotifConfig contains the broker tunables named by spec.md §6.
type RotifConfig struct {
	MaxRetries                   int           `mapstructure:"max_retries"`
	MaxStreamLength               int64         `mapstructure:"max_stream_length"`
	MinStreamID                  string        `mapstructure:"min_stream_id"`
	BlockInterval                 time.Duration `mapstructure:"block_interval"`
	CheckDelayInterval            time.Duration `mapstructure:"check_delay_interval"`
	ScheduledBatchSize             int64         `mapstructure:"scheduled_batch_size"`
	DeduplicationTTL               time.Duration `mapstructure:"deduplication_ttl"`
	RetryDelay                     time.Duration `mapstructure:"retry_delay"`
	RetryStrategy                  string        `mapstructure:"retry_strategy"`
	DisableDelayed                  bool          `mapstructure:"disable_delayed"`
	DisablePendingMessageRecovery    bool          `mapstructure:"disable_pending_message_recovery"`
	PendingCheckInterval            time.Duration `mapstructure:"pending_check_interval"`
	PendingIdleThreshold            time.Duration `mapstructure:"pending_idle_threshold"`
	LocalRoundRobin                  bool          `mapstructure:"local_round_robin"`
	ConsumerGroup                   string        `mapstructure:"consumer_group"`
	DLQCleanup                     DLQCleanupConfig `mapstructure:"dlq_cleanup"`
}

// DLQCleanupConfig configures the DLQ manager's periodic sweep.
type DLQCleanupConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	MaxAge              time.Duration `mapstructure:"max_age"`
	MaxSize             int64         `mapstructure:"max_size"`
	CleanupInterval     time.Duration `mapstructure:"cleanup_interval"`
	BatchSize           int64         `mapstructure:"batch_size"`
	ArchiveBeforeDelete bool          `mapstructure:"archive_before_delete"`
	ArchivePrefix       string        `mapstructure:"archive_prefix"`
}

// ArchiveConfig controls the optional long-term DLQ archival sinks that
// supplement the Redis dated-list archive spec.md already names.
type ArchiveConfig struct {
	S3         S3ArchiveConfig         `mapstructure:"s3"`
	ClickHouse ClickHouseArchiveConfig `mapstructure:"clickhouse"`
}

// S3ArchiveConfig configures optional S3 DLQ archival.
type S3ArchiveConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Bucket     string `mapstructure:"bucket"`
	Region     string `mapstructure:"region"`
	KeyPrefix  string `mapstructure:"key_prefix"`
	Endpoint   string `mapstructure:"endpoint"`
	PathStyle  bool   `mapstructure:"use_path_style"`
}

// ClickHouseArchiveConfig configures optional ClickHouse DLQ archival.
type ClickHouseArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Table   string `mapstructure:"table"`
}

// DatabaseConfig contains PostgreSQL configuration for the archive manifest.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// ClickHouseConfig contains ClickHouse connection configuration.
type ClickHouseConfig struct {
	URL            string        `mapstructure:"url"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	Database       string        `mapstructure:"database"`
	MigrationsPath string        `mapstructure:"migrations_path"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
}

// NotificationsConfig controls operator alerting for DLQ high-water-marks.
type NotificationsConfig struct {
	DLQAlertEnabled   bool   `mapstructure:"dlq_alert_enabled"`
	DLQAlertThreshold int64  `mapstructure:"dlq_alert_threshold"`
	SESRegion         string `mapstructure:"ses_region"`
	FromEmail         string `mapstructure:"from_email"`
	ToEmail           string `mapstructure:"to_email"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Validate validates the top-level configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis config: %w", err)
	}
	if err := c.Rotif.Validate(); err != nil {
		return fmt.Errorf("rotif config: %w", err)
	}
	return nil
}

// Validate validates the server configuration.
func (sc *ServerConfig) Validate() error {
	if sc.Port < 0 || sc.Port > 65535 {
		return fmt.Errorf("invalid port: %d", sc.Port)
	}
	return nil
}

// Validate validates the Redis configuration.
func (rc *RedisConfig) Validate() error {
	if rc.URL == "" && rc.Host == "" {
		return fmt.Errorf("redis.url or redis.host is required")
	}
	return nil
}

// Validate validates the broker configuration.
func (rc *RotifConfig) Validate() error {
	if rc.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", rc.MaxRetries)
	}
	if rc.BlockInterval <= 0 {
		return fmt.Errorf("block_interval must be positive")
	}
	if rc.CheckDelayInterval <= 0 {
		return fmt.Errorf("check_delay_interval must be positive")
	}
	return nil
}

// Load loads configuration from files and environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (optional, for local development)
	_ = godotenv.Load(".env")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/rotif")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	//nolint:errcheck // BindEnv only errors with invalid args, safe with string literals
	viper.BindEnv("redis.url", "REDIS_URL")
	//nolint:errcheck
	viper.BindEnv("database.url", "DATABASE_URL")
	//nolint:errcheck
	viper.BindEnv("clickhouse.url", "CLICKHOUSE_URL")
	//nolint:errcheck
	viper.BindEnv("server.port", "PORT")
	//nolint:errcheck
	viper.BindEnv("server.environment", "ENV")
	//nolint:errcheck
	viper.BindEnv("logging.level", "LOG_LEVEL")
	//nolint:errcheck
	viper.BindEnv("logging.format", "LOG_FORMAT")
	//nolint:errcheck
	viper.BindEnv("server.cors_allowed_origins", "CORS_ALLOWED_ORIGINS")
	//nolint:errcheck
	viper.BindEnv("archive.s3.enabled", "ARCHIVE_S3_ENABLED")
	//nolint:errcheck
	viper.BindEnv("archive.s3.bucket", "ARCHIVE_S3_BUCKET")
	//nolint:errcheck
	viper.BindEnv("archive.clickhouse.enabled", "ARCHIVE_CLICKHOUSE_ENABLED")
	//nolint:errcheck
	viper.BindEnv("notifications.dlq_alert_enabled", "DLQ_ALERT_ENABLED")
	//nolint:errcheck
	viper.BindEnv("notifications.ses_region", "SES_REGION")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values, mirroring spec.md §6.
func setDefaults() {
	viper.SetDefault("app.name", "rotif")
	viper.SetDefault("app.version", "dev")
	viper.SetDefault("environment", "development")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8090)
	viper.SetDefault("server.read_timeout", 10*time.Second)
	viper.SetDefault("server.write_timeout", 10*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.cors_allowed_origins", []string{"*"})

	viper.SetDefault("redis.url", "redis://localhost:6379/0")
	viper.SetDefault("redis.pool_size", 20)
	viper.SetDefault("redis.min_idle_conns", 5)
	viper.SetDefault("redis.dial_timeout", 5*time.Second)
	viper.SetDefault("redis.read_timeout", 3*time.Second)
	viper.SetDefault("redis.write_timeout", 3*time.Second)
	viper.SetDefault("redis.max_retries", 3)

	viper.SetDefault("rotif.max_retries", 5)
	viper.SetDefault("rotif.block_interval", 5*time.Second)
	viper.SetDefault("rotif.check_delay_interval", 1*time.Second)
	viper.SetDefault("rotif.scheduled_batch_size", 1000)
	viper.SetDefault("rotif.deduplication_ttl", 3600*time.Second)
	viper.SetDefault("rotif.retry_delay", 1000*time.Millisecond)
	viper.SetDefault("rotif.retry_strategy", "fixed")
	viper.SetDefault("rotif.disable_delayed", false)
	viper.SetDefault("rotif.disable_pending_message_recovery", false)
	viper.SetDefault("rotif.pending_check_interval", 30*time.Second)
	viper.SetDefault("rotif.pending_idle_threshold", 60*time.Second)
	viper.SetDefault("rotif.local_round_robin", false)
	viper.SetDefault("rotif.consumer_group", "rotif-group")

	viper.SetDefault("rotif.dlq_cleanup.enabled", false)
	viper.SetDefault("rotif.dlq_cleanup.max_age", 7*24*time.Hour)
	viper.SetDefault("rotif.dlq_cleanup.max_size", 10000)
	viper.SetDefault("rotif.dlq_cleanup.cleanup_interval", time.Hour)
	viper.SetDefault("rotif.dlq_cleanup.batch_size", 100)
	viper.SetDefault("rotif.dlq_cleanup.archive_before_delete", false)
	viper.SetDefault("rotif.dlq_cleanup.archive_prefix", "rotif:dlq:archive")

	viper.SetDefault("archive.s3.enabled", false)
	viper.SetDefault("archive.s3.key_prefix", "rotif/dlq")
	viper.SetDefault("archive.clickhouse.enabled", false)
	viper.SetDefault("archive.clickhouse.table", "dlq_archive")

	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.auto_migrate", false)
	viper.SetDefault("database.max_open_conns", 10)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", time.Hour)

	viper.SetDefault("notifications.dlq_alert_enabled", false)
	viper.SetDefault("notifications.dlq_alert_threshold", 1000)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// GetRedisURL returns the Redis connection URL, preferring an explicit URL.
func (c *Config) GetRedisURL() string {
	if c.Redis.URL != "" {
		return c.Redis.URL
	}
	return fmt.Sprintf("redis://%s:%d/%d", c.Redis.Host, c.Redis.Port, c.Redis.Database)
}

// GetDatabaseURL returns the Postgres connection URL for the archive manifest store.
func (c *Config) GetDatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port,
		c.Database.Database, c.Database.SSLMode)
}

// GetClickHouseURL returns the ClickHouse connection DSN for the DLQ archive sink.
func (c *Config) GetClickHouseURL() string {
	if c.ClickHouse.URL != "" {
		return c.ClickHouse.URL
	}
	return fmt.Sprintf("clickhouse://%s:%s@%s:%d/%s",
		c.ClickHouse.User, c.ClickHouse.Password, c.ClickHouse.Host, c.ClickHouse.Port, c.ClickHouse.Database)
}

// GetServerAddress returns the admin HTTP API bind address.
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsDevelopment reports whether the process is running in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}
