// Package app wires the broker, its admin HTTP surface, and their shared
// infrastructure (Redis, optional archive sinks) into a single process,
// in either server mode (admin API + broker) or worker mode (broker only).
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"rotif/internal/config"
	"rotif/internal/infrastructure/database"
	httpTransport "rotif/internal/transport/http"
	"rotif/pkg/email"
	"rotif/pkg/logging"
	"rotif/pkg/realtime"
	"rotif/pkg/rotif"
)

// Mode selects which parts of the application a process runs.
type Mode string

const (
	// ModeServer runs the broker plus its admin HTTP API and live-tail hub.
	ModeServer Mode = "server"
	// ModeWorker runs the broker's background loops only, with no HTTP surface.
	ModeWorker Mode = "worker"
)

// App is the top-level handle on one running process.
type App struct {
	mode   Mode
	config *config.Config

	slogLogger   *slog.Logger
	logrusLogger *logrus.Logger

	redisDB    *database.RedisDB
	postgresDB *database.PostgresDB
	broker     *rotif.Broker
	hub        *realtime.Hub

	httpServer *httpTransport.Server

	shutdownOnce sync.Once
}

// NewServer builds an App that serves the admin HTTP API alongside the broker.
func NewServer(cfg *config.Config) (*App, error) {
	a, err := newApp(cfg, ModeServer)
	if err != nil {
		return nil, err
	}

	a.hub = realtime.NewHub(a.logrusLogger)
	go a.hub.Run()
	a.httpServer = httpTransport.NewServer(cfg, a.logrusLogger, a.broker, a.hub)
	a.wireLiveTail()

	return a, nil
}

// NewWorker builds an App that runs only the broker's background loops
// (scheduler, pattern registry sync, DLQ auto-cleanup), with no HTTP surface.
func NewWorker(cfg *config.Config) (*App, error) {
	return newApp(cfg, ModeWorker)
}

func newApp(cfg *config.Config, mode Mode) (*App, error) {
	slogLogger := logging.NewLoggerWithFormat(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	)

	logrusLogger := newLogrusLogger(cfg)

	redisDB, err := database.NewRedisDB(cfg, logrusLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	broker, err := rotif.New(context.Background(), redisDB.Client, brokerConfigFromApp(cfg), logrusLogger, prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := wireArchiveSinks(context.Background(), cfg, broker, logrusLogger); err != nil {
		logrusLogger.WithError(err).Warn("one or more DLQ archive sinks failed to initialize; continuing with the Redis dated-list sink only")
	}

	var postgresDB *database.PostgresDB
	if cfg.Database.Enabled {
		postgresDB, err = wireArchiveManifest(cfg, broker, slogLogger, logrusLogger)
		if err != nil {
			logrusLogger.WithError(err).Warn("archive manifest store failed to initialize; DLQ batches will archive without a manifest record")
		}
	}

	if cfg.Notifications.DLQAlertEnabled {
		wireDLQAlerts(cfg, broker, logrusLogger)
	}

	return &App{
		mode:         mode,
		config:       cfg,
		slogLogger:   slogLogger,
		logrusLogger: logrusLogger,
		redisDB:      redisDB,
		postgresDB:   postgresDB,
		broker:       broker,
	}, nil
}

// newLogrusLogger builds the logger the broker's internals log through from
// the same Logging config section as the slog logger: an unparsable level
// keeps logrus's default (info), and any format other than "json" selects
// the text formatter (pkg/logging instead falls back to JSON).
func newLogrusLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// brokerConfigFromApp translates the layered application configuration into
// the broker's own Config shape.
func brokerConfigFromApp(cfg *config.Config) rotif.Config {
	rc := cfg.Rotif
	// The broker skips its DLQ auto-cleanup loop for a negative interval
	// (a zero interval is replaced by the default).
	cleanupInterval := rc.DLQCleanup.CleanupInterval
	if !rc.DLQCleanup.Enabled {
		cleanupInterval = -1
	}
	return rotif.Config{
		MaxRetries:                    rc.MaxRetries,
		MaxStreamLength:               rc.MaxStreamLength,
		MinStreamID:                   rc.MinStreamID,
		ConsumerGroup:                 rc.ConsumerGroup,
		BlockInterval:                 rc.BlockInterval,
		CheckDelayInterval:            rc.CheckDelayInterval,
		ScheduledBatchSize:            rc.ScheduledBatchSize,
		DeduplicationTTL:              rc.DeduplicationTTL,
		RetryDelay:                    rc.RetryDelay,
		RetryStrategy:                 retryStrategyFromName(rc.RetryStrategy, rc.RetryDelay),
		DisableDelayed:                rc.DisableDelayed,
		DisablePendingMessageRecovery: rc.DisablePendingMessageRecovery,
		PendingCheckInterval:          rc.PendingCheckInterval,
		PendingIdleThreshold:          rc.PendingIdleThreshold,
		LocalRoundRobin:               rc.LocalRoundRobin,
		DLQ: rotif.DLQConfig{
			MaxAge:          rc.DLQCleanup.MaxAge,
			MaxSize:         rc.DLQCleanup.MaxSize,
			CleanupInterval: cleanupInterval,
			BatchSize:       rc.DLQCleanup.BatchSize,
			ArchivePrefix:   rc.DLQCleanup.ArchivePrefix,
			ArchiveEnabled:  rc.DLQCleanup.ArchiveBeforeDelete,
		},
	}
}

// retryStrategyFromName maps the configured strategy name (spec.md §4.6) to
// a concrete RetryStrategy; an empty name selects Fixed at the base delay,
// and an unrecognized name returns nil, leaving the broker's RetryDelay
// fallback in charge.
func retryStrategyFromName(name string, base time.Duration) rotif.RetryStrategy {
	if base <= 0 {
		base = time.Second
	}
	switch name {
	case "linear":
		return rotif.Linear{Base: base, Step: base}
	case "exponential":
		return rotif.Exponential{Base: base, Factor: 2, Cap: 5 * time.Minute}
	case "exponential_jitter":
		return rotif.ExponentialJitter{Base: base, Factor: 2, Cap: 5 * time.Minute, JitterFraction: 0.5}
	case "fibonacci":
		return rotif.Fibonacci{Base: base, Cap: 5 * time.Minute}
	case "fixed", "":
		return rotif.Fixed{Delay: base}
	default:
		return nil
	}
}

// wireArchiveSinks registers the optional S3 and ClickHouse DLQ archive
// sinks named by SPEC_FULL.md's domain stack, on top of the always-on Redis
// dated-list archive the DLQManager itself maintains.
func wireArchiveSinks(ctx context.Context, cfg *config.Config, broker *rotif.Broker, logger *logrus.Logger) error {
	var firstErr error

	if cfg.Archive.S3.Enabled {
		sink, err := rotif.NewS3ArchiveSink(ctx,
			cfg.Archive.S3.Bucket, cfg.Archive.S3.Region, cfg.Archive.S3.KeyPrefix,
			cfg.Archive.S3.Endpoint, "", "", cfg.Archive.S3.PathStyle, logger,
		)
		if err != nil {
			firstErr = fmt.Errorf("s3 archive sink: %w", err)
		} else {
			broker.DLQ().AddSink(sink)
			logger.WithField("bucket", cfg.Archive.S3.Bucket).Info("DLQ S3 archive sink enabled")
		}
	}

	if cfg.Archive.ClickHouse.Enabled {
		sink, err := rotif.NewClickHouseArchiveSink(
			cfg.ClickHouse.URL, cfg.ClickHouse.Database, cfg.ClickHouse.User, cfg.ClickHouse.Password,
			cfg.Archive.ClickHouse.Table, cfg.ClickHouse.DialTimeout, logger,
		)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("clickhouse archive sink: %w", err)
		} else if err == nil {
			broker.DLQ().AddSink(sink)
			logger.WithField("table", cfg.Archive.ClickHouse.Table).Info("DLQ ClickHouse archive sink enabled")
		}
	}

	return firstErr
}

// wireArchiveManifest connects to the PostgreSQL archive manifest store and
// registers it on the broker's DLQManager, so every successfully archived
// DLQ batch gets a manifest row independent of which ArchiveSink holds the
// actual payloads. Returns the opened connection so Shutdown can close it.
func wireArchiveManifest(cfg *config.Config, broker *rotif.Broker, slogLogger *slog.Logger, logger *logrus.Logger) (*database.PostgresDB, error) {
	pg, err := database.NewPostgresDB(cfg, slogLogger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	repo := database.NewManifestRepository(pg)
	broker.DLQ().SetManifestRecorder(repo)
	logger.Info("DLQ archive manifest store enabled")
	return pg, nil
}

// wireDLQAlerts wires an email-backed Alerter onto the broker's DLQManager,
// using AWS SES if a region is configured and falling back to a no-op sender
// otherwise so a misconfigured deployment degrades instead of failing to start.
func wireDLQAlerts(cfg *config.Config, broker *rotif.Broker, logger *logrus.Logger) {
	var sender email.EmailSender
	if cfg.Notifications.SESRegion != "" {
		ses, err := email.NewSESClient(email.SESConfig{
			Region:    cfg.Notifications.SESRegion,
			FromEmail: cfg.Notifications.FromEmail,
		})
		if err != nil {
			logger.WithError(err).Warn("failed to initialize SES client for DLQ alerts; alerts disabled")
			return
		}
		sender = ses
	} else {
		sender = &email.NoOpEmailSender{}
	}

	alerter := newDLQAlerter(sender, cfg.Notifications.ToEmail, cfg.App.Name, cfg.Notifications.DLQAlertThreshold)
	broker.DLQ().SetAlerter(alerter, cfg.Notifications.DLQAlertThreshold)
	logger.WithField("threshold", cfg.Notifications.DLQAlertThreshold).Info("DLQ depth alerting enabled")
}

// wireLiveTail forwards DLQ arrivals onto the live-tail hub so a connected
// websocket client sees entries as they're moved to the dead-letter queue.
func (a *App) wireLiveTail() {
	a.broker.DLQ().Subscribe(func(msg *rotif.Message) error {
		a.hub.Publish(realtime.NewEvent(realtime.EventDLQMessage, map[string]interface{}{
			"channel": msg.Channel,
			"id":      msg.ID,
		}))
		return nil
	})
}

// Start runs the process until its mode's work is done or Shutdown is
// called; in server mode this blocks serving the admin HTTP API.
func (a *App) Start() error {
	a.slogLogger.Info("starting rotif", "mode", a.mode)

	switch a.mode {
	case ModeServer:
		g := new(errgroup.Group)
		g.Go(func() error {
			return a.httpServer.Start()
		})
		return g.Wait()
	case ModeWorker:
		a.slogLogger.Info("worker running broker background loops only")
		select {} // blocks until the process receives a signal and calls Shutdown
	default:
		return fmt.Errorf("unknown app mode %q", a.mode)
	}
}

// Shutdown performs the graceful shutdown sequence: stop accepting new HTTP
// requests (server mode only), drain the broker's subscriptions, then close
// its Redis connection.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.shutdownOnce.Do(func() {
		a.slogLogger.Info("shutting down rotif", "mode", a.mode)

		if a.httpServer != nil {
			if err := a.httpServer.Shutdown(ctx); err != nil {
				a.logrusLogger.WithError(err).Error("failed to shut down admin HTTP server")
			}
		}
		if a.hub != nil {
			a.hub.Stop()
		}
		if err := a.broker.StopAll(ctx); err != nil {
			shutdownErr = err
		}
		if err := a.redisDB.Close(); err != nil {
			a.logrusLogger.WithError(err).Error("failed to close redis connection")
		}
		if a.postgresDB != nil {
			if err := a.postgresDB.Close(); err != nil {
				a.logrusLogger.WithError(err).Error("failed to close postgres connection")
			}
		}
	})
	return shutdownErr
}

// Health reports the liveness of the process's dependencies.
func (a *App) Health() map[string]string {
	checks := map[string]string{"mode": string(a.mode)}
	if err := a.redisDB.Health(); err != nil {
		checks["redis"] = "unhealthy: " + err.Error()
	} else {
		checks["redis"] = "healthy"
	}
	if a.postgresDB != nil {
		if err := a.postgresDB.Health(); err != nil {
			checks["postgres"] = "unhealthy: " + err.Error()
		} else {
			checks["postgres"] = "healthy"
		}
	}
	return checks
}

// Broker returns the running broker, for callers embedding the App directly
// (tests, REPL tooling) rather than driving it through the HTTP surface.
func (a *App) Broker() *rotif.Broker {
	return a.broker
}

// Config returns the application configuration.
func (a *App) Config() *config.Config {
	return a.config
}

// Logger returns the application's slog logger.
func (a *App) Logger() *slog.Logger {
	return a.slogLogger
}
