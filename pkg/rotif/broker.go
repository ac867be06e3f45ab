package rotif

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Config holds every broker-tunable knob (spec §6). Zero-value numeric,
// duration and string fields are filled in by New from the package-level
// defaults; boolean fields (including DLQ.ArchiveEnabled) are used exactly
// as given, so they default to false. This mirrors the layered
// file -> env -> default resolution the surrounding application applies to
// its own configuration.
type Config struct {
	MaxRetries      int
	MaxStreamLength int64
	MinStreamID     string
	ConsumerGroup   string

	BlockInterval      time.Duration
	CheckDelayInterval time.Duration
	ScheduledBatchSize int64

	DeduplicationTTL time.Duration

	RetryDelay    time.Duration
	RetryStrategy RetryStrategy

	DisableDelayed                bool
	DisablePendingMessageRecovery bool
	PendingCheckInterval          time.Duration
	PendingIdleThreshold          time.Duration

	LocalRoundRobin bool

	DLQ DLQConfig
}

// DLQConfig configures dead-letter cleanup and archival (spec §4.8).
type DLQConfig struct {
	MaxAge          time.Duration
	MaxSize         int64
	CleanupInterval time.Duration
	BatchSize       int64
	ArchivePrefix   string
	ArchiveEnabled  bool
}

func defaultConfig() Config {
	return Config{
		MaxRetries:                    5,
		MaxStreamLength:               0,
		ConsumerGroup:                 defaultGroup,
		BlockInterval:                 5 * time.Second,
		CheckDelayInterval:            time.Second,
		ScheduledBatchSize:            1000,
		DeduplicationTTL:              time.Hour,
		RetryDelay:                    time.Second,
		PendingCheckInterval:          30 * time.Second,
		PendingIdleThreshold:          60 * time.Second,
		DLQ: DLQConfig{
			MaxAge:          7 * 24 * time.Hour,
			MaxSize:         10000,
			CleanupInterval: time.Hour,
			BatchSize:       100,
			ArchivePrefix:   "rotif:dlq:archive",
			ArchiveEnabled:  true,
		},
	}
}

func mergeDefaults(cfg Config) Config {
	d := defaultConfig()

	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = d.MaxRetries
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = d.ConsumerGroup
	}
	if cfg.BlockInterval == 0 {
		cfg.BlockInterval = d.BlockInterval
	}
	if cfg.CheckDelayInterval == 0 {
		cfg.CheckDelayInterval = d.CheckDelayInterval
	}
	if cfg.ScheduledBatchSize == 0 {
		cfg.ScheduledBatchSize = d.ScheduledBatchSize
	}
	if cfg.DeduplicationTTL == 0 {
		cfg.DeduplicationTTL = d.DeduplicationTTL
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = d.RetryDelay
	}
	if cfg.PendingCheckInterval == 0 {
		cfg.PendingCheckInterval = d.PendingCheckInterval
	}
	if cfg.PendingIdleThreshold == 0 {
		cfg.PendingIdleThreshold = d.PendingIdleThreshold
	}
	if cfg.DLQ.MaxAge == 0 {
		cfg.DLQ.MaxAge = d.DLQ.MaxAge
	}
	if cfg.DLQ.MaxSize == 0 {
		cfg.DLQ.MaxSize = d.DLQ.MaxSize
	}
	if cfg.DLQ.CleanupInterval == 0 {
		cfg.DLQ.CleanupInterval = d.DLQ.CleanupInterval
	}
	if cfg.DLQ.BatchSize == 0 {
		cfg.DLQ.BatchSize = d.DLQ.BatchSize
	}
	if cfg.DLQ.ArchivePrefix == "" {
		cfg.DLQ.ArchivePrefix = d.DLQ.ArchivePrefix
	}
	return cfg
}

// ArchiveSink persists DLQ entries somewhere durable once they age or
// overflow out of the DLQ stream itself. Implementations live in archive.go;
// S3 and ClickHouse sinks are optional and only wired when configured.
type ArchiveSink interface {
	Archive(ctx context.Context, entries []DLQMessage) error
	Name() string
}

// ManifestRecorder records the fact that a DLQ batch was archived, without
// storing the message payloads themselves. Wiring one lets operators query
// "what got archived and when" independent of which ArchiveSink holds the
// data. Optional: a Broker with no recorder configured just skips the call.
type ManifestRecorder interface {
	RecordBatch(ctx context.Context, sink string, entryCount int, oldest, newest int64) error
}

// Alerter notifies an operator that the DLQ has crossed a depth threshold.
// Optional: a Broker with no alerter configured just skips the check.
type Alerter interface {
	Alert(ctx context.Context, depth int64) error
}

// Broker is the top-level handle on a running notification broker: one per
// process, shared across every Publish/Subscribe call it serves.
type Broker struct {
	redis  *redis.Client
	logger *logrus.Logger
	config Config

	scripts    *scriptRunner
	dedup      *deduplicator
	patterns   *patternRegistry
	scheduler  *scheduler
	middleware *middlewareChain
	metrics    *metricsSet
	dlqMgr     *DLQManager

	ctx    context.Context
	cancel context.CancelFunc

	loopsMu sync.Mutex
	loops   map[string]*consumerLoop

	subsMu sync.Mutex
	subs   map[string]*Subscription

	closeOnce sync.Once
}

// New constructs a Broker bound to an existing Redis client and starts its
// background loops: the pattern registry sync, the delayed-message
// scheduler (unless disabled), and the DLQ auto-cleanup loop (unless
// DLQ.CleanupInterval is negative; zero selects the default interval).
func New(ctx context.Context, client *redis.Client, cfg Config, logger *logrus.Logger, reg prometheus.Registerer) (*Broker, error) {
	if logger == nil {
		logger = logrus.New()
	}
	cfg = mergeDefaults(cfg)

	brokerCtx, cancel := context.WithCancel(ctx)

	b := &Broker{
		redis:      client,
		logger:     logger,
		config:     cfg,
		scripts:    newScriptRunner(client),
		dedup:      newDeduplicator(client),
		patterns:   newPatternRegistry(client, logger),
		middleware: newMiddlewareChain(logger),
		metrics:    newMetricsSet(reg),
		ctx:        brokerCtx,
		cancel:     cancel,
		loops:      make(map[string]*consumerLoop),
		subs:       make(map[string]*Subscription),
	}

	if err := b.patterns.start(brokerCtx); err != nil {
		cancel()
		return nil, err
	}

	if !cfg.DisableDelayed {
		b.scheduler = newScheduler(client, b.scripts, logger, cfg.CheckDelayInterval, cfg.ScheduledBatchSize, b.metrics)
		b.scheduler.start(brokerCtx)
	}

	b.dlqMgr = newDLQManager(b)
	b.dlqMgr.startAutoCleanup(brokerCtx)

	return b, nil
}

// Use registers middleware. Hooks are invoked in registration order; a
// hook's nil fields are simply skipped.
func (b *Broker) Use(m Middleware) {
	b.middleware.use(m)
}

// DLQ returns the broker's dead-letter queue manager.
func (b *Broker) DLQ() *DLQManager {
	return b.dlqMgr
}

// Config returns the broker's resolved configuration (after default
// merging), for admin-surface inspection and partial updates.
func (b *Broker) Config() Config {
	return b.config
}

// Metrics returns the broker's collector set. Its fields are unexported, so
// code outside this package cannot reach the collectors through it; they
// are exposed only by registering them with the Registerer passed to New.
func (b *Broker) Metrics() *metricsSet {
	return b.metrics
}

// Subscriptions returns a snapshot of every subscription currently
// registered with this broker, for admin-surface introspection.
func (b *Broker) Subscriptions() []*Subscription {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	return subs
}

// Subscription looks up a registered subscription by its handle ID.
func (b *Broker) Subscription(id string) (*Subscription, bool) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	s, ok := b.subs[id]
	return s, ok
}

// StopAll performs the graceful shutdown sequence from spec §5: stop the
// scheduler and DLQ auto-cleanup, drain every subscription's in-flight
// handlers (bounded by one 3-second timeout shared by all of them), then
// tear down the consumer loops and pattern registry.
func (b *Broker) StopAll(ctx context.Context) error {
	var shutdownErr error
	b.closeOnce.Do(func() {
		if b.scheduler != nil {
			b.scheduler.Stop()
		}
		b.dlqMgr.stopAutoCleanup()

		drainCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		g, gctx := errgroup.WithContext(drainCtx)
		b.subsMu.Lock()
		subs := make([]*Subscription, 0, len(b.subs))
		for _, s := range b.subs {
			subs = append(subs, s)
		}
		b.subsMu.Unlock()

		for _, s := range subs {
			sub := s
			g.Go(func() error {
				sub.Pause()
				waitForDrain(gctx, sub)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			shutdownErr = err
		}

		b.loopsMu.Lock()
		for key, l := range b.loops {
			close(l.stop)
			<-l.done
			delete(b.loops, key)
		}
		b.loopsMu.Unlock()

		b.patterns.stop()
		b.cancel()
	})
	return shutdownErr
}
