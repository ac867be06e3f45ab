package rotif

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DLQStats summarizes the dead-letter queue's current size and age profile.
type DLQStats struct {
	Count        int64
	OldestMillis int64
	NewestMillis int64
}

// DLQListOptions bounds a DLQ listing.
type DLQListOptions struct {
	Count   int64
	Channel string // optional exact-match filter
}

// DLQManager owns dead-letter cleanup and archival (spec §4.8): entries
// older than MaxAge or beyond MaxSize are trimmed from rotif:dlq, optionally
// fanning out to one or more archive sinks first.
type DLQManager struct {
	broker *Broker

	mu             sync.Mutex
	config         DLQConfig
	sinks          []ArchiveSink
	manifest       ManifestRecorder
	alerter        Alerter
	alertThreshold int64

	handlersMu sync.Mutex
	handlers   []Handler

	stop chan struct{}
	done chan struct{}

	subCancel context.CancelFunc
}

func newDLQManager(b *Broker) *DLQManager {
	return &DLQManager{
		broker: b,
		config: b.config.DLQ,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// AddSink registers an additional archive destination. Sinks run in
// registration order; a failing sink logs and does not block the others.
func (m *DLQManager) AddSink(sink ArchiveSink) {
	m.mu.Lock()
	m.sinks = append(m.sinks, sink)
	m.mu.Unlock()
}

// SetManifestRecorder wires a manifest store. Only one may be active at a
// time; a later call replaces an earlier one.
func (m *DLQManager) SetManifestRecorder(recorder ManifestRecorder) {
	m.mu.Lock()
	m.manifest = recorder
	m.mu.Unlock()
}

// SetAlerter wires an operator alert hook, fired from Cleanup whenever the
// DLQ's depth is at or above threshold at the end of a sweep.
func (m *DLQManager) SetAlerter(alerter Alerter, threshold int64) {
	m.mu.Lock()
	m.alerter = alerter
	m.alertThreshold = threshold
	m.mu.Unlock()
}

// GetStats reports the DLQ's current depth and age range.
func (m *DLQManager) GetStats(ctx context.Context) (DLQStats, error) {
	length, err := m.broker.redis.XLen(ctx, dlqStreamKey).Result()
	if err != nil {
		return DLQStats{}, err
	}
	if length == 0 {
		return DLQStats{Count: 0}, nil
	}

	oldest, err := m.broker.redis.XRange(ctx, dlqStreamKey, "-", "+").Result()
	if err != nil {
		return DLQStats{}, err
	}
	newest, err := m.broker.redis.XRevRangeN(ctx, dlqStreamKey, "+", "-", 1).Result()
	if err != nil {
		return DLQStats{}, err
	}

	stats := DLQStats{Count: length}
	if len(oldest) > 0 {
		stats.OldestMillis = parseInt64(oldest[0].Values["timestamp"])
	}
	if len(newest) > 0 {
		stats.NewestMillis = parseInt64(newest[0].Values["timestamp"])
	}
	return stats, nil
}

// GetMessages lists DLQ entries, most recent first, optionally filtered by
// channel.
func (m *DLQManager) GetMessages(ctx context.Context, opts DLQListOptions) ([]DLQMessage, error) {
	count := opts.Count
	if count <= 0 {
		count = 100
	}

	entries, err := m.broker.redis.XRevRangeN(ctx, dlqStreamKey, "+", "-", count).Result()
	if err != nil {
		return nil, err
	}

	msgs := make([]DLQMessage, 0, len(entries))
	for _, e := range entries {
		msg := dlqMessageFromEntry(e)
		if opts.Channel != "" && msg.Channel != opts.Channel {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func dlqMessageFromEntry(e redis.XMessage) DLQMessage {
	channel, _ := e.Values["channel"].(string)
	payload, _ := e.Values["payload"].(string)
	errMsg, _ := e.Values["error"].(string)
	return DLQMessage{
		ID:        e.ID,
		Channel:   channel,
		Payload:   []byte(payload),
		Error:     errMsg,
		Timestamp: parseInt64(e.Values["timestamp"]),
		Attempt:   int(parseInt64(e.Values["attempt"])),
	}
}

// Cleanup trims entries older than cfg.MaxAge and entries beyond cfg.MaxSize,
// archiving each trimmed batch to every registered sink plus the default
// Redis dated-list sink (unless archival is disabled entirely).
func (m *DLQManager) Cleanup(ctx context.Context) (int64, error) {
	m.mu.Lock()
	cfg := m.config
	sinks := append([]ArchiveSink(nil), m.sinks...)
	manifest := m.manifest
	alerter := m.alerter
	alertThreshold := m.alertThreshold
	m.mu.Unlock()

	defer m.checkAlertThreshold(ctx, alerter, alertThreshold)

	cutoff := time.Now().Add(-cfg.MaxAge).UnixMilli()

	aged, err := m.broker.redis.XRange(ctx, dlqStreamKey, "-", "+").Result()
	if err != nil {
		return 0, err
	}

	var toTrim []redis.XMessage
	for _, e := range aged {
		if parseInt64(e.Values["timestamp"]) < cutoff {
			toTrim = append(toTrim, e)
		}
	}

	if cfg.MaxSize > 0 {
		length, err := m.broker.redis.XLen(ctx, dlqStreamKey).Result()
		if err == nil && length > cfg.MaxSize {
			overflow := length - cfg.MaxSize
			oldest, err := m.broker.redis.XRange(ctx, dlqStreamKey, "-", "+").Result()
			if err == nil {
				seen := make(map[string]bool, len(toTrim))
				for _, e := range toTrim {
					seen[e.ID] = true
				}
				for i := int64(0); i < overflow && int(i) < len(oldest); i++ {
					if !seen[oldest[i].ID] {
						toTrim = append(toTrim, oldest[i])
					}
				}
			}
		}
	}

	if len(toTrim) == 0 {
		return 0, nil
	}

	if cfg.ArchiveEnabled {
		entries := make([]DLQMessage, len(toTrim))
		for i, e := range toTrim {
			entries[i] = dlqMessageFromEntry(e)
		}
		m.archive(ctx, entries, sinks, manifest)
	}

	ids := make([]string, len(toTrim))
	for i, e := range toTrim {
		ids[i] = e.ID
	}
	if err := m.broker.redis.XDel(ctx, dlqStreamKey, ids...).Err(); err != nil {
		return 0, err
	}

	return int64(len(ids)), nil
}

// checkAlertThreshold fires the configured Alerter once per Cleanup call if
// the DLQ is still at or above threshold after trimming. A zero threshold or
// unconfigured alerter disables the check entirely.
func (m *DLQManager) checkAlertThreshold(ctx context.Context, alerter Alerter, threshold int64) {
	if alerter == nil || threshold <= 0 {
		return
	}
	depth, err := m.broker.redis.XLen(ctx, dlqStreamKey).Result()
	if err != nil {
		return
	}
	if depth < threshold {
		return
	}
	if err := alerter.Alert(ctx, depth); err != nil {
		m.broker.logger.WithError(err).Warn("DLQ depth alert failed to send")
	}
}

// archive fans a trimmed batch out to the default Redis dated-list sink and
// every registered optional sink. A failing sink is logged and skipped; it
// never blocks the trim itself, since the entries are already being
// removed from the live DLQ stream regardless.
func (m *DLQManager) archive(ctx context.Context, entries []DLQMessage, sinks []ArchiveSink, manifest ManifestRecorder) {
	date := time.Now().UTC().Format("2006-01-02")
	listKey := archiveListKey(date)

	pipe := m.broker.redis.Pipeline()
	for _, e := range entries {
		pipe.RPush(ctx, listKey, e.Channel+"|"+string(e.Payload)+"|"+e.Error)
	}
	pipe.Expire(ctx, listKey, 30*24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		m.broker.logger.WithError(err).Warn("failed to archive DLQ batch to Redis dated list")
	} else {
		m.recordManifest(ctx, manifest, "redis", entries)
	}

	for _, sink := range sinks {
		if err := sink.Archive(ctx, entries); err != nil {
			m.broker.logger.WithError(err).WithField("sink", sink.Name()).Warn("archive sink failed for DLQ batch")
			continue
		}
		m.recordManifest(ctx, manifest, sink.Name(), entries)
	}
}

// recordManifest writes a manifest row for one successfully archived batch.
// A failing or unconfigured recorder never blocks archival itself.
func (m *DLQManager) recordManifest(ctx context.Context, manifest ManifestRecorder, sink string, entries []DLQMessage) {
	if manifest == nil || len(entries) == 0 {
		return
	}
	oldest, newest := entries[0].Timestamp, entries[0].Timestamp
	for _, e := range entries[1:] {
		if e.Timestamp < oldest {
			oldest = e.Timestamp
		}
		if e.Timestamp > newest {
			newest = e.Timestamp
		}
	}
	if err := manifest.RecordBatch(ctx, sink, len(entries), oldest, newest); err != nil {
		m.broker.logger.WithError(err).WithField("sink", sink).Warn("failed to record archive manifest")
	}
}

// Clear removes every entry from the DLQ without archiving, for operator use.
func (m *DLQManager) Clear(ctx context.Context) error {
	return m.broker.redis.Del(ctx, dlqStreamKey).Err()
}

// UpdateConfig replaces the manager's cleanup configuration, taking effect
// on the next cleanup tick.
func (m *DLQManager) UpdateConfig(cfg DLQConfig) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// Requeue moves up to count of the oldest DLQ entries onto
// rotif:stream:<channel> at attempt 1, per requeue-from-dlq. DLQ entries
// carry no pattern field, so the channel picks the stream.
func (m *DLQManager) Requeue(ctx context.Context, count int64) (int64, error) {
	res, err := run(ctx, m.broker.redis, m.broker.scripts.requeueFromDLQ, []string{dlqStreamKey}, count)
	if err != nil {
		return 0, err
	}
	moved, _ := res.(int64)
	return moved, nil
}

// Subscribe registers a handler invoked whenever an entry is moved into the
// DLQ, via a dedicated consumer loop (group dlqGroup, consumer dlqConsumer,
// spec §4.8). This is a convenience alongside the XADD the move-to-dlq
// script performs; entries are acked on successful handling and left
// pending on failure. The watcher reads only new entries, so a failed entry
// is not delivered to the handlers again.
func (m *DLQManager) Subscribe(handler Handler) {
	m.handlersMu.Lock()
	m.handlers = append(m.handlers, handler)
	m.handlersMu.Unlock()

	if m.subCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(m.broker.ctx)
	m.subCancel = cancel
	go m.watch(ctx)
}

func (m *DLQManager) watch(ctx context.Context) {
	if err := m.broker.redis.XGroupCreateMkStream(ctx, dlqStreamKey, dlqGroup, "$").Err(); err != nil && !isBusyGroupErr(err) {
		m.broker.logger.WithError(err).Warn("failed to create DLQ consumer group, subscriber will not run")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := m.broker.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    dlqGroup,
			Consumer: dlqConsumer,
			Streams:  []string{dlqStreamKey, ">"},
			Block:    5 * time.Second,
			Count:    100,
		}).Result()
		if err != nil {
			if err != redis.Nil {
				time.Sleep(time.Second)
			}
			continue
		}

		for _, s := range res {
			for _, e := range s.Messages {
				msg := &Message{
					ID:      e.ID,
					Channel: func() string { c, _ := e.Values["channel"].(string); return c }(),
					Payload: func() []byte { p, _ := e.Values["payload"].(string); return []byte(p) }(),
				}
				m.handlersMu.Lock()
				handlers := append([]Handler(nil), m.handlers...)
				m.handlersMu.Unlock()

				failed := false
				for _, h := range handlers {
					if err := h(msg); err != nil {
						failed = true
						m.broker.logger.WithError(err).Warn("DLQ subscriber handler returned an error")
					}
				}
				if !failed {
					m.broker.redis.XAck(ctx, dlqStreamKey, dlqGroup, e.ID)
				}
			}
		}
	}
}

// startAutoCleanup begins the periodic cleanup loop, unless the configured
// interval is zero or negative.
func (m *DLQManager) startAutoCleanup(ctx context.Context) {
	if m.config.CleanupInterval <= 0 {
		close(m.done)
		return
	}
	go m.cleanupLoop(ctx)
}

func (m *DLQManager) cleanupLoop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			if _, err := m.Cleanup(ctx); err != nil {
				m.broker.logger.WithError(err).Warn("DLQ auto-cleanup pass failed")
			}
		}
	}
}

func (m *DLQManager) stopAutoCleanup() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	if m.subCancel != nil {
		m.subCancel()
	}
	<-m.done
}
