package rotif

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// consumerName builds a physical worker's consumer identity, following the
// <host>:<pid>:<rand0..9999> default from spec §4.1.
func consumerName() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s:%d:%d", host, os.Getpid(), time.Now().UnixNano()%10000)
}

// consumerLoop is one shared loop per (stream, group) pair, created lazily on
// first subscribe and torn down when its subscription set empties (spec
// §4.7). It owns its subscription slice and round-robin index exclusively;
// no other goroutine mutates them directly — additions/removals go through
// addSubscription/removeSubscription, which the loop picks up on its next
// iteration via a mutex that is only ever held briefly.
type consumerLoop struct {
	stream string
	group  string
	broker *Broker
	logger *logrus.Logger

	mu            sync.Mutex
	subs          []*Subscription
	roundRobinIdx int

	lastPendingCheck time.Time

	stop chan struct{}
	done chan struct{}
}

func newConsumerLoop(b *Broker, stream, group string) *consumerLoop {
	return &consumerLoop{
		stream: stream,
		group:  group,
		broker: b,
		logger: b.logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (l *consumerLoop) addSubscription(sub *Subscription) {
	l.mu.Lock()
	l.subs = append(l.subs, sub)
	l.mu.Unlock()
}

func (l *consumerLoop) removeSubscription(sub *Subscription) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.subs {
		if s == sub {
			l.subs = append(l.subs[:i], l.subs[i+1:]...)
			break
		}
	}
	return len(l.subs)
}

func (l *consumerLoop) matching(channel string) []*Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()

	var matches []*Subscription
	for _, s := range l.subs {
		if s.Paused() {
			continue
		}
		g, err := compilePattern(s.Pattern)
		if err != nil {
			continue
		}
		if g.Match(channel) {
			matches = append(matches, s)
		}
	}
	return matches
}

func (l *consumerLoop) hasAnySubscriptions() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs) > 0
}

func (l *consumerLoop) nextRoundRobinTarget(candidates []*Subscription) *Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(candidates) == 0 {
		return nil
	}
	idx := l.roundRobinIdx % len(candidates)
	l.roundRobinIdx++
	return candidates[idx]
}

func (l *consumerLoop) start(ctx context.Context) {
	go l.run(ctx)
}

func (l *consumerLoop) run(ctx context.Context) {
	defer close(l.done)

	consumer := consumerName()
	cfg := l.broker.config

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		default:
		}

		if !l.hasAnySubscriptions() {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		if !cfg.DisablePendingMessageRecovery && time.Since(l.lastPendingCheck) >= cfg.PendingCheckInterval {
			l.recoverPending(ctx, consumer)
			l.lastPendingCheck = time.Now()
		}

		l.readAndDispatch(ctx, consumer)
	}
}

// recoverPending implements stale-pending recovery: XPENDING to find idle
// entries, XCLAIM them to this consumer, and dispatch them like fresh reads.
func (l *consumerLoop) recoverPending(ctx context.Context, consumer string) {
	cfg := l.broker.config

	if summary, err := l.broker.redis.XPending(ctx, l.stream, l.group).Result(); err == nil && l.broker.metrics != nil {
		l.broker.metrics.consumerLag.WithLabelValues(l.stream, l.group).Set(float64(summary.Count))
	}

	pending, err := l.broker.redis.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: l.stream,
		Group:  l.group,
		Idle:   cfg.PendingIdleThreshold,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		if err != redis.Nil {
			l.logger.WithError(err).WithField("stream", l.stream).Debug("pending-entry check failed")
		}
		return
	}
	if len(pending) == 0 {
		return
	}

	ids := make([]string, len(pending))
	for i, p := range pending {
		ids[i] = p.ID
	}

	claimed, err := l.broker.redis.XClaim(ctx, &redis.XClaimArgs{
		Stream:   l.stream,
		Group:    l.group,
		Consumer: consumer,
		MinIdle:  cfg.PendingIdleThreshold,
		Messages: ids,
	}).Result()
	if err != nil {
		l.logger.WithError(err).WithField("stream", l.stream).Warn("failed to claim idle pending entries")
		return
	}

	for _, msg := range claimed {
		l.dispatch(ctx, consumer, msg)
	}
}

func (l *consumerLoop) readAndDispatch(ctx context.Context, consumer string) {
	cfg := l.broker.config

	streams, err := l.broker.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    l.group,
		Consumer: consumer,
		Streams:  []string{l.stream, ">"},
		Count:    5000,
		Block:    cfg.BlockInterval,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return
		}
		l.logger.WithError(err).WithField("stream", l.stream).Warn("XREADGROUP failed, backing off")
		time.Sleep(500 * time.Millisecond)
		return
	}

	for _, s := range streams {
		for _, msg := range s.Messages {
			l.dispatch(ctx, consumer, msg)
		}
	}
}

// dispatch resolves local subscriptions matching a record's channel field
// and routes the delivery per spec §4.7 step 4-5.
func (l *consumerLoop) dispatch(ctx context.Context, consumer string, raw redis.XMessage) {
	channel, _ := raw.Values["channel"].(string)

	matches := l.matching(channel)

	if len(matches) == 0 {
		l.mu.Lock()
		total := len(l.subs)
		l.mu.Unlock()

		if total == 0 {
			l.logger.WithField("stream", l.stream).WithField("message_id", raw.ID).
				Warn("no subscriptions registered for stream, acking unroutable entry")
		}
		// No subs at all (logged above), no sub matching the entry, or every
		// matching sub paused: ack the entry.
		l.ack(ctx, raw.ID, false)
		return
	}

	targets := matches
	if l.broker.config.LocalRoundRobin {
		if t := l.nextRoundRobinTarget(matches); t != nil {
			targets = []*Subscription{t}
		}
	}

	for _, sub := range targets {
		l.deliverTo(ctx, sub, raw)
	}
}

func (l *consumerLoop) ack(ctx context.Context, id string, delete bool) {
	deleteFlag := "0"
	if delete {
		deleteFlag = "1"
	}
	if _, err := run(ctx, l.broker.redis, l.broker.scripts.ack, []string{l.stream}, l.group, id, deleteFlag); err != nil {
		l.logger.WithError(err).WithField("message_id", id).Warn("ack-message failed")
	}
}

func (l *consumerLoop) deliverTo(ctx context.Context, sub *Subscription, raw redis.XMessage) {
	sub.inFlight.Add(1)
	defer sub.inFlight.Add(-1)

	msg := parseMessage(raw)

	ctx, span := startSpan(ctx, "rotif.process")
	defer span.End()

	if sub.Options.ExactlyOnce {
		group := sub.Group
		key := consumerDedupKey(group, msg.Channel, hashPayload(msg.Payload))
		ttl := sub.Options.DeduplicationTTL
		if ttl <= 0 {
			ttl = l.broker.config.DeduplicationTTL
		}
		acquired, err := l.broker.dedup.tryAcquire(ctx, key, ttl)
		if err != nil {
			l.logger.WithError(err).Warn("consumer-side dedup check failed, processing anyway")
		} else if !acquired {
			l.ack(ctx, raw.ID, false)
			return
		}
	}

	l.broker.middleware.runBeforeProcess(msg)

	err := sub.Handler(msg)

	if err == nil {
		l.ack(ctx, raw.ID, false)
		l.broker.middleware.runAfterProcess(msg)
		sub.Stats.recordMessage(time.Now().UnixMilli())
		if l.broker.metrics != nil {
			l.broker.metrics.consumed.WithLabelValues(sub.Pattern, "success").Inc()
		}
		return
	}

	l.broker.middleware.runOnError(msg, err)

	if sub.Options.ExactlyOnce {
		key := consumerDedupKey(sub.Group, msg.Channel, hashPayload(msg.Payload))
		if delErr := l.broker.dedup.release(ctx, key); delErr != nil {
			l.logger.WithError(delErr).Warn("failed to release consumer-side dedup key after handler error")
		}
	}

	maxRetries := sub.Options.MaxRetries
	if maxRetries == 0 {
		maxRetries = l.broker.config.MaxRetries
	}

	if msg.Attempt > maxRetries {
		l.moveToDLQ(ctx, sub, raw, msg, err)
		if l.broker.metrics != nil {
			l.broker.metrics.consumed.WithLabelValues(sub.Pattern, "dlq").Inc()
		}
		return
	}

	l.scheduleRetry(ctx, sub, raw, msg)
	sub.Stats.recordRetry()
	if l.broker.metrics != nil {
		l.broker.metrics.retried.WithLabelValues(sub.Pattern).Inc()
	}
}

func (l *consumerLoop) moveToDLQ(ctx context.Context, sub *Subscription, raw redis.XMessage, msg *Message, cause error) {
	_, err := run(ctx, l.broker.redis, l.broker.scripts.moveToDLQ,
		[]string{l.stream, dlqStreamKey},
		l.group, raw.ID, msg.Channel, string(msg.Payload), cause.Error(), msg.Timestamp, msg.Attempt,
	)
	if err != nil {
		l.logger.WithError(err).WithField("message_id", raw.ID).Error("move-to-dlq failed, message left pending")
		return
	}
	sub.Stats.recordFailure()
	l.logger.WithField("channel", msg.Channel).WithField("attempt", msg.Attempt).
		WithError(cause).Error("message exhausted retry budget, moved to DLQ")
	if l.broker.metrics != nil {
		l.broker.metrics.dlqMoved.WithLabelValues(sub.Pattern).Inc()
	}
}

func (l *consumerLoop) scheduleRetry(ctx context.Context, sub *Subscription, raw redis.XMessage, msg *Message) {
	cfg := l.broker.config
	nextAttempt := msg.Attempt + 1

	delay := resolveRetryDelay(sub.Options, cfg.RetryStrategy, cfg.RetryDelay, msg.Attempt, msg)
	dueAt := time.Now().Add(delay).UnixMilli()

	exactlyOnceFlag := "0"
	if msg.ExactlyOnce {
		exactlyOnceFlag = "1"
	}

	nonce := strconv.FormatInt(time.Now().UnixNano(), 36)

	_, err := run(ctx, l.broker.redis, l.broker.scripts.retry,
		[]string{l.stream, scheduledSetKey},
		l.group, raw.ID, msg.Channel, string(msg.Payload), msg.Timestamp, nextAttempt, dueAt,
		nonce, exactlyOnceFlag, int64(msg.DedupTTL.Seconds()), streamKey(msg.Pattern), msg.Pattern,
	)
	if err != nil {
		l.logger.WithError(err).WithField("message_id", raw.ID).Error("retry-message failed, message left pending")
	}
}

func parseMessage(raw redis.XMessage) *Message {
	channel, _ := raw.Values["channel"].(string)
	payload, _ := raw.Values["payload"].(string)
	pattern, _ := raw.Values["pattern"].(string)

	timestamp := parseInt64(raw.Values["timestamp"])
	attempt := int(parseInt64(raw.Values["attempt"]))
	if attempt < 1 {
		attempt = 1
	}
	dedupTTLSeconds := parseInt64(raw.Values["dedupTTL"])

	exactlyOnce := false
	if v, ok := raw.Values["exactlyOnce"].(string); ok {
		exactlyOnce = v == "1" || v == "true"
	}

	return &Message{
		ID:          raw.ID,
		Channel:     channel,
		Payload:     []byte(payload),
		Timestamp:   timestamp,
		Attempt:     attempt,
		Pattern:     pattern,
		ExactlyOnce: exactlyOnce,
		DedupTTL:    time.Duration(dedupTTLSeconds) * time.Second,
	}
}

func parseInt64(v interface{}) int64 {
	switch t := v.(type) {
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	case int64:
		return t
	default:
		return 0
	}
}

// getOrCreateLoopLocked returns the shared loop for (stream, group), creating
// and starting it if this is the first subscription to need it. Callers
// must hold broker.loopsMu.
func (b *Broker) getOrCreateLoopLocked(stream, group string) *consumerLoop {
	key := stream + "|" + group
	if l, ok := b.loops[key]; ok {
		return l
	}
	l := newConsumerLoop(b, stream, group)
	b.loops[key] = l
	l.start(b.ctx)
	return l
}

// removeSubscriptionLocked detaches sub from its loop and tears the loop
// down once its subscription set empties. Callers must hold broker.loopsMu.
func (b *Broker) removeSubscriptionLocked(stream, group string, sub *Subscription) {
	key := stream + "|" + group
	l, ok := b.loops[key]
	if !ok {
		return
	}
	remaining := l.removeSubscription(sub)
	if remaining == 0 {
		close(l.stop)
		delete(b.loops, key)
	}
}
