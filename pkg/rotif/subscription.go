package rotif

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	rotiferrors "rotif/pkg/errors"
)

// Handle is returned by Subscribe and lets the caller control the lifetime
// of a single subscription.
type Handle struct {
	sub    *Subscription
	broker *Broker
}

// Pause stops new dispatches to this subscription without tearing it down.
func (h *Handle) Pause() { h.sub.Pause() }

// Resume re-enables dispatch to this subscription.
func (h *Handle) Resume() { h.sub.Resume() }

// Stats returns a snapshot of this subscription's counters.
func (h *Handle) Stats() *Stats { return &h.sub.Stats }

// Unsubscribe pauses the subscription, waits up to 5s for in-flight
// deliveries to drain, then removes it from its consumer loop. If
// removePattern is true, the pattern registry reference count is
// decremented and a remove: notice published on a 1->0 transition.
//
// Idempotent: calling Unsubscribe twice is a no-op the second time.
func (h *Handle) Unsubscribe(ctx context.Context, removePattern bool) error {
	return h.broker.unsubscribe(ctx, h.sub, removePattern)
}

// Subscribe registers a handler for messages on channels matching pattern,
// within consumer group opts.Group (default "rotif-group"). It returns a
// Handle for lifecycle control.
func (b *Broker) Subscribe(ctx context.Context, pattern string, handler Handler, opts SubscribeOptions) (*Handle, error) {
	if pattern == "" {
		return nil, rotiferrors.NewValidationError("pattern is required", "")
	}
	if handler == nil {
		return nil, rotiferrors.NewValidationError("handler is required", "")
	}
	if _, err := compilePattern(pattern); err != nil {
		return nil, rotiferrors.NewAppError(rotiferrors.ValidationError, "invalid pattern", err.Error(), err)
	}

	group := opts.Group
	if group == "" {
		group = b.config.ConsumerGroup
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = b.config.MaxRetries
	}
	opts.Group = group

	sub := &Subscription{
		ID:      uuid.NewString(),
		Pattern: pattern,
		Group:   group,
		Handler: handler,
		Options: opts,
	}

	stream := streamKey(pattern)

	startFrom := opts.StartFrom
	if startFrom == "" {
		startFrom = "$"
	}

	if err := b.ensureGroup(ctx, stream, group, startFrom); err != nil {
		return nil, err
	}

	// Retries re-enter the main stream via the scheduled set (scripts.go's
	// retry-message targets mainStream), so a single loop on stream serves
	// both fresh and retried deliveries. There is no separate retry stream
	// to read from.
	b.loopsMu.Lock()
	mainLoop := b.getOrCreateLoopLocked(stream, group)
	mainLoop.addSubscription(sub)
	b.loopsMu.Unlock()

	b.subsMu.Lock()
	b.subs[sub.ID] = sub
	b.subsMu.Unlock()

	if err := b.registerPattern(ctx, pattern); err != nil {
		b.logger.WithError(err).WithField("pattern", pattern).Warn("failed to register pattern in registry; local routing continues via per-process view")
	}

	return &Handle{sub: sub, broker: b}, nil
}

func (b *Broker) ensureGroup(ctx context.Context, stream, group, startFrom string) error {
	err := b.redis.XGroupCreateMkStream(ctx, stream, group, startFrom).Err()
	if err != nil && !isBusyGroupErr(err) {
		return rotiferrors.NewTransportError("failed to create consumer group", err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

// registerPattern increments the pattern's reference count and, on a 0->1
// transition, publishes add:<pattern> so other processes' publishers learn
// about the new subscriber.
func (b *Broker) registerPattern(ctx context.Context, pattern string) error {
	newCount, err := b.redis.ZIncrBy(ctx, patternsSetKey, 1, pattern).Result()
	if err != nil {
		return err
	}

	g, _ := compilePattern(pattern)
	b.patterns.addLocal(pattern, g)

	if newCount == 1 {
		if err := b.redis.Publish(ctx, updatesChannelKey, "add:"+pattern).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Unsubscribe tears down a registered subscription by its handle ID, for
// admin-surface use where the caller never held the original Handle.
func (b *Broker) Unsubscribe(ctx context.Context, id string, removePattern bool) error {
	b.subsMu.Lock()
	sub, ok := b.subs[id]
	b.subsMu.Unlock()
	if !ok {
		return nil
	}
	return b.unsubscribe(ctx, sub, removePattern)
}

func (b *Broker) unsubscribe(ctx context.Context, sub *Subscription, removePattern bool) error {
	b.subsMu.Lock()
	if _, ok := b.subs[sub.ID]; !ok {
		b.subsMu.Unlock()
		return nil // already unsubscribed
	}
	delete(b.subs, sub.ID)
	b.subsMu.Unlock()

	sub.Pause()

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	waitForDrain(drainCtx, sub)

	stream := streamKey(sub.Pattern)

	b.loopsMu.Lock()
	b.removeSubscriptionLocked(stream, sub.Group, sub)
	b.loopsMu.Unlock()

	if !removePattern {
		return nil
	}

	res, err := run(ctx, b.redis, b.scripts.safeUnsubscribe, []string{patternsSetKey}, sub.Pattern)
	if err != nil {
		return rotiferrors.NewScriptError("safe-unsubscribe failed", err)
	}
	newCount, _ := res.(int64)
	if newCount <= 0 {
		b.patterns.removeLocal(sub.Pattern)
		if err := b.redis.Publish(ctx, updatesChannelKey, "remove:"+sub.Pattern).Err(); err != nil {
			return err
		}
	}
	return nil
}

func waitForDrain(ctx context.Context, sub *Subscription) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if sub.InFlight() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
