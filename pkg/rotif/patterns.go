package rotif

import (
	"context"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// patternRegistry mirrors the Redis-side reference-counted pattern set
// (rotif:patterns) into an in-memory activePatterns set kept current by
// subscribing to rotif:subscriptions:updates. The update receiver applies
// remote add:/remove: notices, Subscribe and unsubscribe also update the set
// locally, and every read and write goes through mu.
type patternRegistry struct {
	client *redis.Client
	logger *logrus.Logger

	mu     sync.RWMutex
	active map[string]glob.Glob
	cancel context.CancelFunc
}

func newPatternRegistry(client *redis.Client, logger *logrus.Logger) *patternRegistry {
	return &patternRegistry{
		client: client,
		logger: logger,
		active: make(map[string]glob.Glob),
	}
}

// compilePattern compiles a minimatch-equivalent glob: '*' matches within a
// single '.'-delimited segment, '**' matches across segments.
func compilePattern(pattern string) (glob.Glob, error) {
	return glob.Compile(pattern, '.')
}

// start resyncs activePatterns from rotif:patterns and begins following the
// update pub/sub channel. Blocks until the initial resync completes.
func (r *patternRegistry) start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	if err := r.resync(ctx); err != nil {
		return err
	}

	sub := r.client.Subscribe(ctx, updatesChannelKey)
	ch := sub.Channel()

	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.handleUpdate(msg.Payload)
			}
		}
	}()

	return nil
}

func (r *patternRegistry) stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// resync rebuilds activePatterns from the authoritative Redis sorted set.
// Called only from start; a reconnect of the update subscription does not
// trigger another resync, so notices published while it was disconnected
// are not applied.
func (r *patternRegistry) resync(ctx context.Context) error {
	members, err := r.client.ZRangeByScore(ctx, patternsSetKey, &redis.ZRangeBy{
		Min: "1", Max: "+inf",
	}).Result()
	if err != nil {
		return err
	}

	next := make(map[string]glob.Glob, len(members))
	for _, pattern := range members {
		g, err := compilePattern(pattern)
		if err != nil {
			r.logger.WithError(err).WithField("pattern", pattern).Warn("skipping unparsable pattern during resync")
			continue
		}
		next[pattern] = g
	}

	r.mu.Lock()
	r.active = next
	r.mu.Unlock()
	return nil
}

func (r *patternRegistry) handleUpdate(payload string) {
	switch {
	case strings.HasPrefix(payload, "add:"):
		pattern := strings.TrimPrefix(payload, "add:")
		g, err := compilePattern(pattern)
		if err != nil {
			r.logger.WithError(err).WithField("pattern", pattern).Warn("ignoring unparsable pattern add notice")
			return
		}
		r.mu.Lock()
		r.active[pattern] = g
		r.mu.Unlock()
	case strings.HasPrefix(payload, "remove:"):
		pattern := strings.TrimPrefix(payload, "remove:")
		r.mu.Lock()
		delete(r.active, pattern)
		r.mu.Unlock()
	default:
		r.logger.WithField("payload", payload).Warn("unrecognized pattern registry update notice")
	}
}

// matchingPatterns returns every active pattern matching channel.
func (r *patternRegistry) matchingPatterns(channel string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []string
	for pattern, g := range r.active {
		if g.Match(channel) {
			matches = append(matches, pattern)
		}
	}
	return matches
}

// addLocal registers pattern in the local view immediately, ahead of the
// pub/sub notice round-trip, so a process's own subsequent publishes see it
// without waiting on its own announcement.
func (r *patternRegistry) addLocal(pattern string, g glob.Glob) {
	r.mu.Lock()
	r.active[pattern] = g
	r.mu.Unlock()
}

func (r *patternRegistry) removeLocal(pattern string) {
	r.mu.Lock()
	delete(r.active, pattern)
	r.mu.Unlock()
}
