package rotif

import (
	"context"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

// deduplicator implements the two-sided deduplication layer (spec §4.3):
// publisher-side dedup rejects duplicate publishes, consumer-side dedup
// rejects duplicate consumption across workers in the same group. Both use
// atomic set-if-absent-with-TTL so a contended loser observes rejection
// without invoking any handler.
//
// A local LRU sits in front of Redis as a fast-path: a key this process has
// already seen within its TTL window skips the round-trip. Each entry
// carries its own expiry, so once a key's dedup TTL has elapsed the cache
// stops treating it as a duplicate and Redis SET NX is consulted again —
// the cache never outlives the window it is standing in for.
type deduplicator struct {
	client *redis.Client
	cache  *lru.Cache[string, time.Time] // value is the instant this entry stops being authoritative
}

func newDeduplicator(client *redis.Client) *deduplicator {
	cache, _ := lru.New[string, time.Time](4096)
	return &deduplicator{client: client, cache: cache}
}

// hashPayload returns a stable hex-encoded blake2b digest of a payload, used
// to derive dedup keys without embedding raw payload bytes in a Redis key.
func hashPayload(payload []byte) string {
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:16])
}

// tryAcquire attempts to claim key for the given TTL, returning true if this
// call is the first to see it (i.e. the message should proceed) and false if
// it is a duplicate.
func (d *deduplicator) tryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if expiry, ok := d.cache.Get(key); ok {
		if time.Now().Before(expiry) {
			return false, nil
		}
		d.cache.Remove(key)
	}

	ok, err := d.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		d.cache.Add(key, time.Now().Add(ttl))
	}
	return ok, nil
}

// release deletes a dedup key, used when exactly-once processing fails and
// must permit a subsequent reattempt to be treated as fresh.
func (d *deduplicator) release(ctx context.Context, key string) error {
	d.cache.Remove(key)
	return d.client.Del(ctx, key).Err()
}
