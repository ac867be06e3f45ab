package rotif

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestDeduplicator(t *testing.T) (*deduplicator, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return newDeduplicator(client), client, mr
}

func TestHashPayload_Deterministic(t *testing.T) {
	a := hashPayload([]byte(`{"order_id":1}`))
	b := hashPayload([]byte(`{"order_id":1}`))
	require.Equal(t, a, b)
}

func TestHashPayload_DiffersOnDifferentPayloads(t *testing.T) {
	a := hashPayload([]byte(`{"order_id":1}`))
	b := hashPayload([]byte(`{"order_id":2}`))
	require.NotEqual(t, a, b)
}

func TestDeduplicator_TryAcquire_FirstWins(t *testing.T) {
	d, _, _ := newTestDeduplicator(t)
	ctx := context.Background()

	ok, err := d.tryAcquire(ctx, "rotif:dedup:pub:k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDeduplicator_TryAcquire_DuplicateRejected(t *testing.T) {
	d, _, _ := newTestDeduplicator(t)
	ctx := context.Background()

	ok1, err := d.tryAcquire(ctx, "rotif:dedup:pub:k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok1)

	ok2, err := d.tryAcquire(ctx, "rotif:dedup:pub:k", time.Minute)
	require.NoError(t, err)
	require.False(t, ok2, "second acquire of the same key must be rejected")
}

func TestDeduplicator_TryAcquire_LocalCacheShortCircuitsWithinTTL(t *testing.T) {
	d, client, _ := newTestDeduplicator(t)
	ctx := context.Background()

	ok, err := d.tryAcquire(ctx, "rotif:dedup:pub:k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Delete the key out from under the dedup key on the Redis side without
	// going through release(). While the local cache's own deadline for this
	// key is still in the future, it still short-circuits as a duplicate —
	// a bounded, TTL-scoped divergence, not an unbounded one.
	require.NoError(t, client.Del(ctx, "rotif:dedup:pub:k").Err())

	ok2, err := d.tryAcquire(ctx, "rotif:dedup:pub:k", time.Minute)
	require.NoError(t, err)
	require.False(t, ok2)
}

func TestDeduplicator_TryAcquire_LocalCacheFallsThroughAfterTTL(t *testing.T) {
	d, _, mr := newTestDeduplicator(t)
	ctx := context.Background()

	ok, err := d.tryAcquire(ctx, "rotif:dedup:pub:k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// Advance past both the Redis key's TTL and the local cache entry's own
	// deadline. A genuinely new message with this key must not be dropped:
	// the cache must stop treating it as a duplicate and fall through to
	// Redis, where the key has also expired. FastForward only moves
	// miniredis's clock; the cache deadline is wall-clock time, so the test
	// also waits it out.
	mr.FastForward(2 * time.Second)
	time.Sleep(1100 * time.Millisecond)

	ok2, err := d.tryAcquire(ctx, "rotif:dedup:pub:k", time.Second)
	require.NoError(t, err)
	require.True(t, ok2, "a cache entry must not outlive the dedup TTL it stands in for")
}

func TestDeduplicator_Release_AllowsReacquire(t *testing.T) {
	d, _, _ := newTestDeduplicator(t)
	ctx := context.Background()

	ok, err := d.tryAcquire(ctx, "rotif:dedup:con:k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, d.release(ctx, "rotif:dedup:con:k"))

	ok2, err := d.tryAcquire(ctx, "rotif:dedup:con:k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok2, "a released key must be acquirable again")
}

func TestDeduplicator_TryAcquire_ExpiresAfterTTL(t *testing.T) {
	d, _, mr := newTestDeduplicator(t)
	ctx := context.Background()

	ok, err := d.tryAcquire(ctx, "rotif:dedup:pub:k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	// The local LRU still thinks it owns the key; release clears that entry
	// and deletes the Redis key, so a subsequent acquire succeeds.
	require.NoError(t, d.release(ctx, "rotif:dedup:pub:k"))
	ok2, err := d.tryAcquire(ctx, "rotif:dedup:pub:k", time.Second)
	require.NoError(t, err)
	require.True(t, ok2)
}
