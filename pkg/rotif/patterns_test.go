package rotif

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestCompilePattern_MatchesSingleSegmentWildcard(t *testing.T) {
	g, err := compilePattern("orders.*")
	require.NoError(t, err)

	require.True(t, g.Match("orders.created"))
	require.False(t, g.Match("orders.created.eu"), "single '*' must not cross a '.' segment boundary")
}

func TestCompilePattern_DoubleStarCrossesSegments(t *testing.T) {
	g, err := compilePattern("orders.**")
	require.NoError(t, err)

	require.True(t, g.Match("orders.created"))
	require.True(t, g.Match("orders.created.eu.west"))
}

func TestCompilePattern_ExactChannelMatchesItself(t *testing.T) {
	g, err := compilePattern("orders.created")
	require.NoError(t, err)

	require.True(t, g.Match("orders.created"))
	require.False(t, g.Match("orders.cancelled"))
}

func newTestPatternRegistry(t *testing.T) (*patternRegistry, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return newPatternRegistry(client, logger), client
}

func TestPatternRegistry_ResyncLoadsFromSortedSet(t *testing.T) {
	r, client := newTestPatternRegistry(t)
	ctx := context.Background()

	require.NoError(t, client.ZAdd(ctx, patternsSetKey,
		redis.Z{Score: 1, Member: "orders.*"},
		redis.Z{Score: 2, Member: "billing.**"},
	).Err())

	require.NoError(t, r.resync(ctx))

	require.ElementsMatch(t, []string{"orders.*"}, r.matchingPatterns("orders.created"))
	require.ElementsMatch(t, []string{"billing.**"}, r.matchingPatterns("billing.invoice.paid"))
}

func TestPatternRegistry_ResyncSkipsUnparsablePatterns(t *testing.T) {
	r, client := newTestPatternRegistry(t)
	ctx := context.Background()

	require.NoError(t, client.ZAdd(ctx, patternsSetKey,
		redis.Z{Score: 1, Member: "orders.*"},
		redis.Z{Score: 2, Member: "["},
	).Err())

	require.NoError(t, r.resync(ctx))
	require.Len(t, r.active, 1)
}

func TestPatternRegistry_HandleUpdate_Add(t *testing.T) {
	r, _ := newTestPatternRegistry(t)

	r.handleUpdate("add:orders.*")
	require.ElementsMatch(t, []string{"orders.*"}, r.matchingPatterns("orders.created"))
}

func TestPatternRegistry_HandleUpdate_Remove(t *testing.T) {
	r, _ := newTestPatternRegistry(t)

	r.handleUpdate("add:orders.*")
	r.handleUpdate("remove:orders.*")
	require.Empty(t, r.matchingPatterns("orders.created"))
}

func TestPatternRegistry_HandleUpdate_UnparsableAddIgnored(t *testing.T) {
	r, _ := newTestPatternRegistry(t)

	r.handleUpdate("add:[")
	require.Empty(t, r.active)
}

func TestPatternRegistry_AddLocalIsImmediatelyVisible(t *testing.T) {
	r, _ := newTestPatternRegistry(t)

	g, err := compilePattern("orders.*")
	require.NoError(t, err)
	r.addLocal("orders.*", g)

	require.ElementsMatch(t, []string{"orders.*"}, r.matchingPatterns("orders.created"))

	r.removeLocal("orders.*")
	require.Empty(t, r.matchingPatterns("orders.created"))
}

func TestPatternRegistry_MatchingPatterns_MultipleMatches(t *testing.T) {
	r, _ := newTestPatternRegistry(t)

	g1, _ := compilePattern("orders.*")
	g2, _ := compilePattern("orders.**")
	r.addLocal("orders.*", g1)
	r.addLocal("orders.**", g2)

	require.ElementsMatch(t, []string{"orders.*", "orders.**"}, r.matchingPatterns("orders.created"))
}
