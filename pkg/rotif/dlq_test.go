package rotif

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T, cfg Config) (*Broker, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	b := &Broker{redis: client, logger: logger, config: cfg}
	return b, client, mr
}

func addDLQEntry(t *testing.T, ctx context.Context, client *redis.Client, channel, payload string, timestamp int64) {
	t.Helper()
	err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: dlqStreamKey,
		Values: map[string]interface{}{
			"channel":   channel,
			"payload":   payload,
			"error":     "handler failed",
			"timestamp": timestamp,
			"attempt":   3,
		},
	}).Err()
	require.NoError(t, err)
}

func TestDLQManager_GetStats_Empty(t *testing.T) {
	b, _, _ := newTestBroker(t, Config{})
	m := newDLQManager(b)

	stats, err := m.GetStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.Count)
}

func TestDLQManager_GetStats_ReportsAgeRange(t *testing.T) {
	b, client, _ := newTestBroker(t, Config{})
	m := newDLQManager(b)
	ctx := context.Background()

	addDLQEntry(t, ctx, client, "orders.created", "p1", 1000)
	addDLQEntry(t, ctx, client, "orders.created", "p2", 2000)

	stats, err := m.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.Count)
	require.Equal(t, int64(1000), stats.OldestMillis)
	require.Equal(t, int64(2000), stats.NewestMillis)
}

func TestDLQManager_GetMessages_FiltersByChannel(t *testing.T) {
	b, client, _ := newTestBroker(t, Config{})
	m := newDLQManager(b)
	ctx := context.Background()

	addDLQEntry(t, ctx, client, "orders.created", "p1", 1000)
	addDLQEntry(t, ctx, client, "billing.invoice", "p2", 2000)

	msgs, err := m.GetMessages(ctx, DLQListOptions{Channel: "orders.created"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "orders.created", msgs[0].Channel)
}

func TestDLQManager_GetMessages_MostRecentFirst(t *testing.T) {
	b, client, _ := newTestBroker(t, Config{})
	m := newDLQManager(b)
	ctx := context.Background()

	addDLQEntry(t, ctx, client, "orders.created", "first", 1000)
	addDLQEntry(t, ctx, client, "orders.created", "second", 2000)

	msgs, err := m.GetMessages(ctx, DLQListOptions{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "second", string(msgs[0].Payload))
	require.Equal(t, "first", string(msgs[1].Payload))
}

func TestDLQManager_Clear(t *testing.T) {
	b, client, _ := newTestBroker(t, Config{})
	m := newDLQManager(b)
	ctx := context.Background()

	addDLQEntry(t, ctx, client, "orders.created", "p1", 1000)
	require.NoError(t, m.Clear(ctx))

	stats, err := m.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.Count)
}

func TestDLQManager_Cleanup_TrimsAgedEntriesWithoutArchival(t *testing.T) {
	cfg := Config{DLQ: DLQConfig{MaxAge: time.Hour, ArchiveEnabled: false}}
	b, client, _ := newTestBroker(t, cfg)
	m := newDLQManager(b)
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour).UnixMilli()
	fresh := time.Now().UnixMilli()
	addDLQEntry(t, ctx, client, "orders.created", "old", old)
	addDLQEntry(t, ctx, client, "orders.created", "fresh", fresh)

	trimmed, err := m.Cleanup(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), trimmed)

	stats, err := m.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Count)
}

func TestDLQManager_Cleanup_ArchivesToRedisDatedList(t *testing.T) {
	cfg := Config{DLQ: DLQConfig{MaxAge: time.Hour, ArchiveEnabled: true}}
	b, client, _ := newTestBroker(t, cfg)
	m := newDLQManager(b)
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour).UnixMilli()
	addDLQEntry(t, ctx, client, "orders.created", "old", old)

	trimmed, err := m.Cleanup(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), trimmed)

	listKey := archiveListKey(time.Now().UTC().Format("2006-01-02"))
	length, err := client.LLen(ctx, listKey).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), length)
}

func TestDLQManager_Cleanup_NothingToTrim(t *testing.T) {
	cfg := Config{DLQ: DLQConfig{MaxAge: time.Hour}}
	b, client, _ := newTestBroker(t, cfg)
	m := newDLQManager(b)
	ctx := context.Background()

	addDLQEntry(t, ctx, client, "orders.created", "fresh", time.Now().UnixMilli())

	trimmed, err := m.Cleanup(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), trimmed)
}

func TestDLQManager_AddSinkAndManifestRecorderAreWired(t *testing.T) {
	cfg := Config{DLQ: DLQConfig{MaxAge: time.Hour, ArchiveEnabled: true}}
	b, client, _ := newTestBroker(t, cfg)
	m := newDLQManager(b)
	ctx := context.Background()

	sink := &fakeArchiveSink{name: "fake"}
	recorder := &fakeManifestRecorder{}
	m.AddSink(sink)
	m.SetManifestRecorder(recorder)

	old := time.Now().Add(-2 * time.Hour).UnixMilli()
	addDLQEntry(t, ctx, client, "orders.created", "old", old)

	_, err := m.Cleanup(ctx)
	require.NoError(t, err)

	require.Len(t, sink.archived, 1)
	// One manifest record for the Redis sink, one for the fake sink.
	require.Len(t, recorder.batches, 2)
}

func TestDLQManager_SetAlerter_FiresAboveThreshold(t *testing.T) {
	// MaxAge keeps the just-added entries from being age-trimmed before the
	// depth check; a zero MaxAge trims everything older than the sweep.
	b, client, _ := newTestBroker(t, Config{DLQ: DLQConfig{MaxAge: time.Hour}})
	m := newDLQManager(b)
	ctx := context.Background()

	alerter := &fakeAlerter{}
	m.SetAlerter(alerter, 2)

	addDLQEntry(t, ctx, client, "orders.created", "p1", time.Now().UnixMilli())
	addDLQEntry(t, ctx, client, "orders.created", "p2", time.Now().UnixMilli())

	_, err := m.Cleanup(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), alerter.calls)
	require.Equal(t, int64(2), alerter.lastDepth)
}

func TestDLQManager_SetAlerter_SilentBelowThreshold(t *testing.T) {
	b, client, _ := newTestBroker(t, Config{})
	m := newDLQManager(b)
	ctx := context.Background()

	alerter := &fakeAlerter{}
	m.SetAlerter(alerter, 5)

	addDLQEntry(t, ctx, client, "orders.created", "p1", time.Now().UnixMilli())

	_, err := m.Cleanup(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), alerter.calls)
}

type fakeArchiveSink struct {
	name     string
	archived [][]DLQMessage
}

func (f *fakeArchiveSink) Name() string { return f.name }

func (f *fakeArchiveSink) Archive(_ context.Context, entries []DLQMessage) error {
	f.archived = append(f.archived, entries)
	return nil
}

type fakeManifestRecorder struct {
	batches []string
}

func (f *fakeManifestRecorder) RecordBatch(_ context.Context, sink string, _ int, _, _ int64) error {
	f.batches = append(f.batches, sink)
	return nil
}

type fakeAlerter struct {
	calls     int64
	lastDepth int64
}

func (f *fakeAlerter) Alert(_ context.Context, depth int64) error {
	f.calls++
	f.lastDepth = depth
	return nil
}
