package counter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkboardhq/sparkboard/config"
	"github.com/sparkboardhq/sparkboard/internal/cache"
	"github.com/sparkboardhq/sparkboard/kv"
)

const day = 24 * time.Hour

func newTestCounter(opts ...config.Option) (*Counter, *kv.MemoryStore) {
	store := kv.NewMemoryStore()
	return New(store, config.New(opts...), nil, nil), store
}

func TestCounter_RecordAndFetch(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCounter(config.WithShardCount(4))

	n, counted, err := c.Record(ctx, "scope-a", "api-calls", day, 19900, "evt-1", false)
	require.NoError(t, err)
	require.True(t, counted)
	assert.Equal(t, int64(1), n)

	total, err := c.Fetch(ctx, "scope-a", "api-calls", 19900, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestCounter_DeduplicatesByTarget(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCounter(config.WithShardCount(4))

	_, counted, err := c.Record(ctx, "scope-a", "api-calls", day, 19900, "evt-1", false)
	require.NoError(t, err)
	require.True(t, counted)

	// Same logical event is not double counted.
	_, counted, err = c.Record(ctx, "scope-a", "api-calls", day, 19900, "evt-1", false)
	require.NoError(t, err)
	assert.False(t, counted)

	// Same target in a different period counts again.
	_, counted, err = c.Record(ctx, "scope-a", "api-calls", day, 19901, "evt-1", false)
	require.NoError(t, err)
	assert.True(t, counted)
}

func TestCounter_DurableDedupSurvivesCacheLoss(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	cfg := config.New(config.WithShardCount(4))

	a := New(store, cfg, cache.NewLRU[struct{}](10, time.Hour), nil)
	_, counted, err := a.Record(ctx, "scope-a", "api-calls", day, 19900, "evt-1", false)
	require.NoError(t, err)
	require.True(t, counted)

	// Fresh instance, empty cache: the durable row still blocks the repeat.
	b := New(store, cfg, cache.NewLRU[struct{}](10, time.Hour), nil)
	_, counted, err = b.Record(ctx, "scope-a", "api-calls", day, 19900, "evt-1", false)
	require.NoError(t, err)
	assert.False(t, counted)
}

func TestCounter_ShardConservation(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCounter(config.WithShardCount(8), config.WithReadAllShards(true))

	// Mixed partition policies over the counter's lifetime.
	accepted := 0
	for i := 0; i < 200; i++ {
		random := i%3 == 0
		_, counted, err := c.Record(ctx, "scope-a", "events", day, 19900, fmt.Sprintf("evt-%d", i), random)
		require.NoError(t, err)
		if counted {
			accepted++
		}
	}
	require.Equal(t, 200, accepted)

	// Read-all-shards sums exactly the accepted records.
	total, err := c.Fetch(ctx, "scope-a", "events", 19900, false)
	require.NoError(t, err)
	assert.Equal(t, int64(200), total)
}

func TestCounter_RandomShardingSpreadsWrites(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCounter(config.WithShardCount(4))

	// Round-robin "random" picks for determinism.
	next := 0
	c.pick = func(n int) int {
		next = (next + 1) % n
		return next
	}

	for i := 0; i < 40; i++ {
		_, _, err := c.Record(ctx, "scope-a", "events", day, 19900, fmt.Sprintf("evt-%d", i), true)
		require.NoError(t, err)
	}

	// More than one physical partition was written.
	touched := 0
	for shard := 0; shard < 4; shard++ {
		if _, err := store.Get(ctx, shardKey("scope-a", "events", 19900, shard)); err == nil {
			touched++
		}
	}
	assert.Greater(t, touched, 1)

	// Random policy forces scatter-gather on read.
	total, err := c.Fetch(ctx, "scope-a", "events", 19900, true)
	require.NoError(t, err)
	assert.Equal(t, int64(40), total)
}

func TestCounter_DeterministicReadSingleShard(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCounter(config.WithShardCount(8))

	for i := 0; i < 10; i++ {
		_, _, err := c.Record(ctx, "scope-a", "events", day, 19900, fmt.Sprintf("evt-%d", i), false)
		require.NoError(t, err)
	}

	total, err := c.Fetch(ctx, "scope-a", "events", 19900, false)
	require.NoError(t, err)
	assert.Equal(t, int64(10), total)
}

func TestCounter_ReadAllShardsOverride(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	cfg := config.New(config.WithShardCount(4))
	c := New(store, cfg, nil, nil)

	// Writes land on random shards while the key claims deterministic
	// reads — the migration-window scenario.
	next := 0
	c.pick = func(n int) int {
		next = (next + 1) % n
		return next
	}
	for i := 0; i < 20; i++ {
		_, _, err := c.Record(ctx, "scope-a", "events", day, 19900, fmt.Sprintf("evt-%d", i), true)
		require.NoError(t, err)
	}

	// Hot-reload the override; deterministic reads now scatter-gather.
	cfg.Update(func(s *config.Settings) { s.ReadAllShards = true })
	total, err := c.Fetch(ctx, "scope-a", "events", 19900, false)
	require.NoError(t, err)
	assert.Equal(t, int64(20), total)
}

func TestCounter_TTLOutlivesPeriod(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCounter(config.WithShardCount(1))

	base := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return base }

	_, _, err := c.Record(ctx, "scope-a", "events", day, 19900, "evt-1", false)
	require.NoError(t, err)

	attrs, err := store.Get(ctx, shardKey("scope-a", "events", 19900, 0))
	require.NoError(t, err)

	// Default retention multiplier is 3 periods.
	assert.Equal(t, base.Add(3*day).Unix(), attrs.Int("ttl"))
}
