// Package counter implements sharded aggregate counters.
//
// A hot aggregate (daily usage, per-scope event totals) written through a
// single row becomes a write hot-partition. The counter splits each
// aggregate across N physical partitions; writers touch one partition,
// readers scatter-gather and sum. The sum across all partitions for a
// fixed (prefix, periodNum, scope) always equals the true aggregate — no
// single partition needs global knowledge.
package counter

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sparkboardhq/sparkboard/config"
	"github.com/sparkboardhq/sparkboard/internal/cache"
	"github.com/sparkboardhq/sparkboard/kv"
	"github.com/sparkboardhq/sparkboard/model"
)

const (
	defaultDedupeCapacity = 100_000
	maxShardCount         = 512
)

// Counter records and reads sharded aggregates on the primary store.
// Safe for concurrent use.
type Counter struct {
	store  kv.Store
	cfg    *config.Runtime
	logger *slog.Logger

	// dedupe is a fast negative cache over (scope, prefix, periodNum,
	// target); the durable idempotency row remains the source of truth.
	dedupe *cache.LRU[struct{}]

	// now and pick are swappable for tests.
	now  func() time.Time
	pick func(n int) int
}

// New creates a Counter. A nil dedupe cache gets default bounds; a nil
// logger discards.
func New(store kv.Store, cfg *config.Runtime, dedupe *cache.LRU[struct{}], logger *slog.Logger) *Counter {
	if dedupe == nil {
		dedupe = cache.NewLRU[struct{}](defaultDedupeCapacity, time.Hour)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Counter{
		store:  store,
		cfg:    cfg,
		logger: logger,
		dedupe: dedupe,
		now:    time.Now,
		pick:   rand.Intn,
	}
}

func seenKey(scope model.Scope, prefix string, periodNum int64, targetID string) kv.Key {
	return kv.Key{
		PK: fmt.Sprintf("%s/counter-seen", scope),
		SK: fmt.Sprintf("%s#%d#%s", prefix, periodNum, targetID),
	}
}

func shardKey(scope model.Scope, prefix string, periodNum int64, shard int) kv.Key {
	return kv.Key{
		PK: fmt.Sprintf("%s/counter#%03d", scope, shard),
		SK: fmt.Sprintf("%s#%d", prefix, periodNum),
	}
}

// deterministicShard picks the partition by consistent hash of the scope,
// keeping reads for deterministic keys to a single partition.
func deterministicShard(scope model.Scope, shardCount int) int {
	h := fnv.New32a()
	h.Write([]byte(scope))
	return int(h.Sum32()) % shardCount
}

// Record counts one logical event identified by targetID within a period.
//
// The event is deduplicated twice: a fast negative cache, then a durable
// idempotency row written with a not-exists precondition. A duplicate
// returns counted == false and mutates nothing. The returned count is the
// new value of the chosen shard, not the whole aggregate.
//
// useRandomSharding picks the partition uniformly at random (spreads hot
// keys); false uses the consistent hash of the scope (keeps reads to one
// partition). The policy may change over a counter's lifetime; the read
// path supports both simultaneously.
func (c *Counter) Record(ctx context.Context, scope model.Scope, prefix string, period time.Duration, periodNum int64, targetID string, useRandomSharding bool) (int64, bool, error) {
	snap := c.cfg.Snapshot()
	shardCount := effectiveShardCount(snap.ShardCount)

	seen := seenKey(scope, prefix, periodNum, targetID)
	cacheKey := seen.PK + "|" + seen.SK
	if _, hit := c.dedupe.Get(cacheKey); hit {
		return 0, false, nil
	}

	ttl := c.now().Add(time.Duration(snap.RetentionMultiplier) * period).Unix()

	// Durable idempotency record: created exactly once per logical event.
	err := c.store.Put(ctx, kv.Put{
		Key:        seen,
		Attributes: kv.Attributes{"ttl": ttl},
		Condition:  kv.ConditionNotExists,
	})
	if errors.Is(err, kv.ErrConflict) {
		c.dedupe.Set(cacheKey, struct{}{})
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("counter: idempotency record: %w", err)
	}
	c.dedupe.Set(cacheKey, struct{}{})

	shard := deterministicShard(scope, shardCount)
	if useRandomSharding {
		shard = c.pick(shardCount)
	}

	attrs, err := c.store.Update(ctx, kv.Update{
		Key: shardKey(scope, prefix, periodNum, shard),
		Add: map[string]int64{"count": 1},
		Set: kv.Attributes{"ttl": ttl},
	})
	if err != nil {
		return 0, false, fmt.Errorf("counter: increment shard %d: %w", shard, err)
	}
	return attrs.Int("count"), true, nil
}

// Fetch reads the aggregate for (scope, prefix, periodNum).
//
// If the partition policy for this counter was ever non-deterministic
// (useRandomSharding), or the read-all-shards override is on, Fetch
// scatter-gathers every partition in parallel and sums. Otherwise it reads
// the single deterministic partition.
func (c *Counter) Fetch(ctx context.Context, scope model.Scope, prefix string, periodNum int64, useRandomSharding bool) (int64, error) {
	snap := c.cfg.Snapshot()
	shardCount := effectiveShardCount(snap.ShardCount)

	if !useRandomSharding && !snap.ReadAllShards {
		shard := deterministicShard(scope, shardCount)
		attrs, err := c.store.Get(ctx, shardKey(scope, prefix, periodNum, shard))
		if errors.Is(err, kv.ErrNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("counter: read shard %d: %w", shard, err)
		}
		return attrs.Int("count"), nil
	}

	counts := make([]int64, shardCount)
	g, gctx := errgroup.WithContext(ctx)
	for shard := 0; shard < shardCount; shard++ {
		g.Go(func() error {
			attrs, err := c.store.Get(gctx, shardKey(scope, prefix, periodNum, shard))
			if errors.Is(err, kv.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("counter: read shard %d: %w", shard, err)
			}
			counts[shard] = attrs.Int("count")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	return total, nil
}

func effectiveShardCount(n int) int {
	if n < 1 {
		return 1
	}
	if n > maxShardCount {
		return maxShardCount
	}
	return n
}
