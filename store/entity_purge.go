package store

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"github.com/sparkboardhq/sparkboard/kv"
	"github.com/sparkboardhq/sparkboard/model"
	"github.com/sparkboardhq/sparkboard/search"
)

const purgePageSize = 100

// Purge removes every entity of this family under the given scope. Primary
// rows are deleted in bounded batches; unprocessed subsets are retried a
// limited number of times with pacing, and anything still unprocessed is
// reported as a PartialBatchError. Index retraction runs in the
// background via the returned Future.
func (s *EntityStore[T]) Purge(ctx context.Context, scope model.Scope) (int, *Future, error) {
	pk := s.partition(scope)

	var (
		deleted int
		ids     []model.ID
		startSK string
	)
	for {
		page, err := s.kv.Query(ctx, kv.Query{
			PK:               pk,
			Limit:            purgePageSize,
			ExclusiveStartSK: startSK,
		})
		if err != nil {
			return deleted, nil, err
		}

		keys := make([]kv.Key, len(page.Items))
		for i, item := range page.Items {
			keys[i] = item.Key
			ids = append(ids, model.ID(item.Key.SK))
		}
		if err := drainBatchDelete(ctx, s.kv, s.retryLimiter, keys); err != nil {
			return deleted, nil, err
		}
		deleted += len(keys)

		if !page.More {
			break
		}
		startSK = page.LastSK
	}

	return deleted, s.retractAsync(scope, ids), nil
}

// drainBatchDelete drives kv.BatchDelete to completion over the
// unprocessed subsets it returns, pacing retries through the limiter.
// Retries are bounded; whatever is still unprocessed after the budget is
// reported as a PartialBatchError.
func drainBatchDelete(ctx context.Context, store kv.Store, limiter *rate.Limiter, keys []kv.Key) error {
	remaining := keys
	for attempt := 0; len(remaining) > 0; attempt++ {
		if attempt > 0 {
			if attempt > maxBatchRetries {
				return &PartialBatchError{Op: "delete", Unprocessed: remaining}
			}
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}

		unprocessed, err := store.BatchDelete(ctx, remaining)
		if err != nil {
			return err
		}
		remaining = unprocessed
	}
	return nil
}

func (s *EntityStore[T]) retractAsync(scope model.Scope, ids []model.ID) *Future {
	f := newFuture()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		defer cancel()

		var firstErr error
		for _, id := range ids {
			err := s.index.Delete(ctx, scope, s.desc.Kind, id, search.RefreshEventual)
			if err != nil && !errors.Is(err, search.ErrNotFound) && firstErr == nil {
				s.logger.Error("index retraction failed", "id", string(id), "error", err)
				firstErr = err
			}
		}
		f.resolve(firstErr)
	}()
	return f
}
