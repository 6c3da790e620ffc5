// Package sparkboard is the storage and query core of a community ideas
// platform. It keeps an authoritative key-value store and a derived
// search index eventually consistent under concurrent writes: mutations
// commit to the primary store synchronously and propagate to the index
// asynchronously, surfaced to callers as a completion future.
package sparkboard

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/sparkboardhq/sparkboard/archive"
	"github.com/sparkboardhq/sparkboard/config"
	"github.com/sparkboardhq/sparkboard/counter"
	"github.com/sparkboardhq/sparkboard/cursor"
	"github.com/sparkboardhq/sparkboard/internal/cache"
	"github.com/sparkboardhq/sparkboard/kv"
	"github.com/sparkboardhq/sparkboard/model"
	"github.com/sparkboardhq/sparkboard/search"
	"github.com/sparkboardhq/sparkboard/search/memindex"
	"github.com/sparkboardhq/sparkboard/store"
)

// ErrNoArchive is returned by DestroyScope when no archive destination
// is configured; a scope may not be destroyed without an export.
var ErrNoArchive = errors.New("sparkboard: no archive store configured")

// Engine wires the entity stores, the usage counter and the scope
// archive over one primary store and one search index.
type Engine struct {
	Accounts *store.AccountStore
	Users    *store.UserStore
	Ideas    *store.IdeaStore
	Comments *store.CommentStore
	Sessions *store.SessionStore

	kv       kv.Store
	index    search.Index
	cfg      *config.Runtime
	usage    *counter.Counter
	exporter *archive.Exporter
	logger   *Logger
}

// New creates an Engine. With no options it runs fully in memory.
func New(optFns ...Option) (*Engine, error) {
	o := applyOptions(optFns)

	if o.store == nil {
		o.store = kv.NewMemoryStore()
	}
	if o.index == nil {
		o.index = memindex.New()
	}
	if o.cfg == nil {
		o.cfg = config.New()
	}
	if len(o.cursorSecret) == 0 {
		o.cursorSecret = make([]byte, 32)
		if _, err := rand.Read(o.cursorSecret); err != nil {
			return nil, fmt.Errorf("sparkboard: generate cursor secret: %w", err)
		}
	}

	cursors, err := cursor.NewCodec(o.cursorSecret)
	if err != nil {
		return nil, err
	}

	slogger := o.logger.Logger

	sessions := store.NewSessionStore(o.store, o.codec, slogger)
	users := store.NewUserStore(o.store, o.index, cursors, o.codec, o.cfg, slogger)
	ideas := store.NewIdeaStore(o.store, o.index, cursors, o.codec, users, o.cfg, slogger)

	e := &Engine{
		Accounts: store.NewAccountStore(o.store, o.index, cursors, o.codec, sessions, slogger),
		Users:    users,
		Ideas:    ideas,
		Comments: store.NewCommentStore(o.store, o.index, cursors, o.codec, users, ideas, o.cfg, slogger),
		Sessions: sessions,
		kv:       o.store,
		index:    o.index,
		cfg:      o.cfg,
		usage: counter.New(o.store, o.cfg,
			cache.NewLRU[struct{}](o.dedupeCapacity, o.dedupeTTL), slogger),
		logger: o.logger,
	}
	if o.archiveStore != nil {
		e.exporter = archive.NewExporter(o.store, o.archiveStore, o.archiveComp, o.codec, slogger)
	}
	return e, nil
}

// Config returns the hot-reloadable runtime settings.
func (e *Engine) Config() *config.Runtime {
	return e.cfg
}

// RecordUsage counts one logical usage event identified by targetID
// within the period. Duplicates of the same event are counted once;
// counted reports whether this call was the one that counted. The
// sharding policy follows the current runtime settings.
func (e *Engine) RecordUsage(ctx context.Context, scope model.Scope, prefix string, period time.Duration, periodNum int64, targetID string) (int64, bool, error) {
	random := e.cfg.Snapshot().RandomSharding
	count, counted, err := e.usage.Record(ctx, scope, prefix, period, periodNum, targetID, random)
	if err != nil {
		return 0, false, err
	}
	e.logger.LogUsage(ctx, prefix, periodNum, counted)
	return count, counted, nil
}

// FetchUsage returns the aggregate usage count for a period.
func (e *Engine) FetchUsage(ctx context.Context, scope model.Scope, prefix string, periodNum int64) (int64, error) {
	random := e.cfg.Snapshot().RandomSharding
	return e.usage.Fetch(ctx, scope, prefix, periodNum, random)
}

// scopePartitions lists every primary-store partition belonging to a
// scope, counter shards included.
func (e *Engine) scopePartitions(scope model.Scope) []string {
	parts := []string{
		fmt.Sprintf("%s/%s", scope, model.KindAccount),
		fmt.Sprintf("%s/%s", scope, model.KindUser),
		fmt.Sprintf("%s/%s", scope, model.KindIdea),
		fmt.Sprintf("%s/%s", scope, model.KindComment),
		fmt.Sprintf("%s/%s", scope, model.KindEngagement),
		fmt.Sprintf("%s/%s", scope, model.KindSession),
		fmt.Sprintf("%s/user-by-handle", scope),
		fmt.Sprintf("%s/user-by-email", scope),
		fmt.Sprintf("%s/counter-seen", scope),
	}
	for shard := 0; shard < e.cfg.Snapshot().ShardCount; shard++ {
		parts = append(parts, fmt.Sprintf("%s/counter#%03d", scope, shard))
	}
	return parts
}

// ExportScope streams every record of the scope into the archive store
// and returns the blob name plus record count.
func (e *Engine) ExportScope(ctx context.Context, scope model.Scope) (string, int, error) {
	if e.exporter == nil {
		return "", 0, ErrNoArchive
	}
	name, records, err := e.exporter.Export(ctx, scope, e.scopePartitions(scope))
	e.logger.LogExport(ctx, name, records, err)
	return name, records, err
}

// RestoreScope reads an export blob back into the primary store.
// Restored entities are not re-indexed automatically; reindexing is a
// separate administrative step.
func (e *Engine) RestoreScope(ctx context.Context, blob string) (int, error) {
	if e.exporter == nil {
		return 0, ErrNoArchive
	}
	return e.exporter.Restore(ctx, blob)
}

// DestroyScope exports the scope to the archive, then deletes every
// record and index document belonging to it. This is the only path that
// may touch a whole scope at once, and it still proceeds partition by
// partition in bounded batches.
func (e *Engine) DestroyScope(ctx context.Context, scope model.Scope) (int, error) {
	if _, _, err := e.ExportScope(ctx, scope); err != nil {
		return 0, err
	}

	deleted := 0
	for _, pk := range e.scopePartitions(scope) {
		n, err := e.purgePartition(ctx, pk)
		deleted += n
		if err != nil {
			e.logger.LogDestroy(ctx, string(scope), deleted, err)
			return deleted, err
		}
	}

	if err := e.index.DeleteByScope(ctx, scope); err != nil {
		e.logger.LogDestroy(ctx, string(scope), deleted, err)
		return deleted, err
	}
	e.logger.LogDestroy(ctx, string(scope), deleted, nil)
	return deleted, nil
}

func (e *Engine) purgePartition(ctx context.Context, pk string) (int, error) {
	deleted := 0
	for {
		page, err := e.kv.Query(ctx, kv.Query{PK: pk, Limit: 100})
		if err != nil {
			return deleted, err
		}
		if len(page.Items) == 0 {
			return deleted, nil
		}

		keys := make([]kv.Key, len(page.Items))
		for i, item := range page.Items {
			keys[i] = item.Key
		}
		remaining := keys
		for attempt := 0; len(remaining) > 0; attempt++ {
			if attempt > 5 {
				return deleted, fmt.Errorf("sparkboard: purge %s: %d keys unprocessed", pk, len(remaining))
			}
			remaining, err = e.kv.BatchDelete(ctx, remaining)
			if err != nil {
				return deleted, err
			}
		}
		deleted += len(keys)

		if !page.More {
			return deleted, nil
		}
	}
}
