package sparkboard

import (
	"log/slog"
	"time"

	"github.com/sparkboardhq/sparkboard/archive"
	"github.com/sparkboardhq/sparkboard/codec"
	"github.com/sparkboardhq/sparkboard/config"
	"github.com/sparkboardhq/sparkboard/kv"
	"github.com/sparkboardhq/sparkboard/search"
)

type options struct {
	store        kv.Store
	index        search.Index
	codec        codec.Codec
	logger       *Logger
	cfg          *config.Runtime
	cursorSecret []byte

	archiveStore archive.Store
	archiveComp  archive.Compression

	dedupeCapacity int
	dedupeTTL      time.Duration
}

// Option configures Engine construction.
type Option func(*options)

// WithStore configures the primary key-value store. Defaults to an
// in-memory store, which is suitable only for tests and local
// development.
func WithStore(s kv.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithIndex configures the search index. Defaults to the in-memory
// index.
func WithIndex(ix search.Index) Option {
	return func(o *options) {
		o.index = ix
	}
}

// WithCodec configures the codec used for entity blobs and cursor
// positions.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCursorSecret configures the process-wide secret sealing pagination
// cursors. Rotating the secret invalidates every outstanding cursor;
// callers then restart pagination from the beginning. Without this
// option a random per-process secret is used, so cursors do not survive
// a restart.
func WithCursorSecret(secret []byte) Option {
	return func(o *options) {
		o.cursorSecret = secret
	}
}

// WithConfig configures the hot-reloadable runtime settings (confidence
// level, shard count, sharding policy, filter sizing).
func WithConfig(cfg *config.Runtime) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithArchive configures the destination and compression for scope
// exports. A nil compression defaults to s2. Without an archive store,
// DestroyScope refuses to run.
func WithArchive(store archive.Store, comp archive.Compression) Option {
	return func(o *options) {
		o.archiveStore = store
		o.archiveComp = comp
	}
}

// WithDedupeCache sizes the usage counter's negative cache.
func WithDedupeCache(capacity int, ttl time.Duration) Option {
	return func(o *options) {
		o.dedupeCapacity = capacity
		o.dedupeTTL = ttl
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:         NoopLogger(),
		dedupeCapacity: 4096,
		dedupeTTL:      10 * time.Minute,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
