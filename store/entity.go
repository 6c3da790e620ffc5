package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/sparkboardhq/sparkboard/codec"
	"github.com/sparkboardhq/sparkboard/cursor"
	"github.com/sparkboardhq/sparkboard/kv"
	"github.com/sparkboardhq/sparkboard/model"
	"github.com/sparkboardhq/sparkboard/search"
)

const (
	// attrData holds the codec-encoded entity blob. Aggregate attributes
	// live beside it and are the authoritative values; the copies inside
	// the blob go stale and are overlaid on read.
	attrData = "data"

	// maxBatchRetries bounds the retry loop over unprocessed batch items.
	maxBatchRetries = 5

	indexTimeout = 30 * time.Second
)

// Descriptor tells the generic entity store how to persist and project one
// entity family. Each concrete store supplies only this plus its own
// query-building logic — the dual-store write path is shared.
type Descriptor[T any] struct {
	Kind model.Kind

	// Scope and ID extract the composite key parts.
	Scope func(T) model.Scope
	ID    func(T) model.ID

	// Project derives the write-only index document. Only
	// correctness-insensitive fields may appear: search/sort/filter data,
	// never authorization or balance truth.
	Project func(T) search.Fields

	// Aggregates names the numeric attributes maintained via atomic
	// increments. They start at zero on create and are overlaid onto the
	// decoded entity on every read.
	Aggregates []string

	// Overlay copies authoritative aggregate attributes onto a decoded
	// entity. May be nil when the family has no aggregates.
	Overlay func(*T, kv.Attributes)
}

// EntityStore is the generic dual-store pattern: synchronous conditional
// writes to the primary store, asynchronous projection into the search
// index, reads that never trust index-stored fields.
type EntityStore[T any] struct {
	desc    Descriptor[T]
	kv      kv.Store
	index   search.Index
	cursors *cursor.Codec
	codec   codec.Codec
	logger  *slog.Logger

	// retryLimiter paces retries of unprocessed batch subsets.
	retryLimiter *rate.Limiter
}

// NewEntityStore wires one entity family. A nil codec falls back to the
// package default; a nil logger discards.
func NewEntityStore[T any](desc Descriptor[T], store kv.Store, index search.Index, cursors *cursor.Codec, c codec.Codec, logger *slog.Logger) *EntityStore[T] {
	if c == nil {
		c = codec.Default
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &EntityStore[T]{
		desc:         desc,
		kv:           store,
		index:        index,
		cursors:      cursors,
		codec:        c,
		logger:       logger.With("kind", string(desc.Kind)),
		retryLimiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
	}
}

func (s *EntityStore[T]) partition(scope model.Scope) string {
	return fmt.Sprintf("%s/%s", scope, s.desc.Kind)
}

func (s *EntityStore[T]) key(scope model.Scope, id model.ID) kv.Key {
	return kv.Key{PK: s.partition(scope), SK: string(id)}
}

func (s *EntityStore[T]) encode(entity T) (kv.Attributes, error) {
	blob, err := s.codec.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("store: encode %s: %w", s.desc.Kind, err)
	}
	attrs := kv.Attributes{attrData: blob}
	for _, name := range s.desc.Aggregates {
		attrs[name] = int64(0)
	}
	return attrs, nil
}

func (s *EntityStore[T]) decode(attrs kv.Attributes) (T, error) {
	var entity T
	if err := s.codec.Unmarshal(attrs.Bytes(attrData), &entity); err != nil {
		return entity, fmt.Errorf("store: decode %s: %w", s.desc.Kind, err)
	}
	if s.desc.Overlay != nil {
		s.desc.Overlay(&entity, attrs)
	}
	return entity, nil
}

// Create writes a new entity. The primary write is conditional on the key
// being absent; losing that race returns kv.ErrConflict and changes
// nothing. The index projection is issued asynchronously and reported via
// the returned Future.
func (s *EntityStore[T]) Create(ctx context.Context, entity T) (*Future, error) {
	attrs, err := s.encode(entity)
	if err != nil {
		return nil, err
	}

	err = s.kv.Put(ctx, kv.Put{
		Key:        s.key(s.desc.Scope(entity), s.desc.ID(entity)),
		Attributes: attrs,
		Condition:  kv.ConditionNotExists,
	})
	if err != nil {
		return nil, err
	}

	return s.indexAsync(entity), nil
}

// CreateTx writes a new entity plus secondary records (identifier → id
// lookups) in one all-or-nothing transaction. A uniqueness violation on
// any record surfaces as kv.ErrConflict and leaves no partial state.
func (s *EntityStore[T]) CreateTx(ctx context.Context, entity T, secondary []kv.Put) (*Future, error) {
	attrs, err := s.encode(entity)
	if err != nil {
		return nil, err
	}

	puts := append([]kv.Put{{
		Key:        s.key(s.desc.Scope(entity), s.desc.ID(entity)),
		Attributes: attrs,
		Condition:  kv.ConditionNotExists,
	}}, secondary...)

	if err := s.kv.TransactPut(ctx, puts); err != nil {
		return nil, err
	}
	return s.indexAsync(entity), nil
}

// Get reads one entity from the primary store.
func (s *EntityStore[T]) Get(ctx context.Context, scope model.Scope, id model.ID) (T, error) {
	var zero T
	attrs, err := s.kv.Get(ctx, s.key(scope, id))
	if err != nil {
		return zero, err
	}
	return s.decode(attrs)
}

// BatchGet hydrates entities for the given identifiers in one batched
// primary-store read, preserving the input order. Missing identifiers are
// skipped.
func (s *EntityStore[T]) BatchGet(ctx context.Context, scope model.Scope, ids []model.ID) ([]T, error) {
	keys := make([]kv.Key, len(ids))
	for i, id := range ids {
		keys[i] = s.key(scope, id)
	}

	found, err := s.kv.BatchGet(ctx, keys)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(ids))
	for i, id := range ids {
		attrs, ok := found[keys[i]]
		if !ok {
			s.logger.Warn("hydration miss", "id", string(id))
			continue
		}
		entity, err := s.decode(attrs)
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

// Update rewrites an existing entity's static fields, conditional on the
// key being present. Aggregate attributes are untouched: they live outside
// the entity blob and remain authoritative.
func (s *EntityStore[T]) Update(ctx context.Context, entity T) (*Future, error) {
	blob, err := s.codec.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("store: encode %s: %w", s.desc.Kind, err)
	}

	_, err = s.kv.Update(ctx, kv.Update{
		Key:       s.key(s.desc.Scope(entity), s.desc.ID(entity)),
		Set:       kv.Attributes{attrData: blob},
		Condition: kv.ConditionExists,
	})
	if err != nil {
		return nil, err
	}
	return s.indexAsync(entity), nil
}

// Increment atomically adds deltas to aggregate attributes and returns the
// record's new attributes. The entity must exist; incrementing a missing
// entity reports kv.ErrNotFound.
func (s *EntityStore[T]) Increment(ctx context.Context, scope model.Scope, id model.ID, deltas map[string]int64) (kv.Attributes, error) {
	attrs, err := s.kv.Update(ctx, kv.Update{
		Key:       s.key(scope, id),
		Add:       deltas,
		Condition: kv.ConditionExists,
	})
	if errors.Is(err, kv.ErrConflict) {
		return nil, kv.ErrNotFound
	}
	return attrs, err
}

// Delete removes one entity and asynchronously retracts its index
// document. Deleting an absent entity is a no-op.
func (s *EntityStore[T]) Delete(ctx context.Context, scope model.Scope, id model.ID) (*Future, error) {
	if err := s.kv.Delete(ctx, s.key(scope, id)); err != nil {
		return nil, err
	}
	return s.deleteIndexAsync(scope, id), nil
}
