// Package kv defines the primary key-value store: the authoritative,
// scope-partitioned record store behind every entity family.
//
// The store exposes point get/put/update/delete by composite key, bounded
// batch get/delete, and range queries by partition plus sort-key prefix
// with reverse ordering and exclusive-start pagination. Conditional
// expressions are the sole concurrency-control mechanism: creation requires
// "key absent", optimistic updates require "key present", and a violated
// condition surfaces as ErrConflict — never a silent overwrite.
package kv

import (
	"context"
	"errors"
)

var (
	// ErrConflict is returned when a conditional write loses: duplicate
	// key on creation, stale version on update, or a uniqueness violation
	// inside a transactional write.
	ErrConflict = errors.New("kv: conditional write failed")

	// ErrNotFound is returned when a key required to exist is absent.
	ErrNotFound = errors.New("kv: not found")
)

// Key is a composite (partition, sort) key. The partition key embeds the
// scope; no read or write can cross scopes.
type Key struct {
	PK string
	SK string
}

// Attributes is a flat attribute map for one record. Values are strings,
// int64s, float64s, bools or []byte — the subset every backend can store
// natively.
type Attributes map[string]any

// Clone returns a shallow copy of the attribute map.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Int returns the named attribute as an int64.
func (a Attributes) Int(name string) int64 {
	switch v := a[name].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// String returns the named attribute as a string.
func (a Attributes) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Bytes returns the named attribute as a byte slice.
func (a Attributes) Bytes(name string) []byte {
	b, _ := a[name].([]byte)
	return b
}

// Condition guards a write.
type Condition int

const (
	// ConditionNone applies the write unconditionally.
	ConditionNone Condition = iota
	// ConditionNotExists requires the key to be absent (creation).
	ConditionNotExists
	// ConditionExists requires the key to be present (update).
	ConditionExists
)

// Put is a full-record write.
type Put struct {
	Key        Key
	Attributes Attributes
	Condition  Condition
}

// Update is a partial-record write. Set overwrites attributes; Add
// atomically adds to numeric attributes, treating missing ones as zero.
// With ConditionNone an update upserts the record.
type Update struct {
	Key       Key
	Set       Attributes
	Add       map[string]int64
	Condition Condition
}

// Item is a stored record with its key.
type Item struct {
	Key        Key
	Attributes Attributes
}

// Query is a range read within one partition.
type Query struct {
	PK       string
	SKPrefix string
	// Reverse returns items in descending sort-key order.
	Reverse bool
	// Limit bounds the page size; 0 means backend default.
	Limit int
	// ExclusiveStartSK resumes after the given sort key.
	ExclusiveStartSK string
}

// Page is one page of query results. LastSK is set when more items may
// follow; pass it as ExclusiveStartSK to continue.
type Page struct {
	Items  []Item
	LastSK string
	More   bool
}

// Store is the primary store interface. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the record at key, or ErrNotFound.
	Get(ctx context.Context, key Key) (Attributes, error)

	// Put writes a full record, honoring the condition.
	Put(ctx context.Context, put Put) error

	// Update applies a partial write and returns the record's new
	// attributes.
	Update(ctx context.Context, update Update) (Attributes, error)

	// Delete removes the record at key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key Key) error

	// BatchGet returns the records for the given keys. Missing keys are
	// simply absent from the result.
	BatchGet(ctx context.Context, keys []Key) (map[Key]Attributes, error)

	// BatchDelete removes up to the backend's batch bound of keys and
	// returns the unprocessed remainder, which the caller retries.
	// Deleting already-deleted keys is a no-op, not an error.
	BatchDelete(ctx context.Context, keys []Key) (unprocessed []Key, err error)

	// Query reads a page of records from one partition.
	Query(ctx context.Context, q Query) (Page, error)

	// TransactPut writes all puts atomically, all-or-nothing. Any condition
	// violation fails the whole transaction with ErrConflict and leaves no
	// partial state.
	TransactPut(ctx context.Context, puts []Put) error
}
