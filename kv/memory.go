package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
)

const (
	defaultQueryLimit = 100
	// memoryBatchBound mirrors the DynamoDB batch-write bound so retry
	// loops are exercised the same way against both backends.
	memoryBatchBound = 25
)

// MemoryStore is an in-memory Store backed by Go maps. It is the backend
// for tests and local development and implements the full conditional-write
// and pagination contract.
type MemoryStore struct {
	mu         sync.RWMutex
	partitions map[string]map[string]Attributes
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		partitions: make(map[string]map[string]Attributes),
	}
}

// Get returns the record at key, or ErrNotFound.
func (m *MemoryStore) Get(ctx context.Context, key Key) (Attributes, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if attrs, ok := m.partitions[key.PK][key.SK]; ok {
		return attrs.Clone(), nil
	}
	return nil, ErrNotFound
}

// Put writes a full record, honoring the condition.
func (m *MemoryStore) Put(ctx context.Context, put Put) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.putLocked(put)
}

func (m *MemoryStore) putLocked(put Put) error {
	part := m.partitions[put.Key.PK]
	_, exists := part[put.Key.SK]

	switch put.Condition {
	case ConditionNotExists:
		if exists {
			return ErrConflict
		}
	case ConditionExists:
		if !exists {
			return ErrConflict
		}
	}

	if part == nil {
		part = make(map[string]Attributes)
		m.partitions[put.Key.PK] = part
	}
	part[put.Key.SK] = put.Attributes.Clone()
	return nil
}

// Update applies a partial write and returns the new attributes.
func (m *MemoryStore) Update(ctx context.Context, update Update) (Attributes, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	part := m.partitions[update.Key.PK]
	attrs, exists := part[update.Key.SK]

	switch update.Condition {
	case ConditionNotExists:
		if exists {
			return nil, ErrConflict
		}
	case ConditionExists:
		if !exists {
			return nil, ErrConflict
		}
	}

	if !exists {
		attrs = make(Attributes)
		if part == nil {
			part = make(map[string]Attributes)
			m.partitions[update.Key.PK] = part
		}
		part[update.Key.SK] = attrs
	}

	for k, v := range update.Set {
		attrs[k] = v
	}
	for k, delta := range update.Add {
		attrs[k] = attrs.Int(k) + delta
	}
	return attrs.Clone(), nil
}

// Delete removes the record at key. Absent keys are a no-op.
func (m *MemoryStore) Delete(ctx context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.partitions[key.PK], key.SK)
	return nil
}

// BatchGet returns records for the given keys; missing keys are skipped.
func (m *MemoryStore) BatchGet(ctx context.Context, keys []Key) (map[Key]Attributes, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[Key]Attributes, len(keys))
	for _, key := range keys {
		if attrs, ok := m.partitions[key.PK][key.SK]; ok {
			out[key] = attrs.Clone()
		}
	}
	return out, nil
}

// BatchDelete removes up to the batch bound of keys and returns the
// unprocessed remainder.
func (m *MemoryStore) BatchDelete(ctx context.Context, keys []Key) ([]Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(keys)
	if n > memoryBatchBound {
		n = memoryBatchBound
	}
	for _, key := range keys[:n] {
		delete(m.partitions[key.PK], key.SK)
	}
	if n < len(keys) {
		return keys[n:], nil
	}
	return nil, nil
}

// Query reads a page of records from one partition in sort-key order.
func (m *MemoryStore) Query(ctx context.Context, q Query) (Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	part := m.partitions[q.PK]
	sks := make([]string, 0, len(part))
	for sk := range part {
		if q.SKPrefix != "" && !strings.HasPrefix(sk, q.SKPrefix) {
			continue
		}
		sks = append(sks, sk)
	}
	sort.Strings(sks)
	if q.Reverse {
		for i, j := 0, len(sks)-1; i < j; i, j = i+1, j-1 {
			sks[i], sks[j] = sks[j], sks[i]
		}
	}

	// Skip to the exclusive start position.
	start := 0
	if q.ExclusiveStartSK != "" {
		for i, sk := range sks {
			if sk == q.ExclusiveStartSK {
				start = i + 1
				break
			}
			if (!q.Reverse && sk > q.ExclusiveStartSK) || (q.Reverse && sk < q.ExclusiveStartSK) {
				start = i
				break
			}
			start = i + 1
		}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	var page Page
	for i := start; i < len(sks); i++ {
		if len(page.Items) == limit {
			page.More = true
			break
		}
		sk := sks[i]
		page.Items = append(page.Items, Item{
			Key:        Key{PK: q.PK, SK: sk},
			Attributes: part[sk].Clone(),
		})
		page.LastSK = sk
	}
	if !page.More {
		page.LastSK = ""
	}
	return page, nil
}

// TransactPut applies all puts atomically. Conditions are checked before
// any write; a violation fails the whole batch with ErrConflict.
func (m *MemoryStore) TransactPut(ctx context.Context, puts []Put) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, put := range puts {
		_, exists := m.partitions[put.Key.PK][put.Key.SK]
		switch put.Condition {
		case ConditionNotExists:
			if exists {
				return ErrConflict
			}
		case ConditionExists:
			if !exists {
				return ErrConflict
			}
		}
	}

	for _, put := range puts {
		put.Condition = ConditionNone
		if err := m.putLocked(put); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the total number of records across all partitions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, part := range m.partitions {
		n += len(part)
	}
	return n
}

var _ Store = (*MemoryStore)(nil)
